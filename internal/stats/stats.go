package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

// Store persists pipeline statistics snapshots
type Store interface {
	StorePipelineStats(ctx context.Context, s types.PipelineStats) error
}

// Stats tracks ingest statistics
type Stats struct {
	chunks         atomic.Uint64
	bytes          atomic.Uint64
	groups         atomic.Uint64
	admitted       atomic.Uint64
	invalid        atomic.Uint64
	flushes        atomic.Uint64
	flushedRecords atomic.Uint64
	connects       atomic.Uint64
	disconnects    atomic.Uint64

	started time.Time

	mu             sync.RWMutex
	lastRecordTime time.Time
	store          Store
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{started: time.Now()}
}

// SetStore sets the backend used by Persist
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// IncChunks counts one received chunk of n bytes
func (s *Stats) IncChunks(n int) {
	s.chunks.Add(1)
	s.bytes.Add(uint64(n))
}

// IncGroups counts n tokenized message groups
func (s *Stats) IncGroups(n int) {
	s.groups.Add(uint64(n))
}

// IncAdmitted counts a record accepted into the hour buffer
func (s *Stats) IncAdmitted(reported time.Time) {
	s.admitted.Add(1)
	s.mu.Lock()
	if reported.After(s.lastRecordTime) {
		s.lastRecordTime = reported
	}
	s.mu.Unlock()
}

// IncInvalid counts a record rejected by the hour buffer
func (s *Stats) IncInvalid() {
	s.invalid.Add(1)
}

// IncFlushes counts one bucket flush of n records
func (s *Stats) IncFlushes(n int) {
	s.flushes.Add(1)
	s.flushedRecords.Add(uint64(n))
}

// IncConnects counts an entry into the streaming state
func (s *Stats) IncConnects() {
	s.connects.Add(1)
}

// IncDisconnects counts a lost connection
func (s *Stats) IncDisconnects() {
	s.disconnects.Add(1)
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() types.PipelineStats {
	s.mu.RLock()
	last := s.lastRecordTime
	s.mu.RUnlock()

	now := time.Now()
	return types.PipelineStats{
		Time:           now.UTC(),
		Chunks:         s.chunks.Load(),
		Bytes:          s.bytes.Load(),
		Groups:         s.groups.Load(),
		Admitted:       s.admitted.Load(),
		Invalid:        s.invalid.Load(),
		Flushes:        s.flushes.Load(),
		FlushedRecords: s.flushedRecords.Load(),
		Connects:       s.connects.Load(),
		Disconnects:    s.disconnects.Load(),
		LastRecordTime: last,
		Uptime:         now.Sub(s.started),
	}
}

// Fields returns the snapshot as logrus fields
func (s *Stats) Fields() logrus.Fields {
	snap := s.Snapshot()
	return logrus.Fields{
		"chunks":          snap.Chunks,
		"bytes":           snap.Bytes,
		"groups":          snap.Groups,
		"admitted":        snap.Admitted,
		"invalid":         snap.Invalid,
		"flushes":         snap.Flushes,
		"flushed_records": snap.FlushedRecords,
		"connects":        snap.Connects,
		"disconnects":     snap.Disconnects,
		"uptime":          snap.Uptime.Round(time.Second).String(),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()
	last := "never"
	if !snap.LastRecordTime.IsZero() {
		last = snap.LastRecordTime.Format(time.RFC3339)
	}
	return fmt.Sprintf(
		"Chunks: %d (%d bytes)\n"+
			"Groups: %d\n"+
			"Admitted: %d\n"+
			"Invalid: %d\n"+
			"Flushes: %d (%d records)\n"+
			"Connects: %d\n"+
			"Disconnects: %d\n"+
			"Last Record Time: %s\n"+
			"Uptime: %s",
		snap.Chunks, snap.Bytes,
		snap.Groups,
		snap.Admitted,
		snap.Invalid,
		snap.Flushes, snap.FlushedRecords,
		snap.Connects,
		snap.Disconnects,
		last,
		snap.Uptime.Round(time.Second),
	)
}

// Persist stores the current statistics through the configured store
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("stats store not set")
	}

	if err := store.StorePipelineStats(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist stats: %w", err)
	}
	return nil
}

// StartLogging logs the statistics every interval, persisting them when a store is set.
// It blocks until ctx is cancelled and reports once more on the way out.
func (s *Stats) StartLogging(ctx context.Context, interval time.Duration, logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	report := func(ctx context.Context) {
		logger.WithFields(s.Fields()).Info("Pipeline statistics")

		s.mu.RLock()
		hasStore := s.store != nil
		s.mu.RUnlock()
		if !hasStore {
			return
		}
		if err := s.Persist(ctx); err != nil {
			logger.WithError(err).Warn("Failed to persist statistics")
		}
	}

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			report(final)
			cancel()
			return
		case <-ticker.C:
			report(ctx)
		}
	}
}
