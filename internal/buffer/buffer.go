package buffer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

// ErrInvalidRecord is returned by Admit for records failing types.Record.Valid
var ErrInvalidRecord = errors.New("invalid record")

// Sink appends records to the partition identified by key
type Sink interface {
	Append(ctx context.Context, key types.BucketKey, records []types.Record) error
}

// HourBuffer holds the records of the current hour bucket.
// It has a single owner and is not safe for concurrent use.
type HourBuffer struct {
	sink    Sink
	logger  logrus.FieldLogger
	records []types.Record
	key     types.BucketKey
	started bool
	flushes int
}

// New creates an empty HourBuffer flushing into sink
func New(sink Sink, logger logrus.FieldLogger) *HourBuffer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HourBuffer{
		sink:   sink,
		logger: logger,
	}
}

// Admit appends a valid record, flushing the current bucket first when the
// record's reported date or hour differs from the tracked one
func (b *HourBuffer) Admit(ctx context.Context, rec types.Record) error {
	if !rec.Valid() {
		return ErrInvalidRecord
	}

	key := rec.Key()
	if b.started && key == b.key {
		b.records = append(b.records, rec)
		return nil
	}

	if err := b.Flush(ctx); err != nil {
		return err
	}
	b.logger.WithField("bucket", key.String()).Info("Starting hour bucket")
	b.key = key
	b.started = true

	b.records = append(b.records, rec)
	return nil
}

// Flush writes the buffered records to the sink and empties the buffer.
// Flushing an empty buffer performs no write.
func (b *HourBuffer) Flush(ctx context.Context) error {
	if len(b.records) == 0 {
		return nil
	}

	if err := b.sink.Append(ctx, b.key, b.records); err != nil {
		return fmt.Errorf("failed to flush bucket %s: %w", b.key, err)
	}

	b.logger.WithFields(logrus.Fields{
		"bucket":  b.key.String(),
		"records": len(b.records),
	}).Info("Flushed hour bucket")

	b.flushes++
	b.records = nil
	return nil
}

// Len returns the number of buffered records
func (b *HourBuffer) Len() int {
	return len(b.records)
}

// Records returns a copy of the buffered records in admission order
func (b *HourBuffer) Records() []types.Record {
	out := make([]types.Record, len(b.records))
	copy(out, b.records)
	return out
}

// Key returns the tracked bucket key and whether any record has been admitted
func (b *HourBuffer) Key() (types.BucketKey, bool) {
	return b.key, b.started
}

// Flushes returns the number of non-empty flushes performed
func (b *HourBuffer) Flushes() int {
	return b.flushes
}
