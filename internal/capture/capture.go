package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/saviobatista/sbs-archiver/internal/buffer"
	"github.com/saviobatista/sbs-archiver/internal/parser"
	"github.com/saviobatista/sbs-archiver/internal/stats"
	"github.com/saviobatista/sbs-archiver/internal/types"
)

// State is the position of a Session in its connection lifecycle
type State int

const (
	// Disconnected waits out the backoff delay before the next attempt
	Disconnected State = iota
	// Connecting is dialing the feed
	Connecting
	// Streaming is reading and archiving records
	Streaming
	// Terminated stops retrying
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const shutdownFlushTimeout = 30 * time.Second

// Dialer opens the feed connection
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Observer receives every admitted record. Observer errors are logged and never stop the session.
type Observer interface {
	Observe(ctx context.Context, rec types.Record) error
}

// Options configures a Session
type Options struct {
	Addr            string
	Sink            buffer.Sink
	Dialer          Dialer
	BackOff         backoff.BackOff
	ReadTimeout     time.Duration
	ReadBufferSize  int
	FlushOnShutdown bool
	Observers       []Observer
	Stats           *stats.Stats
	Logger          logrus.FieldLogger

	// Now stamps ingestion time and measures downtime. Defaults to time.Now.
	Now func() time.Time
	// Sleep waits out a backoff delay. Defaults to a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnState is called on every state transition
	OnState func(State)
}

// Session drives the Disconnected, Connecting, Streaming, Terminated state machine
// against one feed endpoint. It is not safe for concurrent use.
type Session struct {
	opts   Options
	sink   buffer.Sink
	logger logrus.FieldLogger
	state  State
}

// New creates a Session, filling unset options with defaults
func New(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	if opts.BackOff == nil {
		opts.BackOff = backoff.NewConstantBackOff(5 * time.Second)
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 1024
	}
	if opts.Stats == nil {
		opts.Stats = stats.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}

	return &Session{
		opts:   opts,
		sink:   &countingSink{sink: opts.Sink, stats: opts.Stats},
		logger: opts.Logger.WithField("source", opts.Addr),
		state:  Disconnected,
	}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Stats returns the counters the session updates
func (s *Session) Stats() *stats.Stats {
	return s.opts.Stats
}

func (s *Session) setState(state State) {
	s.state = state
	s.logger.WithField("state", state.String()).Debug("Session state changed")
	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}

// Run connects to the feed and archives records until ctx is cancelled or a
// fatal error occurs. It returns nil on cancellation, a *SinkError when the sink
// fails, and the unclassified error otherwise.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(Terminated)

	s.setState(Disconnected)
	first := true
	var disconnectTime time.Time

	for {
		if !first {
			delay := s.opts.BackOff.NextBackOff()
			if delay == backoff.Stop {
				return ErrTerminated
			}
			if err := s.opts.Sleep(ctx, delay); err != nil {
				return nil
			}
		}
		first = false

		if ctx.Err() != nil {
			return nil
		}

		s.setState(Connecting)
		conn, err := s.opts.Dialer.DialContext(ctx, "tcp", s.opts.Addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithError(err).Warn("Failed to connect to feed")
			if disconnectTime.IsZero() {
				disconnectTime = s.opts.Now()
			}
			s.setState(Disconnected)
			continue
		}

		configureTCPKeepalive(conn, s.logger)
		s.logReconnect(disconnectTime)
		disconnectTime = time.Time{}
		s.opts.BackOff.Reset()

		err = s.stream(ctx, conn)
		_ = conn.Close()

		switch {
		case err == nil:
			return nil
		case IsTransient(err):
			s.opts.Stats.IncDisconnects()
			s.logger.WithError(err).Warn("Lost connection to feed")
			disconnectTime = s.opts.Now()
			s.setState(Disconnected)
		default:
			s.logger.WithError(err).Error("Stopping ingestion")
			return err
		}
	}
}

func (s *Session) logReconnect(disconnectTime time.Time) {
	if disconnectTime.IsZero() {
		s.logger.Info("Connected to feed")
		return
	}
	duration := s.opts.Now().Sub(disconnectTime)
	s.logger.WithField("downtime", duration.Round(100*time.Millisecond).String()).Info("Reconnected to feed")
}

// stream reads the connection until it fails or ctx is cancelled. Every exit
// drains the reassembler and flushes the buffer, except cancellation with
// FlushOnShutdown unset. A nil return means ctx was cancelled.
func (s *Session) stream(ctx context.Context, conn net.Conn) error {
	logger := s.logger.WithField("session", uuid.NewString())
	buf := buffer.New(s.sink, logger)
	asm := parser.NewReassembler()

	// Sink writes are never interrupted by cancellation.
	writeCtx := context.WithoutCancel(ctx)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	s.setState(Streaming)
	s.opts.Stats.IncConnects()

	chunk := make([]byte, s.opts.ReadBufferSize)
	for {
		if ctx.Err() != nil {
			return s.shutdown(writeCtx, buf, asm, logger)
		}

		if s.opts.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
				logger.WithError(err).Warn("Failed to set read deadline")
			}
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			s.opts.Stats.IncChunks(n)
			if ingestErr := s.ingest(ctx, writeCtx, buf, asm.Feed(string(chunk[:n])), logger); ingestErr != nil {
				return ingestErr
			}
		}
		if n == 0 && err == nil {
			err = io.EOF
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return s.shutdown(writeCtx, buf, asm, logger)
		}
		if finishErr := s.finish(ctx, writeCtx, buf, asm, logger); finishErr != nil {
			return finishErr
		}
		return err
	}
}

func (s *Session) shutdown(writeCtx context.Context, buf *buffer.HourBuffer, asm *parser.Reassembler, logger logrus.FieldLogger) error {
	if !s.opts.FlushOnShutdown {
		if buf.Len() > 0 {
			logger.WithField("records", buf.Len()).Warn("Discarding buffered records on shutdown")
		}
		return nil
	}

	flushCtx, cancel := context.WithTimeout(writeCtx, shutdownFlushTimeout)
	defer cancel()
	return s.finish(flushCtx, flushCtx, buf, asm, logger)
}

// finish admits whatever the reassembler still holds and flushes the buffer
func (s *Session) finish(ctx, writeCtx context.Context, buf *buffer.HourBuffer, asm *parser.Reassembler, logger logrus.FieldLogger) error {
	if err := s.ingest(ctx, writeCtx, buf, asm.Drain(), logger); err != nil {
		return err
	}
	if err := buf.Flush(writeCtx); err != nil {
		return &SinkError{Err: err}
	}
	return nil
}

func (s *Session) ingest(ctx, writeCtx context.Context, buf *buffer.HourBuffer, groups []parser.Group, logger logrus.FieldLogger) error {
	s.opts.Stats.IncGroups(len(groups))

	for _, g := range groups {
		rec := parser.Decode(g, s.opts.Now().UTC())

		err := buf.Admit(writeCtx, rec)
		if errors.Is(err, buffer.ErrInvalidRecord) {
			s.opts.Stats.IncInvalid()
			logger.WithField("kind", g.Kind()).Debug("Dropped message group")
			continue
		}
		if err != nil {
			return &SinkError{Err: err}
		}

		s.opts.Stats.IncAdmitted(rec.Timestamp)
		logger.WithFields(logrus.Fields{
			"aircraft_id": rec.AircraftID,
			"timestamp":   rec.Timestamp.Format(time.RFC3339Nano),
		}).Debug("Admitted record")

		for _, o := range s.opts.Observers {
			if err := o.Observe(ctx, rec); err != nil {
				logger.WithError(err).Warn("Observer failed")
			}
		}
	}
	return nil
}

// configureTCPKeepalive configures TCP keepalive settings
func configureTCPKeepalive(conn net.Conn, logger logrus.FieldLogger) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		logger.WithError(err).Warn("Failed to set keepalive")
	}
	if err := tcpConn.SetKeepAlivePeriod(2 * time.Second); err != nil {
		logger.WithError(err).Warn("Failed to set keepalive period")
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		logger.WithError(err).Warn("Failed to set no delay")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// countingSink records successful flushes in the session stats
type countingSink struct {
	sink  buffer.Sink
	stats *stats.Stats
}

func (c *countingSink) Append(ctx context.Context, key types.BucketKey, records []types.Record) error {
	if err := c.sink.Append(ctx, key, records); err != nil {
		return err
	}
	c.stats.IncFlushes(len(records))
	return nil
}
