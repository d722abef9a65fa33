package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/saviobatista/sbs-archiver/internal/buffer"
	"github.com/saviobatista/sbs-archiver/internal/capture"
	"github.com/saviobatista/sbs-archiver/internal/config"
	"github.com/saviobatista/sbs-archiver/internal/db"
	"github.com/saviobatista/sbs-archiver/internal/nats"
	"github.com/saviobatista/sbs-archiver/internal/redis"
	"github.com/saviobatista/sbs-archiver/internal/stats"
	"github.com/saviobatista/sbs-archiver/internal/storage"
	"github.com/saviobatista/sbs-archiver/internal/types"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("Archiver failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runArchiver(ctx, cfg, newLogger(cfg.LogLevel))
}

func newLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(level)
	return logger
}

// runArchiver wires the configured sink and observers into a capture session
// and runs it until ctx is cancelled or a fatal error occurs
func runArchiver(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	st := stats.New()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var dbClient *db.Client
	if cfg.DBConnStr != "" {
		client, err := db.New(cfg.DBConnStr)
		if err != nil {
			return fmt.Errorf("failed to create database client: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		dbClient = client
		st.SetStore(client)
	}

	var sink buffer.Sink
	switch cfg.Sink {
	case config.SinkPostgres:
		sink = &postgresSink{client: dbClient, logger: logger}
	default:
		sink = storage.New(cfg.OutputDir)
	}

	var observers []capture.Observer
	if cfg.NATSURL != "" {
		client, err := nats.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to create NATS client: %w", err)
		}
		closers = append(closers, client.Close)
		observers = append(observers, client)
	}
	if cfg.RedisAddr != "" {
		client, err := redis.New(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to create Redis client: %w", err)
		}
		closers = append(closers, func() {
			logger.WithField("duplicates", client.Duplicates()).Info("Closing position cache")
			_ = client.Close()
		})
		observers = append(observers, client)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	statsCtx, stopStats := context.WithCancel(ctx)
	go func() {
		defer wg.Done()
		st.StartLogging(statsCtx, cfg.StatsInterval, logger)
	}()
	defer func() {
		stopStats()
		wg.Wait()
	}()

	logger.WithFields(logrus.Fields{
		"feed": cfg.FeedAddr,
		"sink": cfg.Sink,
	}).Info("Starting archiver")

	session := capture.New(capture.Options{
		Addr:            cfg.FeedAddr,
		Sink:            sink,
		BackOff:         backoff.NewConstantBackOff(cfg.ReconnectDelay),
		ReadTimeout:     cfg.ReadTimeout,
		ReadBufferSize:  cfg.ReadBufferSize,
		FlushOnShutdown: cfg.FlushOnShutdown,
		Observers:       observers,
		Stats:           st,
		Logger:          logger,
	})

	if err := session.Run(ctx); err != nil {
		return fmt.Errorf("ingestion stopped: %w", err)
	}

	logger.Info("Archiver stopped")
	return nil
}

// postgresSink logs the stored row count of each bucket after a flush
type postgresSink struct {
	client *db.Client
	logger logrus.FieldLogger
}

func (p *postgresSink) Append(ctx context.Context, key types.BucketKey, records []types.Record) error {
	if err := p.client.Append(ctx, key, records); err != nil {
		return err
	}

	stored, err := p.client.CountBucket(ctx, key)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to count stored bucket rows")
		return nil
	}
	p.logger.WithFields(logrus.Fields{
		"bucket":  key.String(),
		"records": len(records),
		"stored":  stored,
	}).Debug("Bucket stored")
	return nil
}
