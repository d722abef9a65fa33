package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // postgres driver

	"github.com/saviobatista/sbs-archiver/internal/types"
)

const insertRecordQuery = `
		INSERT INTO surveillance_records (
			bucket_year, bucket_month, bucket_day, bucket_hour,
			aircraft_id, aircraft_type, flight_id, time,
			altitude, ground_speed, track, latitude, longitude,
			callsign, coarse_hash, exact_hash, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

const countBucketQuery = `
		SELECT COUNT(*) FROM surveillance_records
		WHERE bucket_year = $1 AND bucket_month = $2 AND bucket_day = $3 AND bucket_hour = $4
	`

const insertStatsQuery = `
		INSERT INTO pipeline_stats (
			time, chunks, bytes, message_groups, admitted, invalid,
			flushes, flushed_records, connects, disconnects, uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

// Client is a row-store sink backed by PostgreSQL/TimescaleDB
type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB returns the underlying connection pool
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Append inserts records into the bucket identified by key in a single transaction
func (c *Client) Append(ctx context.Context, key types.BucketKey, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertRecordQuery)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		if _, err := stmt.ExecContext(ctx,
			key.Year, key.Month, key.Day, key.Hour,
			r.AircraftID, nullString(r.AircraftType), nullString(r.FlightID), r.Timestamp,
			r.Altitude, r.GroundSpeed, r.Track, r.Latitude, r.Longitude,
			nullString(r.Callsign), r.CoarseHash, r.ExactHash, r.IngestedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bucket %s: %w", key, err)
	}
	return nil
}

// CountBucket returns the number of stored records in the bucket identified by key
func (c *Client) CountBucket(ctx context.Context, key types.BucketKey) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, countBucketQuery, key.Year, key.Month, key.Day, key.Hour).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// StorePipelineStats stores a snapshot of the ingest counters
func (c *Client) StorePipelineStats(ctx context.Context, s types.PipelineStats) error {
	_, err := c.db.ExecContext(ctx, insertStatsQuery,
		s.Time,
		int64(s.Chunks),
		int64(s.Bytes),
		int64(s.Groups),
		int64(s.Admitted),
		int64(s.Invalid),
		int64(s.Flushes),
		int64(s.FlushedRecords),
		int64(s.Connects),
		int64(s.Disconnects),
		int64(s.Uptime.Seconds()),
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
