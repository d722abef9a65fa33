package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration is one reversible schema change
type Migration struct {
	Name    string
	UpSQL   string
	DownSQL string
}

// All lists every migration in apply order
var All = []*Migration{
	InitialSchema,
	RetentionPolicies,
}

// Migrator applies and rolls back migrations, recording them in schema_migrations
type Migrator struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// New creates a new Migrator
func New(db *sql.DB, logger logrus.FieldLogger) *Migrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Migrator{db: db, logger: logger}
}

// Initialize creates the bookkeeping table if it doesn't exist
func (m *Migrator) Initialize(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Applied returns the names of applied migrations
func (m *Migrator) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Pending returns the migrations of list not yet applied, in order
func (m *Migrator) Pending(ctx context.Context, list []*Migration) ([]*Migration, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	var pending []*Migration
	for _, migration := range list {
		if !applied[migration.Name] {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// inTx runs a migration statement and its bookkeeping statement atomically
func (m *Migrator) inTx(ctx context.Context, name, stmt, record string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, record, name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", name, err)
	}

	return tx.Commit()
}

// Migrate applies all pending migrations of list
func (m *Migrator) Migrate(ctx context.Context, list []*Migration) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	pending, err := m.Pending(ctx, list)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range pending {
		if err := m.inTx(ctx, migration.Name, migration.UpSQL, `INSERT INTO schema_migrations (name) VALUES ($1)`); err != nil {
			return err
		}
		m.logger.WithField("migration", migration.Name).Info("Applied migration")
	}
	return nil
}

// Rollback reverts the most recently applied migration of list
func (m *Migrator) Rollback(ctx context.Context, list []*Migration) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for i := len(list) - 1; i >= 0; i-- {
		migration := list[i]
		if !applied[migration.Name] {
			continue
		}
		if err := m.inTx(ctx, migration.Name, migration.DownSQL, `DELETE FROM schema_migrations WHERE name = $1`); err != nil {
			return err
		}
		m.logger.WithField("migration", migration.Name).Info("Rolled back migration")
		return nil
	}

	return fmt.Errorf("no migrations to rollback")
}
