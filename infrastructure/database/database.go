// Package database opens the PostgreSQL pool and owns the core schema.
package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Options tunes the connection pool.
type Options struct {
	MaxConnections int
	IdleTimeout    time.Duration
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, errors.ExternalService("open database", err)
	}
	if opts.MaxConnections > 0 {
		db.SetMaxOpenConns(opts.MaxConnections)
		db.SetMaxIdleConns(opts.MaxConnections / 2)
	}
	if opts.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(opts.IdleTimeout)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ExternalService("ping database", err)
	}
	return db, nil
}

// EnsureSchema creates the tables and indexes the core owns. Statements are
// idempotent and ordered; per-hook feature tables are created later by the
// feature store.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_created ON events(event_type, created_at)`,

		`CREATE TABLE IF NOT EXISTS deliveries (
			id UUID PRIMARY KEY,
			event_id UUID NOT NULL REFERENCES events(id),
			consumer_group VARCHAR(128) NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'pending',
			claimed_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			delivery_error TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT uq_delivery_event_consumer UNIQUE (event_id, consumer_group)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_claim
			ON deliveries(consumer_group, status, event_id)
			WHERE status IN ('pending', 'claimed')`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_event ON deliveries(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_stale
			ON deliveries(claimed_at)
			WHERE status = 'claimed'`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_failed
			ON deliveries(consumer_group, retry_count)
			WHERE status = 'failed'`,

		`CREATE TABLE IF NOT EXISTS validation_runs (
			srn TEXT PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			results JSONB NOT NULL DEFAULT '[]',
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS feature_tables (
			id BIGSERIAL PRIMARY KEY,
			hook_name TEXT NOT NULL,
			pg_table TEXT NOT NULL,
			feature_schema JSONB NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT uq_feature_tables_hook_name UNIQUE (hook_name)
		)`,

		`CREATE TABLE IF NOT EXISTS depositions (
			srn TEXT PRIMARY KEY,
			convention_srn TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'draft',
			metadata JSONB,
			record_srn TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_depositions_owner ON depositions(owner_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_depositions_record
			ON depositions(record_srn)
			WHERE record_srn IS NOT NULL`,

		`CREATE SCHEMA IF NOT EXISTS features`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.ExternalService("ensure schema", err)
		}
	}
	return nil
}
