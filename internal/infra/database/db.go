package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

// NewPostgresConnection creates and returns a new PostgreSQL database connection.
// It also pings the database to ensure connectivity.
func NewPostgresConnection(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// schema is idempotent. The leads table normally belongs to the CRM; it is
// created here so the service also runs against an empty database.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL,
		company    TEXT,
		value      DOUBLE PRECISION NOT NULL DEFAULT 0,
		stage      TEXT NOT NULL DEFAULT 'Lead',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS leads_email_lower_idx ON leads (LOWER(email))`,
	`CREATE TABLE IF NOT EXISTS lead_automations (
		lead_id                        BIGINT PRIMARY KEY,
		current_stage                  TEXT NOT NULL,
		is_active                      BOOLEAN NOT NULL,
		lead_replied                   BOOLEAN NOT NULL DEFAULT FALSE,
		paused_reason                  TEXT NOT NULL DEFAULT '',
		lead_emails_sent               INTEGER NOT NULL DEFAULT 0,
		lead_next_email_due            TIMESTAMPTZ,
		lead_entered_at                TIMESTAMPTZ,
		lead_last_sent_at              TIMESTAMPTZ,
		qualified_emails_sent          INTEGER NOT NULL DEFAULT 0,
		qualified_next_email_due       TIMESTAMPTZ,
		qualified_entered_at           TIMESTAMPTZ,
		qualified_last_sent_at         TIMESTAMPTZ,
		proposal_sent_emails_sent      INTEGER NOT NULL DEFAULT 0,
		proposal_sent_next_email_due   TIMESTAMPTZ,
		proposal_sent_entered_at       TIMESTAMPTZ,
		proposal_sent_last_sent_at     TIMESTAMPTZ,
		negotiations_emails_sent       INTEGER NOT NULL DEFAULT 0,
		negotiations_next_email_due    TIMESTAMPTZ,
		negotiations_entered_at        TIMESTAMPTZ,
		negotiations_last_sent_at      TIMESTAMPTZ,
		lease_until                    TIMESTAMPTZ,
		version                        BIGINT NOT NULL DEFAULT 1,
		created_at                     TIMESTAMPTZ NOT NULL,
		updated_at                     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS lead_automations_active_idx ON lead_automations (current_stage) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS email_logs (
		id             UUID PRIMARY KEY,
		lead_id        BIGINT NOT NULL,
		lead_name      TEXT NOT NULL,
		lead_email     TEXT NOT NULL,
		lead_value     DOUBLE PRECISION NOT NULL DEFAULT 0,
		email_type     TEXT NOT NULL,
		subject        TEXT NOT NULL,
		sent_at        TIMESTAMPTZ NOT NULL,
		success        BOOLEAN NOT NULL,
		failure_reason TEXT,
		provider_id    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS email_logs_lead_sent_idx ON email_logs (lead_id, sent_at DESC)`,
	`CREATE INDEX IF NOT EXISTS email_logs_sent_idx ON email_logs (sent_at DESC)`,
}

// EnsureSchema creates the tables the service needs if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}
	return nil
}

// limitArg turns a non-positive limit into NULL, which Postgres reads as no limit.
func limitArg(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}
