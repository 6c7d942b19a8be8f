package db

import (
	"context"
	"fmt"
)

// requiredTables are the tables the repositories read and write
var requiredTables = []string{"signal_training_log", "users", "broker_credentials"}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS signal_training_log (
		id                UUID PRIMARY KEY,
		signal_id         TEXT NOT NULL UNIQUE,
		raw_message       TEXT NOT NULL DEFAULT '',
		parsed_payload    JSONB,
		parse_confidence  NUMERIC NOT NULL DEFAULT 0,
		validation_result JSONB NOT NULL,
		execution_result  JSONB,
		pnl               NUMERIC,
		outcome_status    TEXT,
		latency_ms        INTEGER NOT NULL DEFAULT -1,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signal_training_log_created_at
		ON signal_training_log (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id   TEXT PRIMARY KEY,
		tier TEXT NOT NULL DEFAULT 'FREE'
	)`,
	`CREATE TABLE IF NOT EXISTS broker_credentials (
		user_id          TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		broker           TEXT NOT NULL,
		status           TEXT NOT NULL,
		token_expires_at TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, broker)
	)`,
}

// EnsureSchema creates the tables and indexes in one transaction. Existing
// objects are left untouched.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("database persistence is disabled")
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
