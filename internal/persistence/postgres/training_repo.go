package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/signalgate/internal/persistence"
)

// trainingRepo implements TrainingRepo for PostgreSQL
type trainingRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTrainingRepo creates a new PostgreSQL training log repository
func NewTrainingRepo(db *sqlx.DB, timeout time.Duration) persistence.TrainingRepo {
	return &trainingRepo{
		db:      db,
		timeout: timeout,
	}
}

// Upsert writes the record once; a replay of the same signal_id only refreshes
// validation_result and latency_ms so payload and raw_message stay write-once.
func (r *trainingRepo) Upsert(ctx context.Context, rec persistence.TrainingRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.SignalID == "" {
		return fmt.Errorf("signal_id is required")
	}

	validationJSON, err := json.Marshal(rec.ValidationResult)
	if err != nil {
		return fmt.Errorf("failed to marshal validation result: %w", err)
	}

	query := `
		INSERT INTO signal_training_log
		(id, signal_id, raw_message, parsed_payload, parse_confidence, validation_result, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signal_id) DO UPDATE SET
			validation_result = EXCLUDED.validation_result,
			latency_ms = EXCLUDED.latency_ms`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.SignalID, rec.RawMessage, nullableJSON(rec.ParsedPayload),
		rec.ParseConfidence, validationJSON, rec.LatencyMS, rec.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate training record id %s: %w", rec.ID, err)
		}
		return fmt.Errorf("failed to upsert training record: %w", err)
	}

	return nil
}

// AttachOutcome updates outcome columns in place; it never inserts
func (r *trainingRepo) AttachOutcome(ctx context.Context, signalID string, outcome persistence.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE signal_training_log SET
			execution_result = COALESCE($2, execution_result),
			pnl = COALESCE($3, pnl),
			outcome_status = COALESCE(NULLIF($4, ''), outcome_status)
		WHERE signal_id = $1`

	res, err := r.db.ExecContext(ctx, query,
		signalID, nullableJSON(outcome.Execution), outcome.PnL, outcome.Status)
	if err != nil {
		return fmt.Errorf("failed to attach outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("signal %s: %w", signalID, persistence.ErrNotFound)
	}

	return nil
}

// GetBySignalID loads a single record
func (r *trainingRepo) GetBySignalID(ctx context.Context, signalID string) (*persistence.TrainingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, signal_id, raw_message, parsed_payload, parse_confidence, validation_result,
		       execution_result, pnl, outcome_status, latency_ms, created_at
		FROM signal_training_log
		WHERE signal_id = $1`

	var (
		rec        persistence.TrainingRecord
		payload    []byte
		validation []byte
		execution  []byte
		pnl        sql.NullFloat64
		status     sql.NullString
	)

	err := r.db.QueryRowxContext(ctx, query, signalID).Scan(
		&rec.ID, &rec.SignalID, &rec.RawMessage, &payload, &rec.ParseConfidence, &validation,
		&execution, &pnl, &status, &rec.LatencyMS, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get training record: %w", err)
	}

	rec.ParsedPayload = payload
	rec.ExecutionResult = execution
	if len(validation) > 0 {
		if err := json.Unmarshal(validation, &rec.ValidationResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation result: %w", err)
		}
	}
	if pnl.Valid {
		v := pnl.Float64
		rec.PnL = &v
	}
	if status.Valid {
		s := status.String
		rec.OutcomeStatus = &s
	}

	return &rec, nil
}

// nullableJSON maps an empty payload to SQL NULL instead of an empty jsonb literal
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
