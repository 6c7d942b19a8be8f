package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row
var ErrNotFound = errors.New("record not found")

// Validation statuses written to the audit table
const (
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// ValidationResult is the decision snapshot stored with every training record
type ValidationResult struct {
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Breakdown json.RawMessage `json:"breakdown,omitempty"`
}

// Outcome carries execution results attached to a record after the fact
type Outcome struct {
	Execution json.RawMessage `json:"execution,omitempty"`
	PnL       *float64        `json:"pnl,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// TrainingRecord is one append-only audit entry keyed by signal id
type TrainingRecord struct {
	ID               string           `json:"id" db:"id"`
	SignalID         string           `json:"signal_id" db:"signal_id"`
	RawMessage       string           `json:"raw_message" db:"raw_message"`
	ParsedPayload    json.RawMessage  `json:"parsed_payload" db:"parsed_payload"`
	ParseConfidence  float64          `json:"parse_confidence" db:"parse_confidence"`
	ValidationResult ValidationResult `json:"validation_result" db:"-"`
	ExecutionResult  json.RawMessage  `json:"execution_result,omitempty" db:"execution_result"`
	PnL              *float64         `json:"pnl,omitempty" db:"pnl"`
	OutcomeStatus    *string          `json:"outcome_status,omitempty" db:"outcome_status"`
	LatencyMS        int64            `json:"latency_ms" db:"latency_ms"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// User is the narrow slice of the account table this service reads
type User struct {
	ID   string `json:"id" db:"id"`
	Tier string `json:"tier" db:"tier"`
}

// BrokerCredential reports whether a user has a usable broker session
type BrokerCredential struct {
	UserID         string     `json:"user_id" db:"user_id"`
	Broker         string     `json:"broker" db:"broker"`
	Status         string     `json:"status" db:"status"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty" db:"token_expires_at"`
}

// Active reports whether the credential can back a live session at t
func (c BrokerCredential) Active(t time.Time) bool {
	if c.Status != "ACTIVE" {
		return false
	}
	return c.TokenExpiresAt == nil || c.TokenExpiresAt.After(t)
}

// TrainingRepo persists signal decisions and their later outcomes
type TrainingRepo interface {
	// Upsert inserts a record; on signal_id conflict only validation and latency change
	Upsert(ctx context.Context, rec TrainingRecord) error

	// AttachOutcome sets execution_result/pnl/outcome_status on an existing row
	AttachOutcome(ctx context.Context, signalID string, outcome Outcome) error

	// GetBySignalID returns ErrNotFound when the signal was never recorded
	GetBySignalID(ctx context.Context, signalID string) (*TrainingRecord, error)
}

// UsersRepo resolves tiers and broker credential status
type UsersRepo interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	BrokerCredential(ctx context.Context, userID string) (*BrokerCredential, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Training TrainingRepo
	Users    UsersRepo
}

// HealthCheck is one health check of the relational store
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	MissingTables  []string       `json:"missing_tables,omitempty"`
	Pool           map[string]int `json:"pool,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth checks the store behind the repositories
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
}
