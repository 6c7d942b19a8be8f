package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/signalgate/internal/persistence"
)

// usersRepo implements UsersRepo for PostgreSQL
type usersRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewUsersRepo creates a new PostgreSQL users repository
func NewUsersRepo(db *sqlx.DB, timeout time.Duration) persistence.UsersRepo {
	return &usersRepo{
		db:      db,
		timeout: timeout,
	}
}

// GetUser returns the user's subscription tier
func (r *usersRepo) GetUser(ctx context.Context, userID string) (*persistence.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var user persistence.User
	err := r.db.GetContext(ctx, &user, `SELECT id, tier FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// BrokerCredential returns the most recently updated credential for the user.
// The token itself is never selected; only its status and expiry.
func (r *usersRepo) BrokerCredential(ctx context.Context, userID string) (*persistence.BrokerCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT user_id, broker, status, token_expires_at
		FROM broker_credentials
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	var cred persistence.BrokerCredential
	if err := r.db.GetContext(ctx, &cred, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get broker credential: %w", err)
	}

	return &cred, nil
}
