package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/signalgate/internal/persistence"
)

// BrokerAdapter is the broker-session capability a sandbox owns
type BrokerAdapter interface {
	Name() string
	IsPaper() bool
	ValidateSession(ctx context.Context) (bool, error)
}

// PaperBroker is the default simulated broker; its session is always valid
type PaperBroker struct{}

func (PaperBroker) Name() string { return "PAPER" }

func (PaperBroker) IsPaper() bool { return true }

func (PaperBroker) ValidateSession(context.Context) (bool, error) { return true, nil }

// CredentialBroker validates the session against stored broker credentials
type CredentialBroker struct {
	users  persistence.UsersRepo
	userID string
	broker string
	now    func() time.Time
}

// NewCredentialBroker creates an adapter backed by the users repository
func NewCredentialBroker(users persistence.UsersRepo, userID, broker string) *CredentialBroker {
	return &CredentialBroker{
		users:  users,
		userID: userID,
		broker: broker,
		now:    time.Now,
	}
}

func (b *CredentialBroker) Name() string { return b.broker }

func (b *CredentialBroker) IsPaper() bool { return false }

// ValidateSession reports false without error when no credential is stored
func (b *CredentialBroker) ValidateSession(ctx context.Context) (bool, error) {
	cred, err := b.users.BrokerCredential(ctx, b.userID)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load broker credential: %w", err)
	}
	return cred.Active(b.now()), nil
}
