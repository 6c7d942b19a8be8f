package quota

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/persistence"
)

// Directory resolves a user's subscription tier
type Directory struct {
	users    persistence.UsersRepo
	fallback Tier
}

// NewDirectory looks tiers up in users; a nil repo always yields fallback
func NewDirectory(users persistence.UsersRepo, fallback Tier) *Directory {
	return &Directory{users: users, fallback: fallback}
}

// TierOf returns the stored tier, or the fallback when the user or store is unavailable
func (d *Directory) TierOf(ctx context.Context, userID string) Tier {
	if d == nil {
		return TierFree
	}
	if d.users == nil || userID == "" {
		return d.fallback
	}

	user, err := d.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Str("user_id", userID).Msg("Tier lookup failed, using default tier")
		}
		return d.fallback
	}

	tier, ok := ParseTier(user.Tier)
	if !ok {
		log.Warn().Str("user_id", userID).Str("tier", user.Tier).Msg("Unknown stored tier, treating as FREE")
	}
	return tier
}
