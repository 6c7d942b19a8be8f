package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/signalgate/internal/persistence"
)

// healthChecker pings the pool and confirms the required tables exist.
// A nil db means persistence is disabled, which counts as healthy.
type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()
	if h.db == nil {
		return persistence.HealthCheck{
			Healthy:   true,
			Errors:    []string{"database persistence disabled"},
			CheckedAt: start,
		}
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	check := persistence.HealthCheck{Healthy: true, CheckedAt: start}

	if err := h.db.PingContext(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("ping failed: %v", err))
	} else {
		missing, err := h.missingTables(ctx)
		switch {
		case err != nil:
			check.Healthy = false
			check.Errors = append(check.Errors, fmt.Sprintf("table check failed: %v", err))
		case len(missing) > 0:
			check.Healthy = false
			check.MissingTables = missing
			check.Errors = append(check.Errors, fmt.Sprintf("%d required tables missing", len(missing)))
		}
	}

	stats := h.db.Stats()
	check.Pool = map[string]int{
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"in_use":   stats.InUse,
		"idle":     stats.Idle,
	}
	check.ResponseTimeMS = time.Since(start).Milliseconds()
	return check
}

func (h *healthChecker) missingTables(ctx context.Context) ([]string, error) {
	var present []string
	err := h.db.SelectContext(ctx, &present, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		pq.Array(requiredTables))
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(present))
	for _, name := range present {
		found[name] = true
	}
	var missing []string
	for _, name := range requiredTables {
		if !found[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
