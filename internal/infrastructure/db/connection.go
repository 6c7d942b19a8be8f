package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/persistence"
	"github.com/sawpanic/signalgate/internal/persistence/postgres"
)

// Manager owns the connection pool and the repositories built on it
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager connects when cfg.Enabled, applies the schema when
// cfg.AutoMigrate, and otherwise returns a disabled manager
func NewManager(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg, health: &healthChecker{}}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}

	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := NewManagerWithDB(conn, cfg)
	if cfg.AutoMigrate {
		if err := m.EnsureSchema(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}

	log.Info().
		Int("max_open", cfg.MaxOpenConns).
		Int("max_idle", cfg.MaxIdleConns).
		Bool("auto_migrate", cfg.AutoMigrate).
		Msg("PostgreSQL connected")
	return m, nil
}

// NewManagerWithDB wires repositories around an already-open handle
func NewManagerWithDB(conn *sqlx.DB, cfg Config) *Manager {
	return &Manager{
		db:     conn,
		config: cfg,
		repos: &persistence.Repository{
			Training: postgres.NewTrainingRepo(conn, cfg.QueryTimeout),
			Users:    postgres.NewUsersRepo(conn, cfg.QueryTimeout),
		},
		health: &healthChecker{db: conn, timeout: cfg.QueryTimeout},
	}
}

// Repository returns the repositories, or nil when persistence is disabled
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health returns the store health check used by /health
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// IsEnabled reports whether a live connection backs the repositories
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

// Close closes the pool; it is a no-op when disabled
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func connectTimeout(cfg Config) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return DefaultConfig().ConnectTimeout
}
