package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/config"
	"github.com/sawpanic/signalgate/internal/execution"
	"github.com/sawpanic/signalgate/internal/infrastructure/db"
	httpapi "github.com/sawpanic/signalgate/internal/interfaces/http"
	"github.com/sawpanic/signalgate/internal/kernel"
	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/net/ratelimit"
	"github.com/sawpanic/signalgate/internal/persistence"
	"github.com/sawpanic/signalgate/internal/quota"
	"github.com/sawpanic/signalgate/internal/routing"
	"github.com/sawpanic/signalgate/internal/sandbox"
	"github.com/sawpanic/signalgate/internal/secrets"
	"github.com/sawpanic/signalgate/internal/signals"
	"github.com/sawpanic/signalgate/internal/training"
)

// defaultBroker labels the stored credential set a sandbox checks
const defaultBroker = "DEFAULT"

// app owns every long-lived service of the gateway
type app struct {
	cfg       *config.AppConfig
	metrics   *metrics.Registry
	database  *db.Manager
	recorder  *training.Recorder
	router    routing.Router
	validator *signals.Validator
	ledger    *quota.Ledger
	sandboxes *sandbox.Registry
	redis     *redis.Client
	monitor   *kernel.Monitor
	gate      *execution.Gate
	limiter   *ratelimit.Limiter
	server    *httpapi.Server
}

func newApp(cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewRegistry()}

	database, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.database = database

	var repos *persistence.Repository
	if database.IsEnabled() {
		repos = database.Repository()
		log.Info().
			Str("dsn", secrets.NewRedactor().RedactString(cfg.Database.DSN)).
			Msg("PostgreSQL persistence enabled")
	} else {
		log.Warn().Msg("PostgreSQL persistence disabled; training records go to the mirror only")
	}

	sinks, err := buildSinks(cfg, repos)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.recorder = training.NewRecorder(a.metrics, sinks...)

	a.router = routing.New(cfg.Routing)
	a.validator = signals.NewValidator(cfg.Signals, signals.NewStatsRegistry(), a.recorder, a.router, a.metrics)
	if repos != nil {
		a.validator.WithStore(repos.Training)
	}

	a.ledger = quota.NewLedger(a.metrics)
	defaultTier, _ := quota.ParseTier(cfg.DefaultTier)

	var users persistence.UsersRepo
	var factory sandbox.BrokerFactory
	if repos != nil {
		users = repos.Users
		factory = func(userID string) sandbox.BrokerAdapter {
			return sandbox.NewCredentialBroker(repos.Users, userID, defaultBroker)
		}
	}
	a.sandboxes = sandbox.NewRegistry(factory, a.metrics)
	tiers := quota.NewDirectory(users, defaultTier)

	a.monitor, a.redis = newKernelMonitor(cfg.Kernel, a.metrics)
	a.gate = execution.NewGate(a.sandboxes, a.ledger, a.monitor)
	a.limiter = ratelimit.NewLimiter(cfg.Ingest.RateLimitRPS, cfg.Ingest.RateLimitBurst)

	deps := httpapi.Deps{
		Validator: a.validator,
		Recorder:  a.recorder,
		Sandboxes: a.sandboxes,
		Ledger:    a.ledger,
		Tiers:     tiers,
		Gate:      a.gate,
		Kernel:    a.monitor,
		Metrics:   a.metrics,
		Limiter:   a.limiter,
		Auth:      httpapi.Credentials{Key: cfg.Ingest.APIKey, Secret: cfg.Ingest.APISecret},
		Version:   version,
	}
	if database.IsEnabled() {
		deps.Database = database.Health()
	}

	a.server = httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		RequestTimeout: cfg.Server.WriteTimeout,
	}, deps)

	return a, nil
}

func buildSinks(cfg *config.AppConfig, repos *persistence.Repository) ([]training.Sink, error) {
	var sinks []training.Sink
	if repos != nil {
		sinks = append(sinks, training.NewPostgresSink(repos.Training))
	}
	if cfg.Training.MirrorEnabled {
		mirror, err := training.NewMirrorSink(cfg.Training.MirrorDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open training mirror: %w", err)
		}
		sinks = append(sinks, mirror)
	}
	if len(sinks) == 0 {
		log.Warn().Msg("No training sinks configured; decisions will not be recorded")
	}
	return sinks, nil
}

// newKernelMonitor builds the kernel HTTP client and the transparency
// channel reader. The redis client is returned so callers can close it.
func newKernelMonitor(cfg kernel.Config, reg *metrics.Registry) (*kernel.Monitor, *redis.Client) {
	rdb := kernel.NewRedisClient(cfg.Redis)
	channel := kernel.NewRedisChannel(rdb, cfg.Redis.KeyPrefix, cfg.ReadTimeout)
	return kernel.NewMonitor(cfg, kernel.NewClient(cfg), channel, reg), rdb
}

// run starts background workers and serves until ctx is cancelled
func (a *app) run(ctx context.Context) error {
	a.monitor.Start(ctx)

	if queue, ok := a.router.(*routing.QueueRouter); ok {
		go queue.Consume(ctx, func(sig signals.Signal) {
			log.Info().
				Str("signal_id", sig.ID).
				Str("symbol", sig.Symbol).
				Str("side", string(sig.Side)).
				Msg("Signal handed to execution queue")
		})
	}

	if a.limiter.Enabled() {
		go a.sweepLimiter(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return <-errCh
}

func (a *app) sweepLimiter(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.Sweep()
		}
	}
}

// Close releases resources in reverse dependency order
func (a *app) Close() error {
	var errs []error
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close training recorder: %w", err))
		}
	}
	if a.router != nil {
		if err := a.router.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close signal router: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
