package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/execution"
	"github.com/sawpanic/signalgate/internal/kernel"
	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/net/ratelimit"
	"github.com/sawpanic/signalgate/internal/persistence"
	"github.com/sawpanic/signalgate/internal/quota"
	"github.com/sawpanic/signalgate/internal/sandbox"
	"github.com/sawpanic/signalgate/internal/signals"
	"github.com/sawpanic/signalgate/internal/training"
)

// KernelService is the kernel monitor surface the API exposes
type KernelService interface {
	execution.Kernel
	Subscribe() (<-chan kernel.View, func())
	BreakerStates() map[string]string
	TriggerPanic(ctx context.Context, userID, reason string) kernel.CommandResult
	ToggleTelegram(ctx context.Context, enabled bool, userID, reason string) kernel.CommandResult
	TelegramStatus(ctx context.Context) kernel.CommandResult
	TelegramChannels(ctx context.Context) kernel.CommandResult
}

// Credentials is the shared-secret header pair for signal producers.
// An empty key disables the check.
type Credentials struct {
	Key    string
	Secret string
}

// Deps are the services behind the API
type Deps struct {
	Validator *signals.Validator
	Recorder  *training.Recorder
	Sandboxes *sandbox.Registry
	Ledger    *quota.Ledger
	Tiers     *quota.Directory
	Gate      *execution.Gate
	Kernel    KernelService
	Database  persistence.RepositoryHealth
	Metrics   *metrics.Registry
	Limiter   *ratelimit.Limiter
	Auth      Credentials
	Version   string
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Server is the inbound HTTP API
type Server struct {
	router    *mux.Router
	server    *http.Server
	deps      Deps
	config    ServerConfig
	hub       *streamHub
	startTime time.Time
}

// NewServer builds the router; call Start to listen
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultServerConfig().RequestTimeout
	}

	s := &Server{
		router:    mux.NewRouter(),
		deps:      deps,
		config:    config,
		startTime: time.Now(),
	}
	if deps.Kernel != nil {
		s.hub = newStreamHub(deps.Kernel)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.GetAddress(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	if deps.Auth.Key == "" {
		log.Warn().Msg("Signal producer authentication is disabled (no api key configured)")
	}

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	// operational endpoints outside the JSON API
	s.router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.hub != nil {
		s.router.HandleFunc("/ws/kernel", s.hub.serveWS).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.Handle("/signals", s.signalAuthMiddleware(http.HandlerFunc(s.IngestSignal))).Methods(http.MethodPost)
	api.Handle("/outcomes", s.signalAuthMiddleware(http.HandlerFunc(s.RecordOutcome))).Methods(http.MethodPost)
	api.HandleFunc("/signals", s.RecentSignals).Methods(http.MethodGet)
	api.HandleFunc("/kernel/health", s.KernelHealth).Methods(http.MethodGet)

	userRoutes := []struct {
		path    string
		method  string
		handler http.HandlerFunc
	}{
		{"/sandbox/preflight", http.MethodGet, s.PreFlight},
		{"/sandbox/plan", http.MethodPut, s.SetPlan},
		{"/sandbox/risk-profile", http.MethodPut, s.SetRiskProfile},
		{"/sandbox/execute", http.MethodPost, s.Execute},
		{"/sandbox/loss", http.MethodPost, s.RecordLoss},
		{"/kernel/panic", http.MethodPost, s.Panic},
		{"/kernel/telegram", http.MethodPost, s.ToggleTelegram},
		{"/kernel/telegram/status", http.MethodGet, s.TelegramStatus},
		{"/kernel/telegram/channels", http.MethodGet, s.TelegramChannels},
		{"/kernel/commands", http.MethodPost, s.SubmitCommand},
	}
	for _, rt := range userRoutes {
		api.Handle(rt.path, s.userMiddleware(rt.handler)).Methods(rt.method)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.NotFound)
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.config.Port, err)
	}

	if s.hub != nil {
		s.hub.start()
	}

	log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes websocket streams
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	if s.hub != nil {
		s.hub.stop()
	}
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// NotFound handles 404 responses
func (s *Server) NotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// decode reads a JSON body of at most 1MB; unknown fields are tolerated
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
