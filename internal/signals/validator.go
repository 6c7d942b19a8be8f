package signals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/persistence"
)

// AuditSink receives one training record per validator decision
type AuditSink interface {
	LogIngest(ctx context.Context, rec persistence.TrainingRecord) error
}

// Router hands accepted signals to downstream execution
type Router interface {
	Route(ctx context.Context, sig Signal) error
}

// SignalStore resolves signals that have left the in-memory buffer
type SignalStore interface {
	GetBySignalID(ctx context.Context, signalID string) (*persistence.TrainingRecord, error)
}

// Config controls validation thresholds
type Config struct {
	MaxAge        time.Duration `yaml:"max_age"`
	MinConfidence float64       `yaml:"min_confidence"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		MaxAge:        60 * time.Second,
		MinConfidence: 80,
		BufferSize:    50,
	}
}

// Validator checks, scores and records incoming signals
type Validator struct {
	cfg     Config
	stats   *StatsRegistry
	buffer  *Ring
	audit   AuditSink
	router  Router
	store   SignalStore
	metrics *metrics.Registry
	now     func() time.Time
}

// NewValidator wires a validator. audit, router and reg may be nil.
func NewValidator(cfg Config, stats *StatsRegistry, audit AuditSink, router Router, reg *metrics.Registry) *Validator {
	def := DefaultConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if stats == nil {
		stats = NewStatsRegistry()
	}
	return &Validator{
		cfg:     cfg,
		stats:   stats,
		buffer:  NewRing(cfg.BufferSize),
		audit:   audit,
		router:  router,
		metrics: reg,
		now:     time.Now,
	}
}

// WithClock replaces the time source
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// WithStore sets the fallback RecordOutcome uses once a signal has been
// evicted from the buffer
func (v *Validator) WithStore(store SignalStore) *Validator {
	v.store = store
	return v
}

// Stats exposes the per-source track records
func (v *Validator) Stats() *StatsRegistry {
	return v.stats
}

// Validate applies the acceptance rules in order and returns the first failure
func (v *Validator) Validate(sig Signal, now time.Time) Verdict {
	if now.Sub(sig.Timestamp) > v.cfg.MaxAge {
		return Verdict{Reason: ReasonStale}
	}
	if reason := checkRiskReward(sig); reason != "" {
		return Verdict{Reason: reason}
	}
	if sig.Confidence < v.cfg.MinConfidence {
		return Verdict{Reason: ReasonLowConfidence}
	}
	return Verdict{Valid: true}
}

// Ingest validates a signal. Rejected signals are recorded and returned as a
// *RejectionError. Accepted signals get a fresh id and the computed score,
// are buffered, recorded, then routed.
func (v *Validator) Ingest(ctx context.Context, sig Signal) (Signal, error) {
	now := v.now()
	incomingConfidence := sig.Confidence

	verdict := v.Validate(sig, now)
	if !verdict.Valid {
		v.metrics.RecordIngest(persistence.StatusRejected, string(verdict.Reason))
		log.Info().
			Str("source", sig.Source).
			Str("symbol", sig.Symbol).
			Str("reason", string(verdict.Reason)).
			Msg("Signal rejected")

		rec := v.buildRecord(sig, "rejected-"+uuid.NewString(), incomingConfidence,
			persistence.ValidationResult{Status: persistence.StatusRejected, Reason: string(verdict.Reason)}, -1)
		v.record(ctx, rec)

		return Signal{}, &RejectionError{Reason: verdict.Reason}
	}

	breakdown := Score(sig, v.stats.Get(sig.Source), now)

	accepted := sig.clone()
	accepted.ID = uuid.NewString()
	accepted.Confidence = float64(breakdown.Total)
	accepted.ScoreBreakdown = &breakdown

	v.buffer.Push(accepted)
	v.metrics.RecordIngest(persistence.StatusAccepted, "")

	breakdownJSON, _ := json.Marshal(breakdown)
	rec := v.buildRecord(accepted, accepted.ID, incomingConfidence,
		persistence.ValidationResult{Status: persistence.StatusAccepted, Breakdown: breakdownJSON},
		now.Sub(sig.Timestamp).Milliseconds())
	v.record(ctx, rec)

	log.Info().
		Str("signal_id", accepted.ID).
		Str("source", accepted.Source).
		Str("symbol", accepted.Symbol).
		Int("score", breakdown.Total).
		Msg("Signal accepted")

	if v.router != nil {
		if err := v.router.Route(ctx, accepted); err != nil {
			v.metrics.RecordRouteFailure()
			log.Error().Err(err).Str("signal_id", accepted.ID).Msg("Failed to route accepted signal")
		}
	}

	return accepted, nil
}

// Recent returns the buffered accepted signals, newest first
func (v *Validator) Recent() []Signal {
	return v.buffer.Recent()
}

// Lookup finds a buffered signal by id
func (v *Validator) Lookup(id string) (Signal, bool) {
	return v.buffer.Find(id)
}

// RecordOutcome feeds a realized result back into the source's history
// score. Signals no longer buffered are resolved through the store.
func (v *Validator) RecordOutcome(ctx context.Context, signalID string, o Outcome) (ChannelStats, bool) {
	source, ok := v.sourceOf(ctx, signalID)
	if !ok {
		return ChannelStats{}, false
	}
	return v.stats.RecordOutcome(source, o), true
}

func (v *Validator) sourceOf(ctx context.Context, signalID string) (string, bool) {
	if sig, ok := v.buffer.Find(signalID); ok {
		return sig.Source, true
	}
	if v.store == nil || signalID == "" {
		return "", false
	}

	rec, err := v.store.GetBySignalID(ctx, signalID)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			log.Warn().Err(err).Str("signal_id", signalID).Msg("Failed to resolve signal for outcome")
		}
		return "", false
	}
	if rec.ValidationResult.Status != persistence.StatusAccepted {
		return "", false
	}

	var sig Signal
	if err := json.Unmarshal(rec.ParsedPayload, &sig); err != nil || sig.Source == "" {
		log.Warn().Str("signal_id", signalID).Msg("Stored signal payload has no source")
		return "", false
	}
	return sig.Source, true
}

func (v *Validator) buildRecord(sig Signal, signalID string, parseConfidence float64, result persistence.ValidationResult, latencyMS int64) persistence.TrainingRecord {
	payload, err := json.Marshal(sig)
	if err != nil {
		payload = nil
	}
	raw := sig.RawText()
	if raw == "" {
		raw = string(payload)
	}
	return persistence.TrainingRecord{
		ID:               uuid.NewString(),
		SignalID:         signalID,
		RawMessage:       raw,
		ParsedPayload:    payload,
		ParseConfidence:  parseConfidence,
		ValidationResult: result,
		LatencyMS:        latencyMS,
		CreatedAt:        v.now().UTC(),
	}
}

func (v *Validator) record(ctx context.Context, rec persistence.TrainingRecord) {
	if v.audit == nil {
		return
	}
	if err := v.audit.LogIngest(ctx, rec); err != nil {
		log.Warn().Err(err).Str("signal_id", rec.SignalID).Msg("Training record incomplete")
	}
}
