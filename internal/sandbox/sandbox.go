package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/metrics"
)

// Sandbox is one user's execution-gating state
type Sandbox struct {
	mu          sync.Mutex
	userID      string
	plan        PlanType
	riskProfile RiskProfile
	daily       DailyStats
	broker      BrokerAdapter

	metrics *metrics.Registry
	now     func() time.Time
}

func newSandbox(userID string, broker BrokerAdapter, reg *metrics.Registry, now func() time.Time) *Sandbox {
	if broker == nil {
		broker = PaperBroker{}
	}
	return &Sandbox{
		userID:  userID,
		plan:    PlanSignals,
		broker:  broker,
		metrics: reg,
		now:     now,
		daily:   DailyStats{Date: istDate(now())},
	}
}

// SetPlanType applies the plan, coercing unknown values to SIGNALS
func (s *Sandbox) SetPlanType(raw string) (PlanType, bool) {
	plan, ok := ParsePlanType(raw)
	if !ok {
		log.Warn().
			Str("user_id", s.userID).
			Str("requested", raw).
			Str("applied", string(plan)).
			Msg("Unknown plan type coerced")
	}

	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()

	return plan, ok
}

// SetRiskProfile assigns the profile and its risk cap
func (s *Sandbox) SetRiskProfile(p RiskProfile) error {
	limit, ok := riskCaps[p]
	if !ok {
		return fmt.Errorf("unknown risk profile %q", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	s.riskProfile = p
	s.daily.RiskCap = limit
	return nil
}

// SetBroker replaces the broker-session adapter
func (s *Sandbox) SetBroker(b BrokerAdapter) {
	if b == nil {
		b = PaperBroker{}
	}
	s.mu.Lock()
	s.broker = b
	s.mu.Unlock()
}

// RecordTrade counts one executed trade for today
func (s *Sandbox) RecordTrade() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	s.daily.TradesExecuted++
}

// RecordLoss adds a realized loss to today's tally; non-positive amounts are ignored
func (s *Sandbox) RecordLoss(amount float64) DailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	if amount > 0 {
		s.daily.LossIncurred += amount
	}
	return s.daily
}

// State returns a copy of the sandbox
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	return State{
		UserID:      s.userID,
		Plan:        s.plan,
		RiskProfile: s.riskProfile,
		Broker:      s.broker.Name(),
		Daily:       s.daily,
	}
}

// ValidatePreFlight evaluates every readiness check against one read of the
// sandbox and one broker session check
func (s *Sandbox) ValidatePreFlight(ctx context.Context) PreFlightReport {
	s.mu.Lock()
	s.rollover()
	plan := s.plan
	profile := s.riskProfile
	daily := s.daily
	broker := s.broker
	s.mu.Unlock()

	now := s.now()
	paper := broker.IsPaper()
	sessionOK, sessionErr := broker.ValidateSession(ctx)

	checks := make([]Check, 0, 5)

	brokerCheck := Check{ID: CheckBrokerConnect, Passed: !paper || plan == PlanSignals}
	if !brokerCheck.Passed {
		brokerCheck.Message = fmt.Sprintf("plan %s requires a live broker connection", plan)
	}
	checks = append(checks, brokerCheck)

	sessionCheck := Check{ID: CheckSessionValid, Passed: sessionErr == nil && sessionOK}
	switch {
	case sessionErr != nil:
		sessionCheck.Message = sessionErr.Error()
	case !sessionOK:
		sessionCheck.Message = fmt.Sprintf("%s session is not active", broker.Name())
	}
	checks = append(checks, sessionCheck)

	profileCheck := Check{ID: CheckRiskProfile, Passed: profile != ""}
	if !profileCheck.Passed {
		profileCheck.Message = "risk profile not set"
	}
	checks = append(checks, profileCheck)

	limitCheck := Check{ID: CheckDailyLimit, Passed: daily.RiskCap > 0}
	if !limitCheck.Passed {
		limitCheck.Message = "daily risk cap is zero"
	}
	checks = append(checks, limitCheck)

	market := MarketStatusAt(now)
	marketCheck := Check{ID: CheckMarketStatus, Passed: true}
	switch market {
	case MarketPreOpen:
		marketCheck.Warning = "pre-market session (09:00-09:15 IST)"
	case MarketClosed:
		marketCheck.Warning = "market closed"
	}
	checks = append(checks, marketCheck)

	ready := true
	for _, c := range checks {
		s.metrics.RecordPreflight(string(c.ID), c.Passed)
		ready = ready && c.Passed
	}

	return PreFlightReport{
		UserID:       s.userID,
		Ready:        ready,
		Checks:       checks,
		MarketStatus: market,
		EvaluatedAt:  now,
	}
}

// ValidateExecutionRequest requires a ready sandbox with loss below the cap.
// It returns *ExecutionError on refusal.
func (s *Sandbox) ValidateExecutionRequest(ctx context.Context, strategy string, params map[string]interface{}) (*PreFlightReport, error) {
	report := s.ValidatePreFlight(ctx)
	if !report.Ready {
		return &report, &ExecutionError{
			Code:    CodeNotReady,
			Message: "pre-flight checks failed: " + strings.Join(report.Failed(), ", "),
			Report:  &report,
		}
	}

	s.mu.Lock()
	daily := s.daily
	s.mu.Unlock()

	if daily.LossIncurred >= daily.RiskCap {
		return &report, &ExecutionError{
			Code:    CodeRiskCapExceeded,
			Message: fmt.Sprintf("daily loss %.2f has reached risk cap %.2f", daily.LossIncurred, daily.RiskCap),
			Report:  &report,
		}
	}

	if report.MarketStatus != MarketOpen {
		log.Info().
			Str("user_id", s.userID).
			Str("strategy", strategy).
			Str("market_status", string(report.MarketStatus)).
			Int("params", len(params)).
			Msg("Execution outside regular market hours (advisory)")
	}

	return &report, nil
}

// rollover resets the daily tally on IST date change; caller holds s.mu
func (s *Sandbox) rollover() {
	today := istDate(s.now())
	if s.daily.Date == today {
		return
	}
	s.daily = DailyStats{Date: today, RiskCap: s.daily.RiskCap}
}

func istDate(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// BrokerFactory builds the initial broker adapter for a new sandbox
type BrokerFactory func(userID string) BrokerAdapter

// Registry lazily creates one Sandbox per user for the process lifetime
type Registry struct {
	mu        sync.Mutex
	sandboxes map[string]*Sandbox
	factory   BrokerFactory
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewRegistry creates an empty registry; factory and reg may be nil
func NewRegistry(factory BrokerFactory, reg *metrics.Registry) *Registry {
	return &Registry{
		sandboxes: make(map[string]*Sandbox),
		factory:   factory,
		metrics:   reg,
		now:       time.Now,
	}
}

// WithClock replaces the time source for sandboxes created afterwards
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Get returns the user's sandbox, creating it on first reference
func (r *Registry) Get(userID string) *Sandbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sb, ok := r.sandboxes[userID]; ok {
		return sb
	}

	var broker BrokerAdapter
	if r.factory != nil {
		broker = r.factory(userID)
	}
	sb := newSandbox(userID, broker, r.metrics, r.now)
	r.sandboxes[userID] = sb
	return sb
}

// Len returns the number of sandboxes created so far
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sandboxes)
}
