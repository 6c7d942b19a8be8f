package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// PlanType is the user's subscription plan for automation
type PlanType string

const (
	PlanSignals    PlanType = "SIGNALS"
	PlanAutomation PlanType = "AUTOMATION"
	PlanManaged    PlanType = "MANAGED"
)

// ParsePlanType matches case-insensitively. Unknown values return
// PlanSignals with ok=false so callers can see the coercion.
func ParsePlanType(s string) (PlanType, bool) {
	switch p := PlanType(strings.ToUpper(strings.TrimSpace(s))); p {
	case PlanSignals, PlanAutomation, PlanManaged:
		return p, true
	default:
		return PlanSignals, false
	}
}

// RiskProfile selects the daily risk cap
type RiskProfile string

const (
	RiskConservative RiskProfile = "CONSERVATIVE"
	RiskBalanced     RiskProfile = "BALANCED"
	RiskActive       RiskProfile = "ACTIVE"
)

var riskCaps = map[RiskProfile]float64{
	RiskConservative: 2000,
	RiskBalanced:     5000,
	RiskActive:       15000,
}

// ParseRiskProfile is case-insensitive and rejects unknown profiles
func ParseRiskProfile(s string) (RiskProfile, error) {
	p := RiskProfile(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := riskCaps[p]; !ok {
		return "", fmt.Errorf("unknown risk profile %q", s)
	}
	return p, nil
}

// RiskCapFor returns the daily cap in currency units, 0 for unknown profiles
func RiskCapFor(p RiskProfile) float64 {
	return riskCaps[p]
}

// MarketStatus is the exchange session state in IST
type MarketStatus string

const (
	MarketPreOpen MarketStatus = "PRE_MARKET"
	MarketOpen    MarketStatus = "OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// IST is India Standard Time, UTC+5:30
var IST = time.FixedZone("IST", 5*3600+30*60)

const (
	preMarketStart = 9*time.Hour
	marketOpen     = 9*time.Hour + 15*time.Minute
	marketClose    = 15*time.Hour + 30*time.Minute
)

// MarketStatusAt returns the session state at t.
// Pre-market is 09:00-09:14:59, open is 09:15-15:30 inclusive.
func MarketStatusAt(t time.Time) MarketStatus {
	local := t.In(IST)
	sinceMidnight := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second

	switch {
	case sinceMidnight >= preMarketStart && sinceMidnight < marketOpen:
		return MarketPreOpen
	case sinceMidnight >= marketOpen && sinceMidnight <= marketClose:
		return MarketOpen
	default:
		return MarketClosed
	}
}

// CheckID names a pre-flight check
type CheckID string

const (
	CheckBrokerConnect CheckID = "BROKER_CONNECT"
	CheckSessionValid  CheckID = "SESSION_VALID"
	CheckRiskProfile   CheckID = "RISK_PROFILE"
	CheckDailyLimit    CheckID = "DAILY_LIMIT"
	CheckMarketStatus  CheckID = "MARKET_STATUS"
)

// Check is one pre-flight result
type Check struct {
	ID      CheckID `json:"id"`
	Passed  bool    `json:"passed"`
	Message string  `json:"message,omitempty"`
	Warning string  `json:"warning,omitempty"`
}

// PreFlightReport aggregates all checks for one evaluation
type PreFlightReport struct {
	UserID       string       `json:"user_id"`
	Ready        bool         `json:"ready"`
	Checks       []Check      `json:"checks"`
	MarketStatus MarketStatus `json:"market_status"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`
}

// Failed returns the ids of failing checks
func (r PreFlightReport) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, string(c.ID))
		}
	}
	return out
}

// DailyStats is the per-IST-day execution tally
type DailyStats struct {
	Date           string  `json:"date"`
	TradesExecuted int     `json:"trades_executed"`
	LossIncurred   float64 `json:"loss_incurred"`
	RiskCap        float64 `json:"risk_cap"`
}

// State is a read-only copy of a user's sandbox
type State struct {
	UserID      string      `json:"user_id"`
	Plan        PlanType    `json:"plan"`
	RiskProfile RiskProfile `json:"risk_profile,omitempty"`
	Broker      string      `json:"broker"`
	Daily       DailyStats  `json:"daily"`
}

// Execution rejection codes
const (
	CodeNotReady        = "NOT_READY"
	CodeRiskCapExceeded = "RISK_CAP_EXCEEDED"
)

// ExecutionError explains why an execution request was refused
type ExecutionError struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Report  *PreFlightReport `json:"report,omitempty"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
