package quota

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/metrics"
)

// Tier is a subscription level
type Tier string

const (
	TierFree  Tier = "FREE"
	TierBasic Tier = "BASIC"
	TierPro   Tier = "PRO"
	TierElite Tier = "ELITE"
)

// Limits are the per-day entitlements of a tier
type Limits struct {
	MaxLiveTradesPerDay int `json:"max_live_trades_per_day"`
}

var tierLimits = map[Tier]Limits{
	TierFree:  {MaxLiveTradesPerDay: 0},
	TierBasic: {MaxLiveTradesPerDay: 5},
	TierPro:   {MaxLiveTradesPerDay: 25},
	TierElite: {MaxLiveTradesPerDay: 100},
}

// ParseTier is case-insensitive; unknown tiers report ok=false and map to FREE
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := tierLimits[t]; ok {
		return t, true
	}
	return TierFree, false
}

// LimitsFor returns the limits for t; unknown tiers get FREE limits
func LimitsFor(t Tier) Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// UsageStats is one user's consumption for one calendar day
type UsageStats struct {
	Date            string  `json:"date"`
	LiveTradesCount int     `json:"live_trades_count"`
	RiskUsed        float64 `json:"risk_used"`
}

// Decision is the answer to CanPlaceLiveTrade
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Ledger tracks per-user daily trade usage in memory
type Ledger struct {
	mu      sync.Mutex
	usage   map[string]*UsageStats // userID -> today's counter
	metrics *metrics.Registry
	now     func() time.Time
}

// NewLedger creates an empty ledger; reg may be nil
func NewLedger(reg *metrics.Registry) *Ledger {
	return &Ledger{
		usage:   make(map[string]*UsageStats),
		metrics: reg,
		now:     time.Now,
	}
}

// WithClock replaces the time source
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// GetUsage returns a copy of today's counter for the user, creating it on
// first use. Every call within one UTC date reads the same counter; the
// next date starts a fresh one.
func (l *Ledger) GetUsage(userID string) UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.today(userID)
}

// CanPlaceLiveTrade checks the user's tier allowance for today
func (l *Ledger) CanPlaceLiveTrade(userID string, tier Tier) Decision {
	limit := LimitsFor(tier).MaxLiveTradesPerDay

	if limit == 0 {
		l.metrics.RecordQuotaRejection(string(tier))
		return Decision{
			Reason: fmt.Sprintf("tier %s does not include live trading", tier),
		}
	}

	l.mu.Lock()
	count := l.today(userID).LiveTradesCount
	l.mu.Unlock()

	if count >= limit {
		l.metrics.RecordQuotaRejection(string(tier))
		return Decision{
			Reason: fmt.Sprintf("daily live trade limit reached: 0 of %d remaining", limit),
			Limit:  limit,
		}
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
	}
}

// IncrementTradeCount records one placed live trade. It does not deduplicate;
// callers invoke it exactly once per trade.
func (l *Ledger) IncrementTradeCount(userID string, risk float64) UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.today(userID)
	u.LiveTradesCount++
	u.RiskUsed += risk

	log.Debug().
		Str("user_id", userID).
		Int("live_trades", u.LiveTradesCount).
		Float64("risk_used", u.RiskUsed).
		Msg("Live trade counted")

	return *u
}

// today must be called with l.mu held
func (l *Ledger) today(userID string) *UsageStats {
	date := l.now().UTC().Format("2006-01-02")
	u, ok := l.usage[userID]
	if !ok || u.Date != date {
		u = &UsageStats{Date: date}
		l.usage[userID] = u
	}
	return u
}
