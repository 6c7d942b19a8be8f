package signals

import (
	"strings"
	"sync"
)

const (
	neutralRate  = 0.5
	defaultAlpha = 0.2
)

// ChannelStats is the rolling track record of one signal source
type ChannelStats struct {
	Source         string  `json:"source"`
	TotalSignals   int64   `json:"total_signals"`
	SuccessRate    float64 `json:"success_rate"`
	TargetHitRate  float64 `json:"target_hit_rate"`
	AvgPnLPoints   float64 `json:"avg_pnl_points"`
	StopLossRate   float64 `json:"stop_loss_rate"`
}

// Outcome is the realized result of a previously accepted signal
type Outcome struct {
	Success     bool
	TargetHit   bool
	StopLossHit bool
	PnLPoints   float64
}

// OutcomeFromStatus maps an outcome status and optional PnL onto an Outcome.
// A known PnL decides success; otherwise the status does.
func OutcomeFromStatus(status string, pnl *float64) Outcome {
	s := strings.ToUpper(strings.TrimSpace(status))
	o := Outcome{
		TargetHit:   s == "TARGET_HIT",
		StopLossHit: s == "SL_HIT" || s == "STOP_LOSS_HIT",
	}
	if pnl != nil {
		o.PnLPoints = *pnl
		o.Success = *pnl > 0
		return o
	}
	switch s {
	case "TARGET_HIT", "PROFIT", "WIN":
		o.Success = true
	}
	return o
}

// StatsRegistry holds ChannelStats per source. Entries change only
// through RecordOutcome; reads of an unseen source return neutral defaults.
type StatsRegistry struct {
	mu    sync.Mutex
	stats map[string]*ChannelStats
	alpha float64
}

// NewStatsRegistry creates an empty registry
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{
		stats: make(map[string]*ChannelStats),
		alpha: defaultAlpha,
	}
}

// Get returns a copy of the stats for source, or neutral defaults if unseen
func (r *StatsRegistry) Get(source string) ChannelStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[source]; ok {
		return *s
	}
	return neutralStats(source)
}

// RecordOutcome folds an outcome into the source's rates and counts it
// toward the source's total
func (r *StatsRegistry) RecordOutcome(source string, o Outcome) ChannelStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(source)
	s.SuccessRate = ewma(s.SuccessRate, boolRate(o.Success), r.alpha)
	s.TargetHitRate = ewma(s.TargetHitRate, boolRate(o.TargetHit), r.alpha)
	s.StopLossRate = ewma(s.StopLossRate, boolRate(o.StopLossHit), r.alpha)
	s.AvgPnLPoints = ewma(s.AvgPnLPoints, o.PnLPoints, r.alpha)
	s.TotalSignals++

	return *s
}

// Snapshot returns copies of all known stats
func (r *StatsRegistry) Snapshot() []ChannelStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ChannelStats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	return out
}

func (r *StatsRegistry) entry(source string) *ChannelStats {
	s, ok := r.stats[source]
	if !ok {
		fresh := neutralStats(source)
		s = &fresh
		r.stats[source] = s
	}
	return s
}

func neutralStats(source string) ChannelStats {
	return ChannelStats{
		Source:        source,
		SuccessRate:   neutralRate,
		TargetHitRate: neutralRate,
		StopLossRate:  neutralRate,
	}
}

func ewma(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

func boolRate(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
