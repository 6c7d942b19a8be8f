package signals

import (
	"math"
	"time"
)

// Component weights; they sum to 1 so the total stays within 0-100
const (
	weightParsing = 0.30
	weightLogic   = 0.20
	weightLatency = 0.20
	weightHistory = 0.30
)

// Score computes the deterministic confidence breakdown for an accepted signal
func Score(sig Signal, stats ChannelStats, now time.Time) ScoreBreakdown {
	b := ScoreBreakdown{
		Parsing: 100,
		Logic:   0,
		Latency: latencyScore(now.Sub(sig.Timestamp)),
		History: clampScore(int(math.Round(stats.SuccessRate * 100))),
	}
	if checkRiskReward(sig) == "" {
		b.Logic = 100
	}

	total := weightParsing*float64(b.Parsing) +
		weightLogic*float64(b.Logic) +
		weightLatency*float64(b.Latency) +
		weightHistory*float64(b.History)
	b.Total = clampScore(int(math.Round(total)))

	return b
}

func latencyScore(age time.Duration) int {
	switch {
	case age <= 15*time.Second:
		return 100
	case age <= 30*time.Second:
		return 80
	case age <= 60*time.Second:
		return 50
	default:
		return 0
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// checkRiskReward returns the first ordering violation, or "" if the levels are consistent
func checkRiskReward(sig Signal) Reason {
	if len(sig.Targets) == 0 {
		return ReasonInvalidReward
	}

	switch sig.Side {
	case SideBuy:
		if !(sig.StopLoss < sig.EntryPrice) {
			return ReasonInvalidRisk
		}
		for _, t := range sig.Targets {
			if !(t > sig.EntryPrice) {
				return ReasonInvalidReward
			}
		}
	case SideSell:
		if !(sig.StopLoss > sig.EntryPrice) {
			return ReasonInvalidRisk
		}
		for _, t := range sig.Targets {
			if !(t < sig.EntryPrice) {
				return ReasonInvalidReward
			}
		}
	default:
		return ReasonInvalidSide
	}

	return ""
}
