package signals

import (
	"fmt"
	"strings"
	"time"
)

// Side is the trade direction of a signal
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes case; ok is false for anything but BUY/SELL
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return Side(s), false
	}
}

// Reason is a machine-readable rejection code
type Reason string

const (
	ReasonStale         Reason = "STALE_SIGNAL"
	ReasonInvalidSide   Reason = "INVALID_SIDE"
	ReasonInvalidRisk   Reason = "INVALID_RISK"
	ReasonInvalidReward Reason = "INVALID_REWARD"
	ReasonLowConfidence Reason = "LOW_CONFIDENCE"
)

// ScoreBreakdown holds the four weighted sub-scores, each 0-100
type ScoreBreakdown struct {
	Parsing int `json:"parsing"`
	Logic   int `json:"logic"`
	Latency int `json:"latency"`
	History int `json:"history"`
	Total   int `json:"total"`
}

// Signal is one externally sourced trade idea
type Signal struct {
	ID             string                 `json:"id"`
	Source         string                 `json:"source"`
	Symbol         string                 `json:"symbol"`
	Side           Side                   `json:"side"`
	EntryPrice     float64                `json:"entry_price"`
	StopLoss       float64                `json:"stop_loss"`
	Targets        []float64              `json:"targets"`
	Confidence     float64                `json:"confidence"`
	ScoreBreakdown *ScoreBreakdown        `json:"score_breakdown,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// RawText returns the original message text carried in metadata, if any
func (s Signal) RawText() string {
	for _, key := range []string{"raw_text", "raw_message", "text"} {
		if v, ok := s.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s Signal) clone() Signal {
	out := s
	out.Targets = append([]float64(nil), s.Targets...)
	if s.ScoreBreakdown != nil {
		b := *s.ScoreBreakdown
		out.ScoreBreakdown = &b
	}
	return out
}

// Verdict is the outcome of Validate
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

// RejectionError is returned by Ingest for signals that fail validation
type RejectionError struct {
	Reason Reason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("signal rejected: %s", e.Reason)
}
