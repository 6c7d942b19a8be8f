package http

import (
	"encoding/json"
	"time"

	"github.com/sawpanic/signalgate/internal/execution"
	"github.com/sawpanic/signalgate/internal/kernel"
	"github.com/sawpanic/signalgate/internal/quota"
	"github.com/sawpanic/signalgate/internal/sandbox"
	"github.com/sawpanic/signalgate/internal/signals"
)

// Response status values
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
)

// ActionQueuedForRouting is reported for every accepted signal
const ActionQueuedForRouting = "QUEUED_FOR_ROUTING"

// ErrorResponse is the standard error body
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// IngestResponse is returned for an accepted signal
type IngestResponse struct {
	Status   string                  `json:"status"`
	SignalID string                  `json:"signal_id"`
	Action   string                  `json:"action"`
	Score    int                     `json:"score"`
	Details  *signals.ScoreBreakdown `json:"score_breakdown,omitempty"`
}

// RejectResponse is returned for a signal that failed validation
type RejectResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// RecentSignalsResponse lists buffered accepted signals, newest first
type RecentSignalsResponse struct {
	Count   int              `json:"count"`
	Signals []signals.Signal `json:"signals"`
}

// OutcomeRequest reports what happened to a routed signal
type OutcomeRequest struct {
	SignalID  string          `json:"signal_id"`
	Execution json.RawMessage `json:"execution,omitempty"`
	PnL       *float64        `json:"pnl,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// OutcomeResponse acknowledges an outcome and echoes updated channel stats when known
type OutcomeResponse struct {
	Status   string                `json:"status"`
	SignalID string                `json:"signal_id"`
	Channel  *signals.ChannelStats `json:"channel_stats,omitempty"`
}

// PlanRequest selects a sandbox plan
type PlanRequest struct {
	Plan string `json:"plan"`
}

// PlanResponse reports the applied plan; Coerced is true when the input was unknown
type PlanResponse struct {
	Plan    sandbox.PlanType `json:"plan"`
	Coerced bool             `json:"coerced"`
}

// RiskProfileRequest selects a risk profile
type RiskProfileRequest struct {
	Profile string `json:"profile"`
}

// RiskProfileResponse reports the applied profile and cap
type RiskProfileResponse struct {
	Profile sandbox.RiskProfile `json:"profile"`
	RiskCap float64             `json:"risk_cap"`
}

// LossRequest reports a realized loss against today's risk cap
type LossRequest struct {
	Amount float64 `json:"amount"`
}

// LossResponse returns today's tally after the loss is applied
type LossResponse struct {
	Status string             `json:"status"`
	Daily  sandbox.DailyStats `json:"daily"`
}

// ExecuteResponse wraps a successful gated execution
type ExecuteResponse struct {
	Status string            `json:"status"`
	Tier   quota.Tier        `json:"tier"`
	Result *execution.Result `json:"result"`
}

// ExecuteRejection explains a refused execution
type ExecuteRejection struct {
	Status   string                   `json:"status"`
	Code     string                   `json:"code"`
	Message  string                   `json:"message"`
	Tier     quota.Tier               `json:"tier,omitempty"`
	Decision *quota.Decision          `json:"decision,omitempty"`
	Report   *sandbox.PreFlightReport `json:"preflight,omitempty"`
	Kernel   *kernel.CommandResult    `json:"kernel,omitempty"`
}

// PanicRequest triggers an emergency stop
type PanicRequest struct {
	Reason string `json:"reason"`
}

// TelegramToggleRequest enables or disables the kernel telegram feed
type TelegramToggleRequest struct {
	Enabled *bool  `json:"enabled"`
	Reason  string `json:"reason"`
}

// CommandRequest relays an arbitrary kernel command
type CommandRequest struct {
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// HealthResponse summarizes service dependencies
type HealthResponse struct {
	Status           string            `json:"status"` // healthy, degraded
	Timestamp        time.Time         `json:"timestamp"`
	Uptime           string            `json:"uptime"`
	Version          string            `json:"version"`
	Kernel           KernelHealth      `json:"kernel"`
	Database         *DatabaseHealth   `json:"database,omitempty"`
	Training         TrainingHealth    `json:"training"`
	Breakers         map[string]string `json:"breakers,omitempty"`
	ThrottledSources int               `json:"throttled_sources"`
}

// KernelHealth is the kernel slice of the health response
type KernelHealth struct {
	Online        bool      `json:"online"`
	StatusMessage string    `json:"status_message"`
	CoreStatus    string    `json:"core_status"`
	PolledAt      time.Time `json:"polled_at"`
}

// DatabaseHealth is the relational store slice of the health response
type DatabaseHealth struct {
	Healthy   bool     `json:"healthy"`
	LatencyMS int64    `json:"latency_ms"`
	Errors    []string `json:"errors,omitempty"`
}

// TrainingHealth reports sink failure totals
type TrainingHealth struct {
	Sinks        []string           `json:"sinks"`
	Failures     map[string]float64 `json:"failures"`
	Divergences  float64            `json:"divergences"`
	RecentBuffer int                `json:"recent_buffer"`
}
