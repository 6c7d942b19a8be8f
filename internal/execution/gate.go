package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/kernel"
	"github.com/sawpanic/signalgate/internal/quota"
	"github.com/sawpanic/signalgate/internal/sandbox"
)

// Kernel is the slice of the kernel monitor the gate needs
type Kernel interface {
	Snapshot() kernel.View
	SubmitCommand(ctx context.Context, command string, payload json.RawMessage, userID, requestID string) kernel.CommandResult
}

// Request is one live execution attempt
type Request struct {
	Strategy  string                 `json:"strategy"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Command   string                 `json:"command"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Risk      float64                `json:"risk"`
}

// Result is returned when the kernel accepted the command
type Result struct {
	Kernel    kernel.CommandResult     `json:"kernel"`
	Usage     quota.UsageStats         `json:"usage"`
	Remaining int                      `json:"remaining"`
	Report    *sandbox.PreFlightReport `json:"preflight,omitempty"`
}

// Refusal codes
const (
	CodeKernelOffline  = "KERNEL_OFFLINE"
	CodeEmergencyStop  = "EMERGENCY_STOP"
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodeKernelRejected = "KERNEL_REJECTED"
	CodeInvalidRequest = "INVALID_REQUEST"
)

// QuotaError reports a quota refusal
type QuotaError struct {
	Tier     quota.Tier
	Decision quota.Decision
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %s", CodeQuotaExceeded, e.Decision.Reason)
}

// KernelError reports a kernel that is unusable or refused the command
type KernelError struct {
	Code   string
	Result kernel.CommandResult
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Result.Message)
}

// Gate runs sandbox pre-flight, quota, kernel state and submission in order.
// A trade is counted exactly once, only after the kernel accepted it.
type Gate struct {
	sandboxes *sandbox.Registry
	ledger    *quota.Ledger
	kernel    Kernel

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewGate wires the gate
func NewGate(sandboxes *sandbox.Registry, ledger *quota.Ledger, k Kernel) *Gate {
	return &Gate{
		sandboxes: sandboxes,
		ledger:    ledger,
		kernel:    k,
		users:     make(map[string]*sync.Mutex),
	}
}

// Execute places one live trade for userID. Errors are *sandbox.ExecutionError,
// *QuotaError or *KernelError.
func (g *Gate) Execute(ctx context.Context, userID string, tier quota.Tier, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, &KernelError{
			Code:   CodeInvalidRequest,
			Result: kernel.CommandResult{Message: "command is required"},
		}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	// check-then-increment must not interleave for one user
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sb := g.sandboxes.Get(userID)
	report, err := sb.ValidateExecutionRequest(ctx, req.Strategy, req.Params)
	if err != nil {
		return nil, err
	}

	decision := g.ledger.CanPlaceLiveTrade(userID, tier)
	if !decision.Allowed {
		return nil, &QuotaError{Tier: tier, Decision: decision}
	}

	view := g.kernel.Snapshot()
	if view.Transparency.CoreStatus == kernel.CoreOffline {
		return nil, &KernelError{
			Code:   CodeKernelOffline,
			Result: kernel.CommandResult{Message: "Kernel is offline; execution refused"},
		}
	}
	if view.StatusMessage == kernel.StatusEmergencyStop {
		return nil, &KernelError{
			Code:   CodeEmergencyStop,
			Result: kernel.CommandResult{Message: "Emergency stop is active; execution refused"},
		}
	}

	res := g.kernel.SubmitCommand(ctx, req.Command, req.Payload, userID, req.RequestID)
	if !res.Success {
		return nil, &KernelError{Code: CodeKernelRejected, Result: res}
	}

	usage := g.ledger.IncrementTradeCount(userID, req.Risk)
	sb.RecordTrade()

	remaining := decision.Limit - usage.LiveTradesCount
	if remaining < 0 {
		remaining = 0
	}

	log.Info().
		Str("user_id", userID).
		Str("tier", string(tier)).
		Str("strategy", req.Strategy).
		Str("command", req.Command).
		Str("request_id", res.RequestID).
		Int("trades_today", usage.LiveTradesCount).
		Msg("Live execution submitted")

	return &Result{
		Kernel:    res,
		Usage:     usage,
		Remaining: remaining,
		Report:    report,
	}, nil
}

func (g *Gate) userLock(userID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.users[userID]
	if !ok {
		l = &sync.Mutex{}
		g.users[userID] = l
	}
	return l
}
