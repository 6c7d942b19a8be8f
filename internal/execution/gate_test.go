package execution

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/kernel"
	"github.com/sawpanic/signalgate/internal/quota"
	"github.com/sawpanic/signalgate/internal/sandbox"
)

type fakeKernel struct {
	mu      sync.Mutex
	view    kernel.View
	result  kernel.CommandResult
	submits []string
}

func (f *fakeKernel) Snapshot() kernel.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeKernel) SubmitCommand(_ context.Context, command string, _ json.RawMessage, _, requestID string) kernel.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, command)
	res := f.result
	res.RequestID = requestID
	return res
}

func (f *fakeKernel) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// 11:00 IST on a weekday
var marketHours = time.Date(2026, 3, 2, 5, 30, 0, 0, time.UTC)

func liveKernel() *fakeKernel {
	return &fakeKernel{
		view: kernel.View{
			Online:        true,
			StatusMessage: "RUNNING",
			Transparency:  kernel.Transparency{CoreStatus: kernel.CoreLive},
		},
		result: kernel.CommandResult{Success: true, Message: "queued"},
	}
}

func newTestGate(t *testing.T, k Kernel) (*Gate, *sandbox.Registry, *quota.Ledger) {
	t.Helper()
	clock := func() time.Time { return marketHours }
	sandboxes := sandbox.NewRegistry(nil, nil).WithClock(clock)
	ledger := quota.NewLedger(nil).WithClock(clock)
	return NewGate(sandboxes, ledger, k), sandboxes, ledger
}

func readySandbox(t *testing.T, r *sandbox.Registry, userID string) {
	t.Helper()
	require.NoError(t, r.Get(userID).SetRiskProfile(sandbox.RiskBalanced))
}

func TestGate_ExecuteCountsOnce(t *testing.T) {
	k := liveKernel()
	gate, sandboxes, ledger := newTestGate(t, k)
	readySandbox(t, sandboxes, "u1")

	res, err := gate.Execute(context.Background(), "u1", quota.TierBasic, Request{
		Strategy: "breakout",
		Command:  "PLACE_ORDER",
		Risk:     1200,
	})
	require.NoError(t, err)

	assert.True(t, res.Kernel.Success)
	assert.NotEmpty(t, res.Kernel.RequestID)
	assert.Equal(t, 1, res.Usage.LiveTradesCount)
	assert.Equal(t, 4, res.Remaining)
	assert.Equal(t, 1, ledger.GetUsage("u1").LiveTradesCount)
	assert.InDelta(t, 1200, ledger.GetUsage("u1").RiskUsed, 0.001)
	assert.Equal(t, 1, sandboxes.Get("u1").State().Daily.TradesExecuted)
	assert.Equal(t, 1, k.submitted())
}

func TestGate_SandboxNotReady(t *testing.T) {
	k := liveKernel()
	gate, _, ledger := newTestGate(t, k)

	_, err := gate.Execute(context.Background(), "u1", quota.TierPro, Request{Command: "PLACE_ORDER"})

	var execErr *sandbox.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, sandbox.CodeNotReady, execErr.Code)
	assert.Equal(t, 0, k.submitted())
	assert.Equal(t, 0, ledger.GetUsage("u1").LiveTradesCount)
}

func TestGate_FreeTierRefused(t *testing.T) {
	k := liveKernel()
	gate, sandboxes, _ := newTestGate(t, k)
	readySandbox(t, sandboxes, "u1")

	_, err := gate.Execute(context.Background(), "u1", quota.TierFree, Request{Command: "PLACE_ORDER"})

	var qErr *QuotaError
	require.True(t, errors.As(err, &qErr))
	assert.False(t, qErr.Decision.Allowed)
	assert.Equal(t, 0, k.submitted())
}

func TestGate_LimitReached(t *testing.T) {
	k := liveKernel()
	gate, sandboxes, _ := newTestGate(t, k)
	readySandbox(t, sandboxes, "u1")

	for i := 0; i < 5; i++ {
		_, err := gate.Execute(context.Background(), "u1", quota.TierBasic, Request{Command: "PLACE_ORDER"})
		require.NoError(t, err)
	}

	_, err := gate.Execute(context.Background(), "u1", quota.TierBasic, Request{Command: "PLACE_ORDER"})
	var qErr *QuotaError
	require.True(t, errors.As(err, &qErr))
	assert.Contains(t, qErr.Decision.Reason, "0 of 5 remaining")
	assert.Equal(t, 5, k.submitted())
}

func TestGate_KernelStates(t *testing.T) {
	tests := []struct {
		name string
		view kernel.View
		code string
	}{
		{
			name: "offline",
			view: kernel.View{Transparency: kernel.Transparency{CoreStatus: kernel.CoreOffline}},
			code: CodeKernelOffline,
		},
		{
			name: "emergency stop",
			view: kernel.View{
				Online:        true,
				StatusMessage: kernel.StatusEmergencyStop,
				Transparency:  kernel.Transparency{CoreStatus: kernel.CoreHalted},
			},
			code: CodeEmergencyStop,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := liveKernel()
			k.view = tt.view
			gate, sandboxes, ledger := newTestGate(t, k)
			readySandbox(t, sandboxes, "u1")

			_, err := gate.Execute(context.Background(), "u1", quota.TierElite, Request{Command: "PLACE_ORDER"})

			var kErr *KernelError
			require.True(t, errors.As(err, &kErr))
			assert.Equal(t, tt.code, kErr.Code)
			assert.Equal(t, 0, k.submitted())
			assert.Equal(t, 0, ledger.GetUsage("u1").LiveTradesCount)
		})
	}
}

func TestGate_KernelFailureCountsNothing(t *testing.T) {
	k := liveKernel()
	k.result = kernel.CommandResult{Success: false, Message: "Connectivity Error: kernel did not respond within 3s"}
	gate, sandboxes, ledger := newTestGate(t, k)
	readySandbox(t, sandboxes, "u1")

	_, err := gate.Execute(context.Background(), "u1", quota.TierPro, Request{Command: "PLACE_ORDER", RequestID: "req-1"})

	var kErr *KernelError
	require.True(t, errors.As(err, &kErr))
	assert.Equal(t, CodeKernelRejected, kErr.Code)
	assert.Equal(t, "req-1", kErr.Result.RequestID)
	assert.Equal(t, 0, ledger.GetUsage("u1").LiveTradesCount)
	assert.Equal(t, 0, sandboxes.Get("u1").State().Daily.TradesExecuted)
}

func TestGate_MissingCommand(t *testing.T) {
	k := liveKernel()
	gate, _, _ := newTestGate(t, k)

	_, err := gate.Execute(context.Background(), "u1", quota.TierPro, Request{})
	var kErr *KernelError
	require.True(t, errors.As(err, &kErr))
	assert.Equal(t, CodeInvalidRequest, kErr.Code)
}

func TestGate_ConcurrentRequestsRespectLimit(t *testing.T) {
	k := liveKernel()
	gate, sandboxes, ledger := newTestGate(t, k)
	readySandbox(t, sandboxes, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.Execute(context.Background(), "u1", quota.TierBasic, Request{Command: "PLACE_ORDER"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ledger.GetUsage("u1").LiveTradesCount)
	assert.Equal(t, 5, k.submitted())
}
