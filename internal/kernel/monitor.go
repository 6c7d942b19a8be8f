package kernel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/metrics"
)

// Core status values derived every poll
const (
	CoreLive        = "LIVE"
	CoreWaitForAuth = "WAIT_FOR_AUTH"
	CoreHalted      = "HALTED"
	CoreOffline     = "CORE OFFLINE"
)

// Status messages used when the kernel API did not answer
const (
	StatusDown          = "DOWN"
	StatusProxyOnly     = "PROXY_ONLY"
	StatusEmergencyStop = "EMERGENCY_STOP"
)

// Transparency is the decoded view of the transparency channel
type Transparency struct {
	LastHeartbeat   *time.Time      `json:"lastHeartbeat"`
	LastDecision    json.RawMessage `json:"lastDecision"`
	LastRejection   *string         `json:"lastRejection"`
	SystemState     *string         `json:"systemState"`
	ConfidenceScore *float64        `json:"confidenceScore"`
	RiskUsed        *float64        `json:"riskUsed"`
	HeartbeatStale  bool            `json:"heartbeatStale"`
	CoreStatus      string          `json:"coreStatus"`
}

// View is one immutable kernel health snapshot
type View struct {
	Online        bool            `json:"online"`
	StatusMessage string          `json:"statusMessage"`
	Status        json.RawMessage `json:"status"`
	Metrics       json.RawMessage `json:"metrics"`
	Positions     json.RawMessage `json:"positions"`
	Signals       json.RawMessage `json:"signals"`
	Transparency  Transparency    `json:"transparency"`
	PolledAt      time.Time       `json:"polledAt"`
	Tick          uint64          `json:"tick"`
}

// override holds a forced status. Only a poll numbered above after may
// clear it, so a poll already in flight when it was set cannot.
type override struct {
	status  string
	expires time.Time
	after   uint64
}

// Monitor polls the kernel and publishes snapshots
type Monitor struct {
	cfg     Config
	client  *Client
	channel Channel
	metrics *metrics.Registry
	now     func() time.Time

	snapshot atomic.Pointer[View]
	writeMu  sync.Mutex
	pending  *override
	ticks    uint64
	started  atomic.Uint64

	subMu       sync.Mutex
	subscribers map[chan View]struct{}
}

// NewMonitor wires a monitor. channel and reg may be nil.
func NewMonitor(cfg Config, client *Client, channel Channel, reg *metrics.Registry) *Monitor {
	cfg = cfg.withDefaults()
	if client == nil {
		client = NewClient(cfg)
	}
	m := &Monitor{
		cfg:         cfg,
		client:      client,
		channel:     channel,
		metrics:     reg,
		now:         time.Now,
		subscribers: make(map[chan View]struct{}),
	}
	m.snapshot.Store(&View{
		StatusMessage: StatusDown,
		Transparency:  Transparency{HeartbeatStale: true, CoreStatus: CoreOffline},
	})
	return m
}

// WithClock replaces the time source
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Client returns the underlying kernel client
func (m *Monitor) Client() *Client {
	return m.client
}

// BreakerStates reports the read-path breaker states of the underlying client
func (m *Monitor) BreakerStates() map[string]string {
	return m.client.BreakerStates()
}

// Snapshot returns the most recent view without blocking on the poller
func (m *Monitor) Snapshot() View {
	return *m.snapshot.Load()
}

// Start runs the poll loop until ctx is cancelled
func (m *Monitor) Start(ctx context.Context) {
	log.Info().
		Str("kernel", m.cfg.BaseURL).
		Dur("interval", m.cfg.PollInterval).
		Msg("Kernel health monitor started")

	go func() {
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()

		m.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Kernel health monitor stopped")
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

func (m *Monitor) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, m.cfg.PollInterval)
	defer cancel()
	m.Poll(tickCtx)
}

// Poll runs one fan-out cycle and publishes the resulting snapshot
func (m *Monitor) Poll(ctx context.Context) View {
	start := time.Now()
	pollID := m.started.Add(1)

	type result struct {
		data json.RawMessage
		err  error
	}
	paths := []string{PathStatus, PathMetrics, PathPositions, PathSignals}
	results := make([]result, len(paths))

	var (
		wg     sync.WaitGroup
		values ChannelValues
	)
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			data, err := m.client.Get(ctx, path, m.cfg.ReadTimeout)
			results[i] = result{data: data, err: err}
		}(i, path)
	}
	if m.channel != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values = m.channel.Read(ctx)
		}()
	}
	wg.Wait()

	for i, r := range results {
		if r.err != nil {
			log.Debug().Err(r.err).Str("path", paths[i]).Msg("Kernel read failed")
		}
	}

	now := m.now()
	statusRes := results[0]
	online := statusRes.err == nil

	tr := Transparency{
		LastHeartbeat:   parseHeartbeat(values[KeyHeartbeat]),
		LastDecision:    asJSON(values[KeyLastTradeDecision]),
		LastRejection:   trimmed(values[KeyLastRejectionReason]),
		SystemState:     trimmed(values[KeySystemState]),
		ConfidenceScore: parseFloat(values[KeyConfidenceScore]),
		RiskUsed:        parseFloat(values[KeyRiskUsed]),
	}
	tr.HeartbeatStale = isHeartbeatStale(tr.LastHeartbeat, now, m.cfg.HeartbeatStaleAfter)

	httpStatus := ""
	if online {
		httpStatus = statusString(statusRes.data)
	}
	tr.CoreStatus = deriveCoreStatus(tr.HeartbeatStale, tr.SystemState, httpStatus)

	view := View{
		Online:       online,
		Status:       statusRes.data,
		Metrics:      results[1].data,
		Positions:    results[2].data,
		Signals:      results[3].data,
		Transparency: tr,
		PolledAt:     now,
	}
	switch {
	case online && httpStatus != "":
		view.StatusMessage = httpStatus
	case online:
		view.StatusMessage = "UP"
	case tr.HeartbeatStale:
		view.StatusMessage = StatusDown
	default:
		view.StatusMessage = StatusProxyOnly
	}

	m.writeMu.Lock()
	m.ticks++
	view.Tick = m.ticks
	if m.pending != nil {
		if (online && pollID > m.pending.after) || now.After(m.pending.expires) {
			m.pending = nil
		} else {
			view.StatusMessage = m.pending.status
		}
	}
	m.snapshot.Store(&view)
	m.writeMu.Unlock()

	var heartbeatAge time.Duration
	if tr.LastHeartbeat != nil {
		heartbeatAge = now.Sub(*tr.LastHeartbeat)
	}
	m.metrics.RecordPoll(time.Since(start), online, heartbeatAge)
	m.broadcast(view)

	return view
}

// forceStatus overwrites the published status until the next successful poll or TTL
func (m *Monitor) forceStatus(status string) {
	m.writeMu.Lock()
	m.pending = &override{
		status:  status,
		expires: m.now().Add(m.cfg.OverrideTTL),
		after:   m.started.Load(),
	}
	view := *m.snapshot.Load()
	view.StatusMessage = status
	m.snapshot.Store(&view)
	m.writeMu.Unlock()

	m.broadcast(view)
}

// Subscribe returns a channel receiving every new snapshot. Slow readers miss updates.
func (m *Monitor) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 4)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subscribers, ch)
			m.subMu.Unlock()
		})
	}
}

func (m *Monitor) broadcast(v View) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}

func isHeartbeatStale(hb *time.Time, now time.Time, after time.Duration) bool {
	if hb == nil {
		return true
	}
	return now.Sub(*hb) > after
}

// deriveCoreStatus: a stale heartbeat always means offline; otherwise prefer
// the channel's system state, then the HTTP status
func deriveCoreStatus(heartbeatStale bool, systemState *string, httpStatus string) string {
	if heartbeatStale {
		return CoreOffline
	}
	if systemState != nil && *systemState != "" {
		return *systemState
	}
	if strings.EqualFold(httpStatus, "ACTIVE") {
		return CoreLive
	}
	if httpStatus != "" {
		return httpStatus
	}
	return CoreLive
}

// statusString extracts the status word from a /status body
func statusString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"status", "state", "system_state"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
