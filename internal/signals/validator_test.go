package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/persistence"
)

type captureSink struct {
	mu      sync.Mutex
	records []persistence.TrainingRecord
	err     error
}

func (c *captureSink) LogIngest(_ context.Context, rec persistence.TrainingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return c.err
}

type captureRouter struct {
	routed []Signal
	err    error
}

func (c *captureRouter) Route(_ context.Context, sig Signal) error {
	c.routed = append(c.routed, sig)
	return c.err
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestValidator(sink AuditSink, router Router, reg *metrics.Registry) *Validator {
	return NewValidator(DefaultConfig(), NewStatsRegistry(), sink, router, reg).
		WithClock(func() time.Time { return fixedNow })
}

func sellSignal(age time.Duration) Signal {
	return Signal{
		Source:     "alpha-channel",
		Symbol:     "NIFTY",
		Side:       SideSell,
		EntryPrice: 100,
		StopLoss:   105,
		Targets:    []float64{90},
		Confidence: 85,
		Timestamp:  fixedNow.Add(-age),
		Metadata:   map[string]interface{}{"raw_text": "SELL NIFTY @100 SL 105 TGT 90"},
	}
}

func TestValidate_Rules(t *testing.T) {
	v := newTestValidator(nil, nil, nil)

	tests := []struct {
		name   string
		mutate func(*Signal)
		want   Verdict
	}{
		{"valid sell", func(s *Signal) {}, Verdict{Valid: true}},
		{"stale", func(s *Signal) { s.Timestamp = fixedNow.Add(-61 * time.Second) }, Verdict{Reason: ReasonStale}},
		{"exactly sixty seconds is fresh", func(s *Signal) { s.Timestamp = fixedNow.Add(-60 * time.Second) }, Verdict{Valid: true}},
		{"buy with stop above entry", func(s *Signal) {
			s.Side = SideBuy
			s.StopLoss = 105
			s.Targets = []float64{110}
		}, Verdict{Reason: ReasonInvalidRisk}},
		{"buy target below entry", func(s *Signal) {
			s.Side = SideBuy
			s.StopLoss = 95
			s.Targets = []float64{110, 99}
		}, Verdict{Reason: ReasonInvalidReward}},
		{"sell stop equal to entry", func(s *Signal) { s.StopLoss = 100 }, Verdict{Reason: ReasonInvalidRisk}},
		{"sell target above entry", func(s *Signal) { s.Targets = []float64{101} }, Verdict{Reason: ReasonInvalidReward}},
		{"no targets", func(s *Signal) { s.Targets = nil }, Verdict{Reason: ReasonInvalidReward}},
		{"unknown side", func(s *Signal) { s.Side = "HOLD" }, Verdict{Reason: ReasonInvalidSide}},
		{"low confidence", func(s *Signal) { s.Confidence = 79.9 }, Verdict{Reason: ReasonLowConfidence}},
		{"stale wins over bad levels", func(s *Signal) {
			s.Timestamp = fixedNow.Add(-2 * time.Minute)
			s.StopLoss = 90
			s.Confidence = 10
		}, Verdict{Reason: ReasonStale}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := sellSignal(5 * time.Second)
			tt.mutate(&sig)
			assert.Equal(t, tt.want, v.Validate(sig, fixedNow))
		})
	}
}

func TestScore_Breakdown(t *testing.T) {
	neutral := ChannelStats{SuccessRate: 0.5}

	b := Score(sellSignal(5*time.Second), neutral, fixedNow)
	assert.Equal(t, ScoreBreakdown{Parsing: 100, Logic: 100, Latency: 100, History: 50, Total: 85}, b)

	b = Score(sellSignal(20*time.Second), ChannelStats{SuccessRate: 1}, fixedNow)
	assert.Equal(t, 80, b.Latency)
	assert.Equal(t, 100, b.History)
	assert.Equal(t, 96, b.Total)

	b = Score(sellSignal(45*time.Second), ChannelStats{SuccessRate: 0}, fixedNow)
	assert.Equal(t, 50, b.Latency)
	assert.Equal(t, 60, b.Total)

	b = Score(sellSignal(90*time.Second), ChannelStats{SuccessRate: 0}, fixedNow)
	assert.Equal(t, 0, b.Latency)
	assert.Equal(t, 50, b.Total)
}

func TestIngest_AcceptsAndScores(t *testing.T) {
	sink := &captureSink{}
	router := &captureRouter{}
	reg := metrics.NewRegistry()
	v := newTestValidator(sink, router, reg)

	in := sellSignal(5 * time.Second)
	in.ID = "client-supplied"

	got, err := v.Ingest(context.Background(), in)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.NotEqual(t, "client-supplied", got.ID)
	require.NotNil(t, got.ScoreBreakdown)
	assert.Equal(t, 100, got.ScoreBreakdown.Latency)
	assert.Equal(t, 85.0, got.Confidence)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, got.ID, rec.SignalID)
	assert.Equal(t, persistence.StatusAccepted, rec.ValidationResult.Status)
	assert.Equal(t, int64(5000), rec.LatencyMS)
	assert.Equal(t, 85.0, rec.ParseConfidence)
	assert.Equal(t, "SELL NIFTY @100 SL 105 TGT 90", rec.RawMessage)

	var breakdown ScoreBreakdown
	require.NoError(t, json.Unmarshal(rec.ValidationResult.Breakdown, &breakdown))
	assert.Equal(t, 85, breakdown.Total)

	require.Len(t, router.routed, 1)
	assert.Equal(t, got.ID, router.routed[0].ID)

	recent := v.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, got.ID, recent[0].ID)
	assert.Equal(t, int64(0), v.Stats().Get("alpha-channel").TotalSignals)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.SignalsIngested.WithLabelValues("ACCEPTED", "")))
}

func TestIngest_RejectionIsRecorded(t *testing.T) {
	sink := &captureSink{}
	router := &captureRouter{}
	reg := metrics.NewRegistry()
	v := newTestValidator(sink, router, reg)

	_, err := v.Ingest(context.Background(), sellSignal(61*time.Second))
	require.Error(t, err)

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonStale, rej.Reason)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.True(t, strings.HasPrefix(rec.SignalID, "rejected-"))
	assert.Equal(t, persistence.StatusRejected, rec.ValidationResult.Status)
	assert.Equal(t, string(ReasonStale), rec.ValidationResult.Reason)
	assert.Equal(t, int64(-1), rec.LatencyMS)

	assert.Empty(t, router.routed)
	assert.Empty(t, v.Recent())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.SignalsIngested.WithLabelValues("REJECTED", "STALE_SIGNAL")))
}

func TestIngest_BuyWithStopAboveEntry(t *testing.T) {
	sink := &captureSink{}
	v := newTestValidator(sink, nil, nil)

	sig := sellSignal(time.Second)
	sig.Side = SideBuy
	sig.StopLoss = 105
	sig.Targets = []float64{110}

	_, err := v.Ingest(context.Background(), sig)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonInvalidRisk, rej.Reason)
	assert.Len(t, sink.records, 1)
}

func TestIngest_SinkAndRouteFailuresDoNotRejectSignal(t *testing.T) {
	sink := &captureSink{err: errors.New("postgres down")}
	router := &captureRouter{err: errors.New("broker unavailable")}
	reg := metrics.NewRegistry()
	v := newTestValidator(sink, router, reg)

	got, err := v.Ingest(context.Background(), sellSignal(time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.RouteFailures))
}

func TestRing_CapacityAndOrder(t *testing.T) {
	v := newTestValidator(nil, nil, nil)

	var ids []string
	for i := 0; i < 55; i++ {
		sig := sellSignal(time.Second)
		sig.Symbol = fmt.Sprintf("SYM%d", i)
		got, err := v.Ingest(context.Background(), sig)
		require.NoError(t, err)
		ids = append(ids, got.ID)
	}

	recent := v.Recent()
	require.Len(t, recent, 50)
	assert.Equal(t, ids[54], recent[0].ID)
	assert.Equal(t, ids[5], recent[49].ID)

	_, ok := v.Lookup(ids[4])
	assert.False(t, ok, "evicted signal should be gone")
}

func TestRing_ReturnsCopies(t *testing.T) {
	r := NewRing(2)
	r.Push(Signal{ID: "a", Targets: []float64{1}})

	got := r.Recent()
	got[0].Targets[0] = 99

	again, ok := r.Find("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, again.Targets[0])
}

func TestRecordOutcome_MovesHistory(t *testing.T) {
	v := newTestValidator(nil, nil, nil)

	got, err := v.Ingest(context.Background(), sellSignal(time.Second))
	require.NoError(t, err)

	pnl := 12.0
	stats, ok := v.RecordOutcome(context.Background(), got.ID, OutcomeFromStatus("TARGET_HIT", &pnl))
	require.True(t, ok)
	assert.InDelta(t, 0.6, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.6, stats.TargetHitRate, 1e-9)
	assert.InDelta(t, 0.4, stats.StopLossRate, 1e-9)
	assert.InDelta(t, 2.4, stats.AvgPnLPoints, 1e-9)

	assert.Equal(t, int64(1), stats.TotalSignals)

	_, ok = v.RecordOutcome(context.Background(), "unknown", Outcome{})
	assert.False(t, ok)
}

func TestIngest_LeavesChannelStatsUntouched(t *testing.T) {
	v := newTestValidator(nil, nil, nil)
	before := v.Stats().Get("alpha-channel")

	for i := 0; i < 3; i++ {
		_, err := v.Ingest(context.Background(), sellSignal(time.Second))
		require.NoError(t, err)
	}

	assert.Equal(t, before, v.Stats().Get("alpha-channel"))
	assert.Empty(t, v.Stats().Snapshot())
}

// sinkStore serves GetBySignalID from the records a captureSink collected
type sinkStore struct {
	sink *captureSink
	err  error
}

func (s *sinkStore) GetBySignalID(_ context.Context, id string) (*persistence.TrainingRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	for i := range s.sink.records {
		if s.sink.records[i].SignalID == id {
			rec := s.sink.records[i]
			return &rec, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func TestRecordOutcome_EvictedSignalResolvedFromStore(t *testing.T) {
	sink := &captureSink{}
	v := newTestValidator(sink, nil, nil).WithStore(&sinkStore{sink: sink})

	first, err := v.Ingest(context.Background(), sellSignal(time.Second))
	require.NoError(t, err)
	for i := 0; i < DefaultConfig().BufferSize; i++ {
		other := sellSignal(time.Second)
		other.Source = "beta-channel"
		_, err := v.Ingest(context.Background(), other)
		require.NoError(t, err)
	}
	_, buffered := v.Lookup(first.ID)
	require.False(t, buffered)

	stats, ok := v.RecordOutcome(context.Background(), first.ID, Outcome{Success: false})
	require.True(t, ok)
	assert.Equal(t, "alpha-channel", stats.Source)
	assert.InDelta(t, 0.4, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.4, v.Stats().Get("alpha-channel").SuccessRate, 1e-9)
	assert.Equal(t, 0.5, v.Stats().Get("beta-channel").SuccessRate)
}

func TestRecordOutcome_StoreMisses(t *testing.T) {
	sink := &captureSink{}
	v := newTestValidator(sink, nil, nil).WithStore(&sinkStore{sink: sink})

	_, err := v.Ingest(context.Background(), sellSignal(61*time.Second))
	require.Error(t, err)
	require.Len(t, sink.records, 1)

	t.Run("rejected signals are not scored", func(t *testing.T) {
		_, ok := v.RecordOutcome(context.Background(), sink.records[0].SignalID, Outcome{Success: true})
		assert.False(t, ok)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, ok := v.RecordOutcome(context.Background(), "missing", Outcome{Success: true})
		assert.False(t, ok)
	})

	t.Run("store error", func(t *testing.T) {
		failing := newTestValidator(nil, nil, nil).WithStore(&sinkStore{err: errors.New("connection refused")})
		_, ok := failing.RecordOutcome(context.Background(), "sig-1", Outcome{Success: true})
		assert.False(t, ok)
	})

	assert.Empty(t, v.Stats().Snapshot())
}

func TestOutcomeFromStatus(t *testing.T) {
	loss := -3.0
	assert.True(t, OutcomeFromStatus("profit", nil).Success)
	assert.False(t, OutcomeFromStatus("TARGET_HIT", &loss).Success)
	assert.True(t, OutcomeFromStatus("SL_HIT", nil).StopLossHit)
	assert.False(t, OutcomeFromStatus("CLOSED", nil).Success)
}

func TestParseSide(t *testing.T) {
	s, ok := ParseSide(" buy ")
	assert.True(t, ok)
	assert.Equal(t, SideBuy, s)

	_, ok = ParseSide("hold")
	assert.False(t, ok)
}
