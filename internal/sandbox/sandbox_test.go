package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/persistence"
)

type fakeUsers struct {
	cred *persistence.BrokerCredential
	err  error
}

func (f *fakeUsers) GetUser(context.Context, string) (*persistence.User, error) {
	return nil, persistence.ErrNotFound
}

func (f *fakeUsers) BrokerCredential(context.Context, string) (*persistence.BrokerCredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.cred == nil {
		return nil, persistence.ErrNotFound
	}
	return f.cred, nil
}

type countingBroker struct {
	paper bool
	ok    bool
	calls int
}

func (b *countingBroker) Name() string  { return "TEST" }
func (b *countingBroker) IsPaper() bool { return b.paper }
func (b *countingBroker) ValidateSession(context.Context) (bool, error) {
	b.calls++
	return b.ok, nil
}

// 11:00 IST on a weekday
var marketHours = time.Date(2026, 3, 2, 5, 30, 0, 0, time.UTC)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func checkByID(r PreFlightReport, id CheckID) Check {
	for _, c := range r.Checks {
		if c.ID == id {
			return c
		}
	}
	return Check{}
}

func TestParsePlanType(t *testing.T) {
	tests := []struct {
		in   string
		want PlanType
		ok   bool
	}{
		{"signals", PlanSignals, true},
		{"Automation", PlanAutomation, true},
		{" MANAGED ", PlanManaged, true},
		{"enterprise", PlanSignals, false},
		{"", PlanSignals, false},
	}
	for _, tt := range tests {
		got, ok := ParsePlanType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestSetPlanType_CoercesUnknown(t *testing.T) {
	sb := NewRegistry(nil, nil).WithClock(fixed(marketHours)).Get("u1")

	plan, ok := sb.SetPlanType("automation")
	assert.True(t, ok)
	assert.Equal(t, PlanAutomation, plan)

	plan, ok = sb.SetPlanType("platinum")
	assert.False(t, ok)
	assert.Equal(t, PlanSignals, plan)
	assert.Equal(t, PlanSignals, sb.State().Plan)
}

func TestSetRiskProfile_Caps(t *testing.T) {
	sb := NewRegistry(nil, nil).WithClock(fixed(marketHours)).Get("u1")

	for _, tt := range []struct {
		profile RiskProfile
		want    float64
	}{
		{RiskConservative, 2000},
		{RiskBalanced, 5000},
		{RiskActive, 15000},
	} {
		require.NoError(t, sb.SetRiskProfile(tt.profile))
		assert.Equal(t, tt.want, sb.State().Daily.RiskCap)
	}

	assert.Error(t, sb.SetRiskProfile("YOLO"))
	assert.Equal(t, 15000.0, sb.State().Daily.RiskCap)

	_, err := ParseRiskProfile("yolo")
	assert.Error(t, err)
}

func TestMarketStatusAt(t *testing.T) {
	at := func(h, m, s int) time.Time { return time.Date(2026, 3, 2, h, m, s, 0, IST) }

	assert.Equal(t, MarketClosed, MarketStatusAt(at(8, 59, 59)))
	assert.Equal(t, MarketPreOpen, MarketStatusAt(at(9, 0, 0)))
	assert.Equal(t, MarketPreOpen, MarketStatusAt(at(9, 14, 59)))
	assert.Equal(t, MarketOpen, MarketStatusAt(at(9, 15, 0)))
	assert.Equal(t, MarketOpen, MarketStatusAt(at(15, 30, 0)))
	assert.Equal(t, MarketClosed, MarketStatusAt(at(15, 30, 1)))
	// UTC input is converted
	assert.Equal(t, MarketOpen, MarketStatusAt(marketHours))
}

func TestValidatePreFlight_FreshSandbox(t *testing.T) {
	sb := NewRegistry(nil, nil).WithClock(fixed(marketHours)).Get("u1")

	report := sb.ValidatePreFlight(context.Background())
	assert.False(t, report.Ready)
	assert.True(t, checkByID(report, CheckBrokerConnect).Passed, "signals plan is exempt from broker check")
	assert.True(t, checkByID(report, CheckSessionValid).Passed)
	assert.False(t, checkByID(report, CheckRiskProfile).Passed)
	assert.False(t, checkByID(report, CheckDailyLimit).Passed)
	assert.ElementsMatch(t, []string{"RISK_PROFILE", "DAILY_LIMIT"}, report.Failed())
}

func TestValidatePreFlight_AutomationNeedsLiveBroker(t *testing.T) {
	sb := NewRegistry(nil, nil).WithClock(fixed(marketHours)).Get("u1")
	sb.SetPlanType("AUTOMATION")
	require.NoError(t, sb.SetRiskProfile(RiskBalanced))

	report := sb.ValidatePreFlight(context.Background())
	assert.False(t, report.Ready)
	assert.False(t, checkByID(report, CheckBrokerConnect).Passed)

	broker := &countingBroker{ok: true}
	sb.SetBroker(broker)
	report = sb.ValidatePreFlight(context.Background())
	assert.True(t, report.Ready)
	assert.Equal(t, 1, broker.calls, "session state read once per evaluation")
}

func TestValidatePreFlight_MarketStatusNeverBlocks(t *testing.T) {
	closed := time.Date(2026, 3, 2, 22, 0, 0, 0, IST)
	preOpen := time.Date(2026, 3, 2, 9, 5, 0, 0, IST)

	for _, now := range []time.Time{closed, preOpen} {
		sb := NewRegistry(nil, nil).WithClock(fixed(now)).Get("u1")
		require.NoError(t, sb.SetRiskProfile(RiskConservative))

		report := sb.ValidatePreFlight(context.Background())
		assert.True(t, report.Ready)
		market := checkByID(report, CheckMarketStatus)
		assert.True(t, market.Passed)
		assert.NotEmpty(t, market.Warning)
	}
}

func TestValidateExecutionRequest(t *testing.T) {
	sb := NewRegistry(nil, nil).WithClock(fixed(marketHours)).Get("u1")

	_, err := sb.ValidateExecutionRequest(context.Background(), "momentum", nil)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeNotReady, execErr.Code)

	require.NoError(t, sb.SetRiskProfile(RiskConservative))
	report, err := sb.ValidateExecutionRequest(context.Background(), "momentum", nil)
	require.NoError(t, err)
	assert.True(t, report.Ready)

	sb.RecordLoss(1500)
	_, err = sb.ValidateExecutionRequest(context.Background(), "momentum", nil)
	require.NoError(t, err)

	sb.RecordLoss(500)
	_, err = sb.ValidateExecutionRequest(context.Background(), "momentum", nil)
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CodeRiskCapExceeded, execErr.Code)
	assert.Contains(t, execErr.Message, "2000.00")
}

func TestDailyStatsRollOverOnISTDate(t *testing.T) {
	now := time.Date(2026, 3, 2, 23, 0, 0, 0, IST)
	clock := func() time.Time { return now }
	sb := NewRegistry(nil, nil).WithClock(clock).Get("u1")
	require.NoError(t, sb.SetRiskProfile(RiskBalanced))

	sb.RecordLoss(5000)
	sb.RecordTrade()
	assert.Equal(t, 5000.0, sb.State().Daily.LossIncurred)

	now = now.Add(2 * time.Hour)
	st := sb.State()
	assert.Equal(t, 0.0, st.Daily.LossIncurred)
	assert.Equal(t, 0, st.Daily.TradesExecuted)
	assert.Equal(t, 5000.0, st.Daily.RiskCap)
	assert.Equal(t, "2026-03-03", st.Daily.Date)
}

func TestRegistry_LazySingleInstancePerUser(t *testing.T) {
	created := 0
	reg := NewRegistry(func(userID string) BrokerAdapter {
		created++
		return PaperBroker{}
	}, nil)

	a := reg.Get("u1")
	b := reg.Get("u1")
	c := reg.Get("u2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, reg.Len())
}

func TestCredentialBroker(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		users   *fakeUsers
		want    bool
		wantErr bool
	}{
		{"active", &fakeUsers{cred: &persistence.BrokerCredential{Status: "ACTIVE", TokenExpiresAt: &future}}, true, false},
		{"expired", &fakeUsers{cred: &persistence.BrokerCredential{Status: "ACTIVE", TokenExpiresAt: &past}}, false, false},
		{"revoked", &fakeUsers{cred: &persistence.BrokerCredential{Status: "REVOKED"}}, false, false},
		{"missing", &fakeUsers{}, false, false},
		{"db error", &fakeUsers{err: errors.New("connection refused")}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewCredentialBroker(tt.users, "u1", "ZERODHA")
			ok, err := b.ValidateSession(context.Background())
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.False(t, b.IsPaper())
		})
	}
}

func TestValidatePreFlight_SessionErrorFailsCheck(t *testing.T) {
	sb := NewRegistry(nil, nil).WithClock(fixed(marketHours)).Get("u1")
	require.NoError(t, sb.SetRiskProfile(RiskBalanced))
	sb.SetBroker(NewCredentialBroker(&fakeUsers{err: errors.New("timeout")}, "u1", "ZERODHA"))

	report := sb.ValidatePreFlight(context.Background())
	session := checkByID(report, CheckSessionValid)
	assert.False(t, session.Passed)
	assert.Contains(t, session.Message, "timeout")
	assert.False(t, report.Ready)
}
