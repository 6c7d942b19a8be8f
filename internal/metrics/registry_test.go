package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry

	assert.NotPanics(t, func() {
		r.RecordIngest("accepted", "")
		r.RecordRouteFailure()
		r.RecordSinkWrite("postgres", "ingest", errors.New("boom"))
		r.RecordSinkDivergence("ingest", []string{"postgres"})
		r.RecordPoll(time.Second, true, time.Second)
		r.RecordCommand("panic", false)
		r.RecordQuotaRejection("FREE")
		r.RecordPreflight("BROKER_CONNECT", true)
	})
	assert.Equal(t, 0.0, r.DivergenceCount())
	assert.Empty(t, r.SinkFailureCounts("postgres"))
}

func TestRegistry_SinkCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordSinkWrite("postgres", "ingest", nil)
	r.RecordSinkWrite("postgres", "ingest", errors.New("down"))
	r.RecordSinkWrite("postgres", "outcome", errors.New("down"))
	r.RecordSinkWrite("mirror", "ingest", nil)
	r.RecordSinkDivergence("ingest", []string{"postgres"})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.SinkWrites.WithLabelValues("postgres", "ingest")))
	counts := r.SinkFailureCounts("postgres", "mirror")
	assert.Equal(t, 2.0, counts["postgres"])
	assert.Equal(t, 0.0, counts["mirror"])
	assert.Equal(t, 1.0, r.DivergenceCount())
}

func TestRegistry_PollAndCommands(t *testing.T) {
	r := NewRegistry()

	r.RecordPoll(200*time.Millisecond, false, 7*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.KernelOnline))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.HeartbeatAge))

	r.RecordCommand("panic", true)
	r.RecordCommand("panic", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.KernelCommands.WithLabelValues("panic", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.KernelCommands.WithLabelValues("panic", "failure")))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.RecordIngest("rejected", "STALE_SIGNAL")

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `signalgate_signals_ingested_total{reason="STALE_SIGNAL",result="rejected"} 1`)
}
