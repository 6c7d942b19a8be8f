package http

import (
	"net/http"
	"time"

	"github.com/sawpanic/signalgate/internal/kernel"
)

// Health handles GET /health. Degraded dependencies still answer 200 so the
// process is not restarted for a kernel outage.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   s.deps.Version,
	}

	if s.deps.Kernel != nil {
		snap := s.deps.Kernel.Snapshot()
		resp.Kernel = KernelHealth{
			Online:        snap.Online,
			StatusMessage: snap.StatusMessage,
			CoreStatus:    snap.Transparency.CoreStatus,
			PolledAt:      snap.PolledAt,
		}
		resp.Breakers = s.deps.Kernel.BreakerStates()
		if !snap.Online || snap.Transparency.CoreStatus == kernel.CoreOffline {
			resp.Status = "degraded"
		}
	}

	if s.deps.Database != nil {
		hc := s.deps.Database.Health(r.Context())
		resp.Database = &DatabaseHealth{
			Healthy:   hc.Healthy,
			LatencyMS: hc.ResponseTimeMS,
			Errors:    hc.Errors,
		}
		if !hc.Healthy {
			resp.Status = "degraded"
		}
	}

	if s.deps.Recorder != nil {
		sinks := s.deps.Recorder.Sinks()
		resp.Training = TrainingHealth{
			Sinks:       sinks,
			Failures:    s.deps.Metrics.SinkFailureCounts(sinks...),
			Divergences: s.deps.Metrics.DivergenceCount(),
		}
	}
	if s.deps.Validator != nil {
		resp.Training.RecentBuffer = len(s.deps.Validator.Recent())
	}

	if s.deps.Limiter.Enabled() {
		for _, st := range s.deps.Limiter.Stats() {
			if st.IsThrottled() {
				resp.ThrottledSources++
			}
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
