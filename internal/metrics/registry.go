package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for signalgate.
// Every Record* method is safe to call on a nil *Registry.
type Registry struct {
	reg *prometheus.Registry

	SignalsIngested *prometheus.CounterVec
	RouteFailures   prometheus.Counter

	SinkWrites     *prometheus.CounterVec
	SinkFailures   *prometheus.CounterVec
	SinkDivergence prometheus.Counter

	KernelPollDuration prometheus.Histogram
	KernelOnline       prometheus.Gauge
	HeartbeatAge       prometheus.Gauge
	KernelCommands     *prometheus.CounterVec

	QuotaRejections *prometheus.CounterVec
	PreflightChecks *prometheus.CounterVec

	IngestThrottled *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewRegistry creates a registry with its own Prometheus collector set
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		SignalsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_signals_ingested_total",
				Help: "Signals processed by the validator, by result and reason",
			},
			[]string{"result", "reason"},
		),

		RouteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signalgate_route_failures_total",
				Help: "Accepted signals that could not be handed to downstream routing",
			},
		),

		SinkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_training_sink_writes_total",
				Help: "Training audit writes by sink and operation",
			},
			[]string{"sink", "op"},
		),

		SinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_training_sink_failures_total",
				Help: "Failed training audit writes by sink and operation",
			},
			[]string{"sink", "op"},
		),

		SinkDivergence: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signalgate_training_sink_divergence_total",
				Help: "Audit events written to some sinks but not all",
			},
		),

		KernelPollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signalgate_kernel_poll_duration_seconds",
				Help:    "Duration of one kernel health poll tick",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 1.5, 2.0, 3.0},
			},
		),

		KernelOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalgate_kernel_online",
				Help: "1 when the kernel status endpoint answered on the last poll",
			},
		),

		HeartbeatAge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalgate_kernel_heartbeat_age_seconds",
				Help: "Age of the last kernel heartbeat seen on the transparency channel",
			},
		),

		KernelCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_kernel_commands_total",
				Help: "Commands sent to the kernel by command and result",
			},
			[]string{"command", "result"},
		),

		QuotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_quota_rejections_total",
				Help: "Live trade requests refused by the quota ledger, by tier",
			},
			[]string{"tier"},
		),

		PreflightChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_preflight_checks_total",
				Help: "Sandbox pre-flight check evaluations by check and result",
			},
			[]string{"check", "result"},
		),

		IngestThrottled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_ingest_throttled_total",
				Help: "Inbound requests refused by the per-source rate limiter",
			},
			[]string{"source"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_http_requests_total",
				Help: "Inbound API requests by route and status code",
			},
			[]string{"route", "code"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_http_request_duration_seconds",
				Help:    "Inbound API request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	r.reg.MustRegister(
		r.SignalsIngested,
		r.RouteFailures,
		r.SinkWrites,
		r.SinkFailures,
		r.SinkDivergence,
		r.KernelPollDuration,
		r.KernelOnline,
		r.HeartbeatAge,
		r.KernelCommands,
		r.QuotaRejections,
		r.PreflightChecks,
		r.IngestThrottled,
		r.HTTPRequests,
		r.HTTPDuration,
		collectors.NewGoCollector(),
	)

	return r
}

// Gatherer exposes the underlying registry for scraping and tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for Prometheus metrics
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordIngest counts one validator decision
func (r *Registry) RecordIngest(result, reason string) {
	if r == nil {
		return
	}
	r.SignalsIngested.WithLabelValues(result, reason).Inc()
}

// RecordRouteFailure counts a signal that was accepted but not routed
func (r *Registry) RecordRouteFailure() {
	if r == nil {
		return
	}
	r.RouteFailures.Inc()
}

// RecordSinkWrite counts a sink write and its failure, if any
func (r *Registry) RecordSinkWrite(sink, op string, err error) {
	if r == nil {
		return
	}
	r.SinkWrites.WithLabelValues(sink, op).Inc()
	if err != nil {
		r.SinkFailures.WithLabelValues(sink, op).Inc()
	}
}

// RecordSinkDivergence counts an event that reached only part of the sinks
func (r *Registry) RecordSinkDivergence(op string, failed []string) {
	if r == nil {
		return
	}
	r.SinkDivergence.Inc()
	log.Warn().
		Str("op", op).
		Strs("failed_sinks", failed).
		Msg("Training sinks diverged")
}

// RecordPoll records one kernel poll tick
func (r *Registry) RecordPoll(duration time.Duration, online bool, heartbeatAge time.Duration) {
	if r == nil {
		return
	}
	r.KernelPollDuration.Observe(duration.Seconds())
	if online {
		r.KernelOnline.Set(1)
	} else {
		r.KernelOnline.Set(0)
	}
	r.HeartbeatAge.Set(heartbeatAge.Seconds())
}

// RecordCommand counts one kernel command outcome
func (r *Registry) RecordCommand(command string, success bool) {
	if r == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	r.KernelCommands.WithLabelValues(command, result).Inc()
}

// RecordQuotaRejection counts a quota refusal for the tier
func (r *Registry) RecordQuotaRejection(tier string) {
	if r == nil {
		return
	}
	r.QuotaRejections.WithLabelValues(tier).Inc()
}

// RecordPreflight counts one pre-flight check evaluation
func (r *Registry) RecordPreflight(check string, passed bool) {
	if r == nil {
		return
	}
	result := "pass"
	if !passed {
		result = "fail"
	}
	r.PreflightChecks.WithLabelValues(check, result).Inc()
}

// RecordThrottle counts a request refused by the rate limiter
func (r *Registry) RecordThrottle(source string) {
	if r == nil {
		return
	}
	r.IngestThrottled.WithLabelValues(source).Inc()
}

// RecordHTTP records one served API request
func (r *Registry) RecordHTTP(route string, code int, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SinkFailureCounts returns failure totals per sink, summed over operations
func (r *Registry) SinkFailureCounts(sinks ...string) map[string]float64 {
	out := make(map[string]float64, len(sinks))
	if r == nil {
		return out
	}
	for _, sink := range sinks {
		total := 0.0
		for _, op := range []string{"ingest", "outcome"} {
			counter, err := r.SinkFailures.GetMetricWithLabelValues(sink, op)
			if err != nil {
				continue
			}
			m := &dto.Metric{}
			if err := counter.Write(m); err == nil {
				total += m.GetCounter().GetValue()
			}
		}
		out[sink] = total
	}
	return out
}

// DivergenceCount returns the number of diverged audit events so far
func (r *Registry) DivergenceCount() float64 {
	if r == nil {
		return 0
	}
	m := &dto.Metric{}
	if err := r.SinkDivergence.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
