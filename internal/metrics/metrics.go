// Package metrics defines Prometheus metrics for the approval gate.
//
// Metrics are registered on a dedicated registry served by the gateway's
// /metrics endpoint.
package metrics

import (
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for AsksTotal and DecisionWaitSeconds.
const (
	OutcomeApproved         = "approved"
	OutcomePatched          = "patched"
	OutcomeRejected         = "rejected"
	OutcomeTimedOut         = "timed_out"
	OutcomeConnectionFailed = "connection_failed"
	OutcomeDecryptionFailed = "decryption_failed"
	OutcomeCanceled         = "canceled"
	OutcomeInvalid          = "invalid"
	OutcomeSubmitFailed     = "submit_failed"
)

// Tool labels used in place of names that are missing or not label-safe.
const (
	ToolUnknown = "unknown"
	ToolOther   = "other"
)

var toolLabelPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Registry holds every letsping collector.
var Registry = prometheus.NewRegistry()

var (
	// AsksTotal counts authorization requests by tool and outcome.
	AsksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letsping_asks_total",
			Help: "Total authorization requests by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	// DecisionWaitSeconds is the time from submission to a terminal outcome.
	DecisionWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letsping_decision_wait_seconds",
			Help:    "Seconds spent waiting for a reviewer decision.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	// SubmitErrorsTotal counts failed request submissions by HTTP status code,
	// or "transport" when the service was unreachable.
	SubmitErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letsping_submit_errors_total",
			Help: "Total failed approval request submissions.",
		},
		[]string{"code"},
	)

	// ActiveWaits is the number of in-flight decision waits.
	ActiveWaits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "letsping_active_waits",
			Help: "Number of decision waits currently in flight.",
		},
	)
)

func init() {
	Registry.MustRegister(
		AsksTotal,
		DecisionWaitSeconds,
		SubmitErrorsTotal,
		ActiveWaits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ToolLabel maps a caller-supplied tool name to a bounded label value.
func ToolLabel(tool string) string {
	switch {
	case tool == "":
		return ToolUnknown
	case toolLabelPattern.MatchString(tool):
		return tool
	default:
		return ToolOther
	}
}

// RecordAsk records one finished authorization request.
func RecordAsk(tool, outcome string, wait time.Duration) {
	AsksTotal.WithLabelValues(ToolLabel(tool), outcome).Inc()
	if wait > 0 {
		DecisionWaitSeconds.WithLabelValues(outcome).Observe(wait.Seconds())
	}
}

// RecordSubmitError records a failed submission.
func RecordSubmitError(code string) {
	SubmitErrorsTotal.WithLabelValues(code).Inc()
}

// TrackWait marks a decision wait as in flight. Call the returned func when
// the wait ends.
func TrackWait() func() {
	ActiveWaits.Inc()
	return ActiveWaits.Dec
}
