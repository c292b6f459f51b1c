package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters.
type Metrics struct {
	GenerationsStarted   *prometheus.CounterVec
	GenerationsFinished  *prometheus.CounterVec
	CreditsDebited       *prometheus.CounterVec
	AdmissionDenied      *prometheus.CounterVec
	PollChecks           prometheus.Counter
	CallbacksReceived    *prometheus.CounterVec
	Deliveries           *prometheus.CounterVec
	OldestPendingSeconds prometheus.Gauge
	CompletionLatency    prometheus.Histogram
}

// New registers engine metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers engine metrics on the given registerer. Tests use
// a throwaway registry to avoid duplicate registration panics.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GenerationsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkflow_generations_started_total",
			Help: "Generation requests admitted and created, by type.",
		}, []string{"type"}),
		GenerationsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkflow_generations_finished_total",
			Help: "Generation requests reaching a terminal state, by type and status.",
		}, []string{"type", "status"}),
		CreditsDebited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkflow_credits_debited_total",
			Help: "Credits debited, by operation type.",
		}, []string{"operation"}),
		AdmissionDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkflow_admission_denied_total",
			Help: "Generation requests denied at admission, by reason.",
		}, []string{"reason"}),
		PollChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inkflow_poll_checks_total",
			Help: "Status checks issued against the long-running job provider.",
		}),
		CallbacksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkflow_callbacks_received_total",
			Help: "Inbound completion callbacks, by outcome.",
		}, []string{"outcome"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inkflow_deliveries_total",
			Help: "Secondary channel delivery attempts, by outcome.",
		}, []string{"outcome"}),
		OldestPendingSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inkflow_oldest_pending_age_seconds",
			Help: "Age of the oldest pending generation request.",
		}),
		CompletionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inkflow_completion_latency_seconds",
			Help:    "Time from request creation to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	reg.MustRegister(
		m.GenerationsStarted,
		m.GenerationsFinished,
		m.CreditsDebited,
		m.AdmissionDenied,
		m.PollChecks,
		m.CallbacksReceived,
		m.Deliveries,
		m.OldestPendingSeconds,
		m.CompletionLatency,
	)
	return m
}
