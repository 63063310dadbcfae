// Package metrics registers the Prometheus instruments for the control
// plane: submission outcomes, pipeline latency, escalation SLA counters, and
// queue health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcome buckets.
const (
	OutcomeSuccess       = "success"
	OutcomeDuplicate     = "duplicate"
	OutcomeConsentDenied = "consent_denied"
	OutcomeRejected      = "rejected"
)

// Metrics holds all Prometheus instruments.
type Metrics struct {
	// Submission pipeline
	SubmissionTotal    *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec

	// Intent lifecycle
	TransitionTotal *prometheus.CounterVec
	ActiveIntents   *prometheus.GaugeVec

	// Escalations
	EscalationTotal    *prometheus.CounterVec
	EscalationBreaches *prometheus.CounterVec
	EscalationOpen     *prometheus.GaugeVec

	// Infrastructure
	QueueEnqueueTotal *prometheus.CounterVec
	LockContention    *prometheus.CounterVec
	ChainVerifyTotal  *prometheus.CounterVec
}

// New creates and registers all instruments with a dedicated registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_submissions_total",
				Help: "Intent submissions by outcome bucket",
			},
			[]string{"tenant_id", "outcome"},
		),

		SubmissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intent_submission_duration_seconds",
				Help:    "End-to-end submission pipeline latency",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"tenant_id"},
		),

		TransitionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intent_transitions_total",
				Help: "Status transitions recorded on the event chain",
			},
			[]string{"tenant_id", "from", "to"},
		),

		ActiveIntents: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intent_active",
				Help: "In-flight intents counted against the tenant cap",
			},
			[]string{"tenant_id"},
		),

		EscalationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escalations_total",
				Help: "Escalations by resolution",
			},
			[]string{"tenant_id", "status"},
		),

		EscalationBreaches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escalation_sla_breaches_total",
				Help: "Escalations resolved or timed out past their deadline",
			},
			[]string{"tenant_id"},
		),

		EscalationOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "escalations_open",
				Help: "Escalations currently pending or acknowledged",
			},
			[]string{"tenant_id"},
		),

		QueueEnqueueTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_enqueue_total",
				Help: "Durable queue enqueue attempts",
			},
			[]string{"namespace", "result"},
		),

		LockContention: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dedupe_lock_contention_total",
				Help: "Distributed lock acquisitions that waited or failed",
			},
			[]string{"tenant_id", "result"},
		),

		ChainVerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_chain_verifications_total",
				Help: "Event chain verification runs by result",
			},
			[]string{"result"},
		),
	}
}

// NewDefault registers against the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
