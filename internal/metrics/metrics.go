// Package metrics defines the process-level Prometheus metrics served on
// /metrics (§6): ritual run outcomes, approval gate decisions, the TTL
// worker's handled/expired/noop counters, and capsule invocation timing.
//
// All metrics register with the default Prometheus registry, the one
// promhttp.Handler serves in internal/server, so nothing beyond importing
// this package and calling its Record* functions is needed to get a metric
// onto the endpoint.
//
// Metric naming follows Prometheus conventions:
//   - demon_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RunsTotal counts ritual runs by ritual ID and terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demon_ritual_runs_total",
			Help: "Total number of ritual runs by ritual and terminal status.",
		},
		[]string{"ritual", "status"},
	)

	// RunDurationSeconds is a histogram of run duration by ritual, measured
	// from ritual.started:v1 to the terminal event.
	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demon_ritual_run_duration_seconds",
			Help:    "Duration of ritual runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"ritual"},
	)

	// ApprovalDecisionsTotal counts approval gate resolutions by ritual and
	// decision (granted, denied, override).
	ApprovalDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demon_approval_decisions_total",
			Help: "Total approval gate decisions by ritual and resolution.",
		},
		[]string{"ritual", "decision"},
	)

	// EscalationsTotal counts escalation-chain advances by ritual and level.
	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demon_approval_escalations_total",
			Help: "Total escalation-chain advances by ritual and level.",
		},
		[]string{"ritual", "level"},
	)

	// TTLWorkerEventsTotal counts timer.scheduled:v1 deliveries processed by
	// the TTL worker, by outcome (expired, noop).
	TTLWorkerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demon_ttl_worker_events_total",
			Help: "Total timer deliveries processed by the TTL worker, by outcome.",
		},
		[]string{"outcome"},
	)

	// CapsuleInvocationsTotal counts capsule executions by runtime and
	// success/failure.
	CapsuleInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demon_capsule_invocations_total",
			Help: "Total capsule executions by runtime and result.",
		},
		[]string{"runtime", "result"},
	)

	// CapsuleInvocationDurationSeconds is a histogram of capsule execution
	// wall-clock time by runtime.
	CapsuleInvocationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "demon_capsule_invocation_duration_seconds",
			Help:    "Wall-clock duration of capsule invocations in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"runtime"},
	)

	// ActiveRuns is the number of ritual runs currently in a non-terminal
	// state, as last set by a caller. The engine does not track this itself,
	// and nothing in this module sets it.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "demon_ritual_active_runs",
			Help: "Number of ritual runs currently in a non-terminal state.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		RunDurationSeconds,
		ApprovalDecisionsTotal,
		EscalationsTotal,
		TTLWorkerEventsTotal,
		CapsuleInvocationsTotal,
		CapsuleInvocationDurationSeconds,
		ActiveRuns,
	)
}

// RecordRunComplete records the terminal outcome and duration of a ritual run.
func RecordRunComplete(ritual, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(ritual, status).Inc()
	RunDurationSeconds.WithLabelValues(ritual).Observe(duration.Seconds())
}

// RecordApprovalDecision records a single gate resolution.
func RecordApprovalDecision(ritual, decision string) {
	ApprovalDecisionsTotal.WithLabelValues(ritual, decision).Inc()
}

// RecordEscalation records a single escalation-chain advance.
func RecordEscalation(ritual, level string) {
	EscalationsTotal.WithLabelValues(ritual, level).Inc()
}

// RecordTTLWorkerEvent records one TTL worker delivery outcome.
func RecordTTLWorkerEvent(outcome string) {
	TTLWorkerEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordCapsuleInvocation records one capsule execution's runtime, result,
// and wall-clock duration.
func RecordCapsuleInvocation(runtime, result string, duration time.Duration) {
	CapsuleInvocationsTotal.WithLabelValues(runtime, result).Inc()
	CapsuleInvocationDurationSeconds.WithLabelValues(runtime).Observe(duration.Seconds())
}
