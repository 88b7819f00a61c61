package scalehint

import (
	"context"
	"sync"
	"time"

	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// pressureGaugeValue maps a PressureState to the numeric value exported on
// the Prometheus gauge (0=normal, 1=pressure, 2=overload).
func pressureGaugeValue(s PressureState) float64 {
	switch s {
	case StatePressure:
		return 1
	case StateOverload:
		return 2
	default:
		return 0
	}
}

// PressureGauge exports the current hysteresis state as a Prometheus gauge.
var PressureGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "demon_scale_hint_pressure_state",
	Help: "Current scale-hint pressure state (0=normal, 1=pressure, 2=overload).",
})

func init() {
	prometheus.MustRegister(PressureGauge)
}

// eventPayload is the wire shape of an agent.scale.hint:v1 event.
type eventPayload struct {
	Event          string            `json:"event"`
	Timestamp      string            `json:"ts"`
	TenantID       string            `json:"tenantId"`
	Recommendation Recommendation    `json:"recommendation"`
	Metrics        metricsPayload    `json:"metrics"`
	Thresholds     thresholdsPayload `json:"thresholds"`
	Hysteresis     hysteresisPayload `json:"hysteresis"`
	Reason         string            `json:"reason"`
	TraceID        string            `json:"traceId,omitempty"`
}

type metricsPayload struct {
	QueueLag       uint64  `json:"queueLag"`
	P95LatencyMs   float64 `json:"p95LatencyMs"`
	ErrorRate      float64 `json:"errorRate"`
	TotalProcessed uint64  `json:"totalProcessed"`
	TotalErrors    uint64  `json:"totalErrors"`
}

type thresholdsPayload struct {
	QueueLagHigh     uint64  `json:"queueLagHigh"`
	QueueLagLow      uint64  `json:"queueLagLow"`
	P95LatencyHighMs float64 `json:"p95LatencyHighMs"`
	P95LatencyLowMs  float64 `json:"p95LatencyLowMs"`
	ErrorRateHigh    float64 `json:"errorRateHigh"`
}

type hysteresisPayload struct {
	CurrentState            PressureState `json:"currentState"`
	StateChangedAt          string        `json:"stateChangedAt,omitempty"`
	ConsecutiveHighSignals  uint32        `json:"consecutiveHighSignals"`
	ConsecutiveLowSignals   uint32        `json:"consecutiveLowSignals"`
	MinSignalsForTransition uint32        `json:"minSignalsForTransition"`
}

// Emitter evaluates periodic runtime metrics and publishes a scale-hint
// event when the recommendation is not steady (or when EmitAll is set).
// The hysteresis snapshot is the only in-process mutable state in the
// engine besides atomic counters; it is guarded by a plain mutex.
type Emitter struct {
	mu     sync.Mutex
	state  *State
	cfg    Config
	log    eventlog.Log
	tenant string
	logger *zap.Logger
}

// New builds an Emitter for tenant, bound to log for publishing.
func New(cfg Config, log eventlog.Log, tenant string, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		state:  NewState(cfg.MinSignalsForTransition, time.Now().UTC()),
		cfg:    cfg,
		log:    log,
		tenant: tenant,
		logger: logger.Named("scalehint"),
	}
}

// EvaluateAndEmit folds metrics into the hysteresis state and, if the
// resulting recommendation warrants it, publishes a scale-hint event.
// Returns the subject published to, or "" if nothing was emitted.
func (e *Emitter) EvaluateAndEmit(ctx context.Context, metrics Metrics) (string, error) {
	if !e.cfg.Enabled {
		return "", nil
	}

	now := time.Now().UTC()
	e.mu.Lock()
	recommendation, reason := e.state.Update(metrics, e.cfg, now)
	snapshot := e.state.snapshot()
	e.mu.Unlock()

	PressureGauge.Set(pressureGaugeValue(snapshot.CurrentState))

	shouldEmit := recommendation != RecommendSteady || e.cfg.EmitAll
	if !shouldEmit {
		e.logger.Debug("skipping scale hint emission", zap.String("recommendation", string(recommendation)))
		return "", nil
	}

	payload := eventPayload{
		Event:          "agent.scale.hint:v1",
		Timestamp:      now.Format(time.RFC3339),
		TenantID:       e.tenant,
		Recommendation: recommendation,
		Metrics: metricsPayload{
			QueueLag:       metrics.QueueLag,
			P95LatencyMs:   metrics.P95LatencyMs,
			ErrorRate:      metrics.ErrorRate,
			TotalProcessed: metrics.TotalProcessed,
			TotalErrors:    metrics.TotalErrors,
		},
		Thresholds: thresholdsPayload{
			QueueLagHigh:     e.cfg.QueueLagHigh,
			QueueLagLow:      e.cfg.QueueLagLow,
			P95LatencyHighMs: e.cfg.P95LatencyHighMs,
			P95LatencyLowMs:  e.cfg.P95LatencyLowMs,
			ErrorRateHigh:    e.cfg.ErrorRateHigh,
		},
		Hysteresis: hysteresisPayload{
			CurrentState:            snapshot.CurrentState,
			StateChangedAt:          snapshot.StateChangedAt.Format(time.RFC3339),
			ConsecutiveHighSignals:  snapshot.ConsecutiveHighSignals,
			ConsecutiveLowSignals:   snapshot.ConsecutiveLowSignals,
			MinSignalsForTransition: snapshot.MinSignalsForTransition,
		},
		Reason: reason,
	}

	subject := eventlog.ScaleSubject(e.tenant)
	msgID := subject + ":" + now.Format(time.RFC3339Nano)
	if err := e.log.Publish(ctx, subject, payload.Event, payload, msgID); err != nil {
		e.logger.Warn("failed to publish scale hint", zap.Error(err))
		return "", nil
	}

	e.logger.Info("emitted scale hint",
		zap.String("recommendation", string(recommendation)),
		zap.Uint64("queue_lag", metrics.QueueLag),
		zap.Float64("p95_latency_ms", metrics.P95LatencyMs),
		zap.Float64("error_rate", metrics.ErrorRate),
	)
	return subject, nil
}
