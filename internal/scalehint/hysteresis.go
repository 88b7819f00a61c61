package scalehint

import (
	"fmt"
	"strings"
	"time"
)

// PressureState classifies the current load regime.
type PressureState string

const (
	StateNormal   PressureState = "normal"
	StatePressure PressureState = "pressure"
	StateOverload PressureState = "overload"
)

// Recommendation is the scaling action derived from the current state.
type Recommendation string

const (
	RecommendScaleUp   Recommendation = "scale_up"
	RecommendScaleDown Recommendation = "scale_down"
	RecommendSteady    Recommendation = "steady"
)

// Metrics is one periodic snapshot of runtime load.
type Metrics struct {
	QueueLag       uint64
	P95LatencyMs   float64
	ErrorRate      float64
	TotalProcessed uint64
	TotalErrors    uint64
}

// State is the hysteresis counters and current pressure classification.
// It is not safe for concurrent use; callers serialize access with a mutex
// (see Emitter).
type State struct {
	CurrentState           PressureState
	StateChangedAt         time.Time
	ConsecutiveHighSignals uint32
	ConsecutiveLowSignals  uint32
	minSignals             uint32
}

// NewState starts in PressureState Normal with zeroed counters.
func NewState(minSignals uint32, now time.Time) *State {
	return &State{
		CurrentState:   StateNormal,
		StateChangedAt: now,
		minSignals:     minSignals,
	}
}

// Update folds one metrics sample into the hysteresis state, returning the
// recommendation and a human-readable reason for it.
func (s *State) Update(metrics Metrics, cfg Config, now time.Time) (Recommendation, string) {
	isHigh := metrics.QueueLag > cfg.QueueLagHigh ||
		metrics.P95LatencyMs > cfg.P95LatencyHighMs ||
		metrics.ErrorRate > cfg.ErrorRateHigh

	isLow := metrics.QueueLag < cfg.QueueLagLow &&
		metrics.P95LatencyMs < cfg.P95LatencyLowMs &&
		metrics.ErrorRate < cfg.ErrorRateHigh

	switch {
	case isHigh:
		s.ConsecutiveHighSignals++
		s.ConsecutiveLowSignals = 0
	case isLow:
		s.ConsecutiveLowSignals++
		s.ConsecutiveHighSignals = 0
	default:
		s.ConsecutiveHighSignals = 0
		s.ConsecutiveLowSignals = 0
	}

	oldState := s.CurrentState
	switch s.CurrentState {
	case StateNormal:
		if s.ConsecutiveHighSignals >= s.minSignals {
			s.CurrentState = StatePressure
			s.StateChangedAt = now
		}
	case StatePressure:
		if s.ConsecutiveHighSignals >= s.minSignals*2 {
			s.CurrentState = StateOverload
			s.StateChangedAt = now
		} else if s.ConsecutiveLowSignals >= s.minSignals {
			s.CurrentState = StateNormal
			s.StateChangedAt = now
		}
	case StateOverload:
		if s.ConsecutiveLowSignals >= s.minSignals {
			s.CurrentState = StatePressure
			s.StateChangedAt = now
		}
	}

	return s.computeRecommendation(metrics, cfg, oldState)
}

func (s *State) computeRecommendation(metrics Metrics, cfg Config, oldState PressureState) (Recommendation, string) {
	switch s.CurrentState {
	case StateOverload:
		reasons := highPressureReasons(metrics, cfg)
		return RecommendScaleUp, fmt.Sprintf("overload detected (%s); consider scaling up agents", strings.Join(reasons, ", "))
	case StatePressure:
		if oldState == StateNormal {
			reasons := highPressureReasons(metrics, cfg)
			return RecommendScaleUp, fmt.Sprintf("elevated pressure (%s); consider scaling up agents", strings.Join(reasons, ", "))
		}
		return RecommendSteady, "pressure decreasing but not yet normal; holding steady"
	default: // StateNormal
		if s.ConsecutiveLowSignals >= s.minSignals*2 {
			return RecommendScaleDown, fmt.Sprintf("low utilization for %d consecutive intervals; consider scaling down", s.ConsecutiveLowSignals)
		}
		return RecommendSteady, "metrics within normal operating range"
	}
}

func highPressureReasons(metrics Metrics, cfg Config) []string {
	var reasons []string
	if metrics.QueueLag > cfg.QueueLagHigh {
		reasons = append(reasons, fmt.Sprintf("queue lag %d > %d", metrics.QueueLag, cfg.QueueLagHigh))
	}
	if metrics.P95LatencyMs > cfg.P95LatencyHighMs {
		reasons = append(reasons, fmt.Sprintf("P95 latency %.1fms > %.1fms", metrics.P95LatencyMs, cfg.P95LatencyHighMs))
	}
	if metrics.ErrorRate > cfg.ErrorRateHigh {
		reasons = append(reasons, fmt.Sprintf("error rate %.3f > %.3f", metrics.ErrorRate, cfg.ErrorRateHigh))
	}
	return reasons
}

// Snapshot is an immutable copy of State for safe export outside the lock.
type Snapshot struct {
	CurrentState            PressureState
	StateChangedAt          time.Time
	ConsecutiveHighSignals  uint32
	ConsecutiveLowSignals   uint32
	MinSignalsForTransition uint32
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		CurrentState:            s.CurrentState,
		StateChangedAt:          s.StateChangedAt,
		ConsecutiveHighSignals:  s.ConsecutiveHighSignals,
		ConsecutiveLowSignals:   s.ConsecutiveLowSignals,
		MinSignalsForTransition: s.minSignals,
	}
}
