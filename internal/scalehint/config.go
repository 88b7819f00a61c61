// Package scalehint implements the hysteresis-based scale recommendation
// emitter (§4.7): classify periodic runtime metrics into a pressure state,
// derive a scale recommendation, and publish a non-steady recommendation as
// an event.
package scalehint

import (
	"os"
	"strconv"
)

// Config holds the scale-hint thresholds, loaded from environment variables.
type Config struct {
	QueueLagHigh            uint64
	QueueLagLow             uint64
	P95LatencyHighMs        float64
	P95LatencyLowMs         float64
	ErrorRateHigh           float64
	MinSignalsForTransition uint32
	Enabled                 bool
	EmitAll                 bool
}

// DefaultConfig mirrors the upstream defaults: emission is off until a
// deployment opts in.
func DefaultConfig() Config {
	return Config{
		QueueLagHigh:            500,
		QueueLagLow:             50,
		P95LatencyHighMs:        1000.0,
		P95LatencyLowMs:         100.0,
		ErrorRateHigh:           0.05,
		MinSignalsForTransition: 3,
		Enabled:                 false,
	}
}

// ConfigFromEnv loads thresholds from SCALE_HINT_* environment variables,
// falling back to DefaultConfig for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Enabled = envBool("SCALE_HINT_ENABLED", cfg.Enabled)
	cfg.EmitAll = envBool("SCALE_HINT_EMIT_ALL", cfg.EmitAll)
	cfg.QueueLagHigh = envUint("SCALE_HINT_QUEUE_LAG_HIGH", cfg.QueueLagHigh)
	cfg.QueueLagLow = envUint("SCALE_HINT_QUEUE_LAG_LOW", cfg.QueueLagLow)
	cfg.P95LatencyHighMs = envFloat("SCALE_HINT_P95_LATENCY_HIGH_MS", cfg.P95LatencyHighMs)
	cfg.P95LatencyLowMs = envFloat("SCALE_HINT_P95_LATENCY_LOW_MS", cfg.P95LatencyLowMs)
	cfg.ErrorRateHigh = envFloat("SCALE_HINT_ERROR_RATE_HIGH", cfg.ErrorRateHigh)
	cfg.MinSignalsForTransition = uint32(envUint("SCALE_HINT_MIN_SIGNALS", uint64(cfg.MinSignalsForTransition)))
	return cfg
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envUint(key string, fallback uint64) uint64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
