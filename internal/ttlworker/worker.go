// Package ttlworker implements the durable pull-consumer worker that turns
// timer.scheduled:v1 events into approval escalations or expiry denials
// (§4.4). It holds no gate state of its own; every delivery re-projects the
// run from the event log before deciding.
package ttlworker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/approval"
	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/demon-systems/demon/internal/metrics"
)

// Config tunes the worker's durable pull consumer. All fields have
// environment-derived defaults (§6), parsed once at the process boundary.
type Config struct {
	ConsumerName  string
	SubjectFilter string
	Batch         int
	PullTimeout   time.Duration
	NakDelay      time.Duration
}

// DefaultConfig returns the worker's defaults, matching the original
// ttl_worker's tuning.
func DefaultConfig() Config {
	return Config{
		ConsumerName:  "ttl-worker",
		SubjectFilter: eventlog.RitualSubjectFilter("", "", ""),
		Batch:         100,
		PullTimeout:   1500 * time.Millisecond,
		NakDelay:      500 * time.Millisecond,
	}
}

// ConfigFromEnv layers TTL_CONSUMER_NAME/TTL_BATCH/TTL_PULL_TIMEOUT_MS over
// DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("TTL_CONSUMER_NAME"); v != "" {
		cfg.ConsumerName = v
	}
	if v := os.Getenv("TTL_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Batch = n
		}
	}
	if v := os.Getenv("TTL_PULL_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PullTimeout = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}

// Counters are the worker's monotonic, process-lifetime tallies (§4.4):
// handled, expired (escalated-or-denied), and noop (already terminal).
// Exposed for tests and telemetry; Reset is test-scope only.
type Counters struct {
	handled atomic.Uint64
	expired atomic.Uint64
	noop    atomic.Uint64
}

func (c *Counters) Handled() uint64 { return c.handled.Load() }
func (c *Counters) Expired() uint64 { return c.expired.Load() }
func (c *Counters) Noop() uint64    { return c.noop.Load() }

// Reset zeroes all counters. Test-scope only.
func (c *Counters) Reset() {
	c.handled.Store(0)
	c.expired.Store(0)
	c.noop.Store(0)
}

// Worker pulls timer.scheduled:v1 deliveries and resolves them against the
// approvals subsystem.
type Worker struct {
	consumer eventlog.PullConsumer
	log      eventlog.Log
	manager  *approval.Manager
	cfg      Config
	logger   *zap.Logger
	Counters Counters
}

// New constructs a Worker. logger may be nil.
func New(consumer eventlog.PullConsumer, log eventlog.Log, manager *approval.Manager, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{consumer: consumer, log: log, manager: manager, cfg: cfg, logger: logger.Named("ttlworker")}
}

// Run attaches the durable pull consumer and processes deliveries until ctx
// is canceled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.consumer.Subscribe(ctx, w.cfg.ConsumerName, w.cfg.SubjectFilter, w.cfg.Batch, w.cfg.PullTimeout)
	if err != nil {
		return fmt.Errorf("attach ttl-worker consumer: %w", err)
	}
	defer sub.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		deliveries, err := sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("fetch failed, retrying", zap.Error(err))
			continue
		}
		for _, d := range deliveries {
			w.handle(ctx, d)
		}
	}
}

// handle processes a single delivery: parse subject/timer id, project the
// gate, and decide via approval.Manager.ProcessExpiry. Any step that fails
// to parse is acked-and-skipped rather than retried, per §4.4 step 1-3.
func (w *Worker) handle(ctx context.Context, d eventlog.Delivery) {
	rec := d.Record

	parsed, ok := eventlog.ParseRitualSubject(rec.Subject)
	if !ok {
		w.logger.Warn("unexpected subject, ack and skip", zap.String("subject", rec.Subject))
		w.ack(d)
		return
	}

	if rec.Event != "timer.scheduled:v1" {
		w.ack(d)
		return
	}

	var payload struct {
		TimerID string `json:"timerId"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		w.logger.Warn("invalid timer.scheduled payload, ack and skip", zap.Error(err))
		w.ack(d)
		return
	}

	runID, gateID, ok := ParseApprovalExpiryTimerID(payload.TimerID)
	if !ok {
		if rid, gid, _, escOk := ParseEscalationTimerID(payload.TimerID); escOk {
			runID, gateID, ok = rid, gid, true
		}
	}
	if !ok {
		w.ack(d)
		return
	}
	if runID != parsed.Run {
		w.logger.Warn("runId mismatch between timerId and subject, ack and skip",
			zap.String("timerId", payload.TimerID), zap.String("subject", rec.Subject))
		w.ack(d)
		return
	}

	w.Counters.handled.Add(1)

	subject := eventlog.RitualSubject(parsed.Tenant, parsed.Ritual, parsed.Run)
	records, err := w.log.FetchBySubject(ctx, subject, eventlog.DeliverAll)
	if err != nil {
		w.nak(ctx, d, err)
		return
	}

	outcome, err := w.manager.ProcessExpiry(ctx, parsed.Tenant, parsed.Run, parsed.Ritual, gateID, records)
	if err != nil {
		w.nak(ctx, d, err)
		return
	}

	switch outcome {
	case approval.OutcomeNoopTerminal:
		w.Counters.noop.Add(1)
		metrics.RecordTTLWorkerEvent("noop")
	default:
		w.Counters.expired.Add(1)
		metrics.RecordTTLWorkerEvent("expired")
	}
	w.ack(d)
}

// SweepOnce attaches a second, independently named durable consumer over the
// same subject filter and drains whatever is currently pending in a single
// pass. It exists as a defensive backstop invoked by a periodic housekeeping
// job, not as a replacement for Run's continuous loop: if Run's goroutine
// ever stalls, redeliveries still age out under this consumer's own ack wait
// and get reaped here instead of piling up unbounded.
func (w *Worker) SweepOnce(ctx context.Context, consumerName string) (int, error) {
	sub, err := w.consumer.Subscribe(ctx, consumerName, w.cfg.SubjectFilter, w.cfg.Batch, w.cfg.PullTimeout)
	if err != nil {
		return 0, fmt.Errorf("attach housekeeping sweep consumer: %w", err)
	}
	defer sub.Close()

	deliveries, err := sub.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch housekeeping sweep batch: %w", err)
	}
	for _, d := range deliveries {
		w.handle(ctx, d)
	}
	return len(deliveries), nil
}

func (w *Worker) ack(d eventlog.Delivery) {
	if err := d.Ack(); err != nil {
		w.logger.Warn("ack failed", zap.Error(err))
	}
}

func (w *Worker) nak(ctx context.Context, d eventlog.Delivery, cause error) {
	w.logger.Error("expiry processing failed, nak with backoff", zap.Error(cause))
	select {
	case <-time.After(250 * time.Millisecond):
	case <-ctx.Done():
	}
	if err := d.Nak(w.cfg.NakDelay); err != nil {
		w.logger.Warn("nak failed", zap.Error(err))
	}
}
