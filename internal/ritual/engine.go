package ritual

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/envelope"
	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/demon-systems/demon/internal/metrics"
	"github.com/demon-systems/demon/internal/telemetry"
)

// GateAwaiter is the approvals subsystem's contract with the ritual engine
// (§4.3's await_gate). The engine never models escalation or TTL itself.
type GateAwaiter interface {
	AwaitGate(ctx context.Context, tenant, runID, ritualID, gateID, requester, reason string, ttl time.Duration) error
}

// CapsuleRunner is the capsule executor's contract with the ritual engine.
type CapsuleRunner interface {
	Run(ctx context.Context, imageDigest string, command []string) (envelope.Envelope, error)
}

// Config holds engine-level tuning, parsed once at the process boundary.
type Config struct {
	PublishMaxRetries int
	PublishBaseDelay  time.Duration
}

// DefaultConfig returns the engine's bounded-retry defaults.
func DefaultConfig() Config {
	return Config{PublishMaxRetries: 3, PublishBaseDelay: 50 * time.Millisecond}
}

// Engine runs rituals: a state machine per run, reconstructed from the
// event log on every operation, never held in memory between calls.
type Engine struct {
	log      eventlog.Log
	gates    GateAwaiter
	capsules CapsuleRunner
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Engine. logger may be nil, in which case a no-op logger
// is used.
func New(log eventlog.Log, gates GateAwaiter, capsules CapsuleRunner, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{log: log, gates: gates, capsules: capsules, cfg: cfg, logger: logger.Named("ritual")}
}

// StartRun emits ritual.started:v1 for runID and returns only the publish
// error. Callers supply runID (the caller, e.g. the HTTP layer, owns ID generation so it
// can echo it back synchronously).
func (e *Engine) StartRun(ctx context.Context, tenant string, def Definition, runID string, parameters any) error {
	_, span := telemetry.StartRunSpan(ctx, def.RitualID, runID)
	defer span.End()

	subject := eventlog.RitualSubject(tenant, def.RitualID, runID)
	payload := event(tenant, runID, def.RitualID, "ritual.started:v1", ritualStarted{
		RitualID:   def.RitualID,
		Version:    def.Version,
		Parameters: marshalOrNil(parameters),
	})
	msgID := fmt.Sprintf("%s:started", runID)
	return e.publishWithRetry(ctx, subject, "ritual.started:v1", payload, msgID)
}

// Advance folds the run's events, executes the next pending step (possibly
// suspending at a gate), and emits a single transition event. It is safe to
// call repeatedly; once Gated it re-awaits the same gate idempotently, and
// once terminal it is a no-op.
func (e *Engine) Advance(ctx context.Context, tenant string, def Definition, runID string) error {
	view, err := e.project(ctx, tenant, def.RitualID, runID)
	if err != nil {
		return err
	}
	if view.Status.Terminal() {
		return nil
	}

	idx := nextStepIndex(def, view)
	if idx >= len(def.Steps) {
		return e.Complete(ctx, tenant, def.RitualID, runID, nil)
	}
	step := def.Steps[idx]

	ctx, stepSpan := telemetry.StartStepSpan(ctx, def.RitualID, step.ID, string(step.Kind))
	defer stepSpan.End()

	from := string(view.Status)
	var to string

	switch step.Kind {
	case StepGate:
		if err := e.gates.AwaitGate(ctx, tenant, runID, def.RitualID, step.GateID, step.Requester, step.Reason, step.TTL); err != nil {
			return fmt.Errorf("await gate %s: %w", step.GateID, err)
		}
		to = string(StatusGated)
	case StepCapsule:
		env, err := e.capsules.Run(ctx, step.ImageDigest, step.Command)
		if err != nil {
			return e.Fail(ctx, tenant, def.RitualID, runID, err)
		}
		if !env.Result.Success {
			return e.Fail(ctx, tenant, def.RitualID, runID, fmt.Errorf("%s: %s", env.Result.Code, env.Result.Message))
		}
		to = string(StatusRunning)
	default:
		return fmt.Errorf("unknown step kind %q for step %s", step.Kind, step.ID)
	}

	subject := eventlog.RitualSubject(tenant, def.RitualID, runID)
	payload := event(tenant, runID, def.RitualID, "ritual.transitioned:v1", ritualTransitioned{
		StateFrom: from,
		StateTo:   to,
		StepID:    step.ID,
	})
	msgID := fmt.Sprintf("%s:%s->%s", runID, from, to)
	return e.publishWithRetry(ctx, subject, "ritual.transitioned:v1", payload, msgID)
}

// Complete emits the terminal ritual.completed:v1 event. Absorbing: a
// terminal run is never re-completed because the msg_id is deterministic
// and the server dedups it.
func (e *Engine) Complete(ctx context.Context, tenant, ritualID, runID string, outputs any) error {
	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	payload := event(tenant, runID, ritualID, "ritual.completed:v1", ritualTerminal{Outputs: marshalOrNil(outputs)})
	msgID := fmt.Sprintf("%s:completed", runID)
	if err := e.publishWithRetry(ctx, subject, "ritual.completed:v1", payload, msgID); err != nil {
		return err
	}
	e.recordTerminalMetric(ctx, tenant, ritualID, runID, string(StatusCompleted))
	return nil
}

// Fail emits the terminal ritual.failed:v1 event. Any uncaught step error
// reaches here.
func (e *Engine) Fail(ctx context.Context, tenant, ritualID, runID string, cause error) error {
	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	payload := event(tenant, runID, ritualID, "ritual.failed:v1", ritualTerminal{Error: cause.Error()})
	msgID := fmt.Sprintf("%s:failed", runID)
	if err := e.publishWithRetry(ctx, subject, "ritual.failed:v1", payload, msgID); err != nil {
		return err
	}
	e.recordTerminalMetric(ctx, tenant, ritualID, runID, string(StatusFailed))
	return nil
}

// recordTerminalMetric re-projects the run to compute its wall-clock
// duration (first to last event timestamp) for demon_ritual_run_duration_seconds.
// Best-effort: a re-fetch failure here never fails the terminal transition
// itself, since the terminal event has already been durably published.
func (e *Engine) recordTerminalMetric(ctx context.Context, tenant, ritualID, runID, status string) {
	view, err := e.project(ctx, tenant, ritualID, runID)
	if err != nil || len(view.Events) == 0 {
		metrics.RecordRunComplete(ritualID, status, 0)
		return
	}
	first := view.Events[0].Timestamp
	last := view.Events[len(view.Events)-1].Timestamp
	metrics.RecordRunComplete(ritualID, status, last.Sub(first))
}

// project folds the run's events through the pure Project function.
func (e *Engine) project(ctx context.Context, tenant, ritualID, runID string) (RunView, error) {
	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	records, err := e.log.FetchBySubject(ctx, subject, eventlog.DeliverAll)
	if err != nil {
		return RunView{}, fmt.Errorf("project run %s: %w", runID, err)
	}
	return Project(runID, ritualID, records), nil
}

// nextStepIndex picks the next step to execute. A freshly started run (no
// transition yet) starts at step 0; otherwise it resumes one past
// CurrentStep. A Gated run repeats the same gate step so await is
// idempotent under redelivery.
func nextStepIndex(def Definition, view RunView) int {
	if view.CurrentStep == "" {
		return 0
	}
	for i, s := range def.Steps {
		if s.ID == view.CurrentStep {
			if view.Status == StatusGated {
				return i
			}
			return i + 1
		}
	}
	return len(def.Steps)
}

// publishWithRetry retries transient publish failures with small bounded
// backoff (§4.2's failure semantics); it never retries a context
// cancellation.
func (e *Engine) publishWithRetry(ctx context.Context, subject, eventName string, payload any, msgID string) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.PublishMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := e.log.Publish(ctx, subject, eventName, payload, msgID)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == e.cfg.PublishMaxRetries {
			break
		}
		delay := e.cfg.PublishBaseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(e.cfg.PublishBaseDelay) + 1))
		e.logger.Warn("transient publish failure, retrying",
			zap.String("subject", subject), zap.String("event", eventName),
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("publish %s to %s after retries: %w", eventName, subject, lastErr)
}

func marshalOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := jsonMarshal(v)
	if err != nil {
		return nil
	}
	return b
}
