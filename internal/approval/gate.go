package approval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/demon-systems/demon/internal/metrics"
	"github.com/demon-systems/demon/internal/telemetry"
)

// ErrConflict is returned when a gate already has a terminal resolution of
// a different kind than the one being written.
var ErrConflict = fmt.Errorf("gate already has a conflicting resolution")

// ErrNotEmergencyLevel is returned when an override is attempted at a level
// that does not permit one.
var ErrNotEmergencyLevel = fmt.Errorf("current escalation level does not permit emergency override")

// Manager implements ritual.GateAwaiter and the gate-resolution operations
// of §4.3. Like the ritual engine, it holds no in-process state: every
// operation projects the gate's events fresh before acting.
type Manager struct {
	log       eventlog.Log
	escalation *Config
	logger    *zap.Logger
}

// NewManager constructs a Manager. escalation may be nil (no tenant has a
// configured chain); logger may be nil.
func NewManager(log eventlog.Log, escalation *Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{log: log, escalation: escalation, logger: logger.Named("approval")}
}

// AwaitGate emits approval.requested:v1 and, if a TTL or escalation chain
// applies, a timer.scheduled:v1. Both are idempotent by msg_id, so a
// re-invocation (e.g. the ritual engine re-awaiting a Gated run) is a
// no-op against the server.
func (m *Manager) AwaitGate(ctx context.Context, tenant, runID, ritualID, gateID, requester, reason string, ttl time.Duration) error {
	ctx, span := telemetry.StartGateSpan(ctx, ritualID, gateID)
	defer span.End()

	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	now := time.Now().UTC()

	reqMsgID := fmt.Sprintf("%s:approval:%s", runID, gateID)
	if err := m.log.Publish(ctx, subject, "approval.requested:v1", requestedEvent(tenant, runID, ritualID, gateID, requester, reason), reqMsgID); err != nil {
		return fmt.Errorf("request gate %s: %w", gateID, err)
	}

	chain, hasChain := m.escalation.GetChain(tenant, gateID)
	switch {
	case hasChain:
		state, err := NewState(chain, now)
		if err != nil {
			return fmt.Errorf("build escalation state for gate %s: %w", gateID, err)
		}
		if state.NextEscalationAt != nil {
			timerID := fmt.Sprintf("%s:approval:%s:expiry:level:%d", runID, gateID, state.CurrentLevel)
			return m.scheduleTimer(ctx, subject, tenant, runID, ritualID, timerID, *state.NextEscalationAt)
		}
		return nil
	case ttl > 0:
		timerID := fmt.Sprintf("%s:approval:%s:expiry", runID, gateID)
		return m.scheduleTimer(ctx, subject, tenant, runID, ritualID, timerID, now.Add(ttl))
	default:
		return nil
	}
}

func (m *Manager) scheduleTimer(ctx context.Context, subject, tenant, runID, ritualID, timerID string, scheduledFor time.Time) error {
	payload := timerScheduledEvent(tenant, runID, ritualID, timerID, scheduledFor)
	msgID := fmt.Sprintf("%s:scheduled", timerID)
	if err := m.log.Publish(ctx, subject, "timer.scheduled:v1", payload, msgID); err != nil {
		return fmt.Errorf("schedule timer %s: %w", timerID, err)
	}
	return nil
}

// Grant resolves gateID as granted. Returns noop=true if it is already
// granted (a duplicate decision, not a fresh resolution); conflict if it is
// already denied or overridden.
func (m *Manager) Grant(ctx context.Context, tenant, runID, ritualID, gateID, approver string) (noop bool, err error) {
	return m.resolve(ctx, tenant, runID, ritualID, gateID, ResolutionGranted, func(subject string) (string, string, any) {
		return "approval.granted:v1", fmt.Sprintf("%s:approval:%s:granted", runID, gateID),
			grantedEvent(tenant, runID, ritualID, gateID, approver)
	})
}

// Deny resolves gateID as denied. Returns noop=true if already denied;
// conflict if already granted or overridden.
func (m *Manager) Deny(ctx context.Context, tenant, runID, ritualID, gateID, approver, reason string) (noop bool, err error) {
	return m.resolve(ctx, tenant, runID, ritualID, gateID, ResolutionDenied, func(subject string) (string, string, any) {
		return "approval.denied:v1", fmt.Sprintf("%s:approval:%s:denied", runID, gateID),
			deniedEvent(tenant, runID, ritualID, gateID, approver, reason)
	})
}

// Override emergency-resolves gateID, bypassing the remaining escalation
// chain. Valid only when the gate's current escalation level permits it.
// Returns noop=true if the gate was already resolved by override.
func (m *Manager) Override(ctx context.Context, tenant, runID, ritualID, gateID, approver, note string) (noop bool, err error) {
	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	view, err := m.project(ctx, subject, gateID)
	if err != nil {
		return false, err
	}
	if view.Terminal() {
		if view.Resolution == ResolutionOverride {
			return true, nil
		}
		return false, fmt.Errorf("override gate %s: %w", gateID, ErrConflict)
	}

	chain, hasChain := m.escalation.GetChain(tenant, gateID)
	if !hasChain {
		return false, ErrNotEmergencyLevel
	}
	level := uint32(1)
	if view.Escalation != nil {
		level = view.Escalation.CurrentLevel
	}
	if lvl, ok := chain.GetLevel(level); !ok || !lvl.EmergencyOverride {
		return false, ErrNotEmergencyLevel
	}

	msgID := fmt.Sprintf("%s:approval:%s:override:%d", runID, gateID, level)
	payload := overrideEvent(tenant, runID, ritualID, gateID, level, approver, note)
	if err := m.log.Publish(ctx, subject, "approval.override:v1", payload, msgID); err != nil {
		return false, fmt.Errorf("override gate %s: %w", gateID, err)
	}
	metrics.RecordApprovalDecision(ritualID, string(ResolutionOverride))
	return false, nil
}

// resolve projects gateID's current view and, if it is not already terminal,
// publishes the decision event build returns. If the gate is already
// terminal with the same resolution kind, it reports noop=true instead of
// republishing or erroring — a duplicate same-terminal decision is not a
// conflict, just idempotent replay.
func (m *Manager) resolve(ctx context.Context, tenant, runID, ritualID, gateID string, kind Resolution, build func(subject string) (event, msgID string, payload any)) (noop bool, err error) {
	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	view, err := m.project(ctx, subject, gateID)
	if err != nil {
		return false, err
	}
	if view.Terminal() {
		if view.Resolution == kind {
			return true, nil
		}
		return false, fmt.Errorf("resolve gate %s as %s: %w", gateID, kind, ErrConflict)
	}

	event, msgID, payload := build(subject)
	if err := m.log.Publish(ctx, subject, event, payload, msgID); err != nil {
		return false, fmt.Errorf("publish %s for gate %s: %w", event, gateID, err)
	}
	metrics.RecordApprovalDecision(ritualID, string(kind))
	return false, nil
}

func (m *Manager) project(ctx context.Context, subject, gateID string) (GateView, error) {
	records, err := m.log.FetchBySubject(ctx, subject, eventlog.DeliverAll)
	if err != nil {
		return GateView{}, fmt.Errorf("project gate %s: %w", gateID, err)
	}
	return ProjectGate(gateID, records), nil
}
