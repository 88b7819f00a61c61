package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/demon-systems/demon/internal/metrics"
)

// Outcome is what ProcessExpiry did for one timer delivery.
type Outcome string

const (
	OutcomeNoopTerminal Outcome = "noop_terminal"
	OutcomeEscalated    Outcome = "escalated"
	OutcomeDenied       Outcome = "denied"
)

// ProcessExpiry is the TTL worker's per-message decision (§4.4 step 5):
// a terminal gate is a no-op; otherwise escalate to the next configured
// level, or deny as expired if there is none. records must already be the
// run's full event list (the caller owns the single FetchBySubject call).
func (m *Manager) ProcessExpiry(ctx context.Context, tenant, runID, ritualID, gateID string, records []eventlog.Record) (Outcome, error) {
	view := ProjectGate(gateID, records)
	if view.Terminal() {
		return OutcomeNoopTerminal, nil
	}

	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	chain, hasChain := m.escalation.GetChain(tenant, gateID)

	if hasChain {
		var state State
		if view.Escalation != nil {
			state = *view.Escalation
		} else {
			initial, err := NewState(chain, time.Now().UTC())
			if err != nil {
				return "", fmt.Errorf("build escalation state for gate %s: %w", gateID, err)
			}
			state = initial
		}
		if _, ok := chain.NextLevel(state.CurrentLevel); ok {
			fromLevel := state.CurrentLevel
			now := time.Now().UTC()
			escalated, err := state.Escalate(chain, "timeout", now)
			if err != nil {
				return "", fmt.Errorf("escalate gate %s: %w", gateID, err)
			}
			if escalated {
				msgID := fmt.Sprintf("%s:approval:%s:escalated:%d", runID, gateID, state.CurrentLevel)
				payload := escalatedEvent(tenant, runID, ritualID, gateID, fromLevel, state.CurrentLevel, "timeout", state)
				if err := m.log.Publish(ctx, subject, "approval.escalated:v1", payload, msgID); err != nil {
					return "", fmt.Errorf("publish escalation for gate %s: %w", gateID, err)
				}
				if state.NextEscalationAt != nil {
					timerID := fmt.Sprintf("%s:approval:%s:expiry:level:%d", runID, gateID, state.CurrentLevel)
					if err := m.scheduleTimer(ctx, subject, tenant, runID, ritualID, timerID, *state.NextEscalationAt); err != nil {
						return "", err
					}
				}
				metrics.RecordEscalation(ritualID, fmt.Sprintf("%d", state.CurrentLevel))
				return OutcomeEscalated, nil
			}
		}
	}

	msgID := fmt.Sprintf("%s:approval:%s:denied", runID, gateID)
	payload := deniedEvent(tenant, runID, ritualID, gateID, "system", "expired")
	if err := m.log.Publish(ctx, subject, "approval.denied:v1", payload, msgID); err != nil {
		return "", fmt.Errorf("publish expiry denial for gate %s: %w", gateID, err)
	}
	metrics.RecordApprovalDecision(ritualID, string(ResolutionDenied))
	return OutcomeDenied, nil
}
