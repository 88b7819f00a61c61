package approval

import (
	"encoding/json"
	"time"
)

// envelope wraps payload with the common event-record envelope fields and
// flattens it into a single JSON object for publication, mirroring the
// ritual engine's wire shape.
func envelope(tenant, runID, ritualID, name string, payload any) map[string]any {
	base := map[string]any{
		"event":    name,
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"tenantId": tenant,
		"runId":    runID,
		"ritualId": ritualID,
	}
	raw, err := json.Marshal(payload)
	if err == nil {
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) == nil {
			for k, v := range fields {
				base[k] = v
			}
		}
	}
	return base
}

func requestedEvent(tenant, runID, ritualID, gateID, requester, reason string) map[string]any {
	return envelope(tenant, runID, ritualID, "approval.requested:v1", requestedPayload{
		GateID: gateID, Requester: requester, Reason: reason,
	})
}

func grantedEvent(tenant, runID, ritualID, gateID, approver string) map[string]any {
	return envelope(tenant, runID, ritualID, "approval.granted:v1", grantedPayload{
		GateID: gateID, Approver: approver,
	})
}

func deniedEvent(tenant, runID, ritualID, gateID, approver, reason string) map[string]any {
	return envelope(tenant, runID, ritualID, "approval.denied:v1", deniedPayload{
		GateID: gateID, Approver: approver, Reason: reason,
	})
}

func escalatedEvent(tenant, runID, ritualID, gateID string, fromLevel, toLevel uint32, reason string, state State) map[string]any {
	return envelope(tenant, runID, ritualID, "approval.escalated:v1", escalatedPayload{
		GateID: gateID, FromLevel: fromLevel, ToLevel: toLevel, Reason: reason, EscalationState: state,
	})
}

func overrideEvent(tenant, runID, ritualID, gateID string, level uint32, approver, note string) map[string]any {
	return envelope(tenant, runID, ritualID, "approval.override:v1", overridePayload{
		GateID: gateID, OverrideLevel: level, Approver: approver, Note: note,
	})
}

func timerScheduledEvent(tenant, runID, ritualID, timerID string, scheduledFor time.Time) map[string]any {
	return envelope(tenant, runID, ritualID, "timer.scheduled:v1", timerScheduledPayload{
		TimerID:      timerID,
		ScheduledFor: scheduledFor,
	})
}

// timerScheduledPayload is timer.scheduled:v1's wire shape.
type timerScheduledPayload struct {
	TimerID      string    `json:"timerId"`
	ScheduledFor time.Time `json:"scheduledFor"`
}
