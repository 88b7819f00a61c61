package ttlworker

import (
	"strconv"
	"strings"
)

// ParseApprovalExpiryTimerID parses "<runId>:approval:<gateId>:expiry" into
// (runID, gateID). Returns ok=false for any other shape.
func ParseApprovalExpiryTimerID(timerID string) (runID, gateID string, ok bool) {
	parts := strings.Split(timerID, ":")
	if len(parts) == 4 && parts[1] == "approval" && parts[3] == "expiry" {
		return parts[0], parts[2], true
	}
	return "", "", false
}

// ParseEscalationTimerID parses
// "<runId>:approval:<gateId>:expiry:level:<N>" into (runID, gateID, level).
// Returns ok=false for any other shape.
func ParseEscalationTimerID(timerID string) (runID, gateID string, level uint32, ok bool) {
	parts := strings.Split(timerID, ":")
	if len(parts) == 6 && parts[1] == "approval" && parts[3] == "expiry" && parts[4] == "level" {
		n, err := strconv.ParseUint(parts[5], 10, 32)
		if err != nil {
			return "", "", 0, false
		}
		return parts[0], parts[2], uint32(n), true
	}
	return "", "", 0, false
}
