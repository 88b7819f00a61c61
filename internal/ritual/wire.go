package ritual

import (
	"encoding/json"
	"time"
)

// event wraps payload with the common event-record envelope fields and
// flattens it into a single JSON object for publication.
func event(tenant, runID, ritualID, name string, payload any) map[string]any {
	base := map[string]any{
		"event":    name,
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"tenantId": tenant,
	}
	if runID != "" {
		base["runId"] = runID
	}
	if ritualID != "" {
		base["ritualId"] = ritualID
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

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
