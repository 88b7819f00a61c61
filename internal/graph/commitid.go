package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ComputeCommitID derives the deterministic commit ID for (scope, parent,
// mutations): SHA-256 over tenant|project|namespace|graph|parent-or-empty|
// sorted-mutation-json-joined-by-pipe|, matching §4.5 exactly. Mutation
// order never affects the result.
func ComputeCommitID(scope Scope, parentCommitID string, mutations []Mutation) (string, error) {
	h := sha256.New()
	h.Write([]byte(scope.TenantID))
	h.Write([]byte{'|'})
	h.Write([]byte(scope.ProjectID))
	h.Write([]byte{'|'})
	h.Write([]byte(scope.Namespace))
	h.Write([]byte{'|'})
	h.Write([]byte(scope.GraphID))
	h.Write([]byte{'|'})
	h.Write([]byte(parentCommitID))
	h.Write([]byte{'|'})

	serialized := make([]string, len(mutations))
	for i, m := range mutations {
		b, err := json.Marshal(m)
		if err != nil {
			return "", err
		}
		serialized[i] = string(b)
	}
	sort.Strings(serialized)

	for _, s := range serialized {
		h.Write([]byte(s))
		h.Write([]byte{'|'})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
