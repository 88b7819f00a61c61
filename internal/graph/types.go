// Package graph implements the content-addressed graph commit store (§4.5):
// deterministic commit IDs over a scope and its mutations, tag lifecycle
// with event-first/KV-best-effort dual write, and historical query
// semantics derived by folding mutations along a commit's parent chain.
package graph

import (
	"encoding/json"
	"time"
)

// Scope identifies one graph: a tenant's project/namespace/graph.
type Scope struct {
	TenantID  string `json:"tenantId"`
	ProjectID string `json:"projectId"`
	Namespace string `json:"namespace"`
	GraphID   string `json:"graphId"`
}

// Property is a single key/value attribute on a node or edge.
type Property struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// MutationKind distinguishes the four graph mutation shapes.
type MutationKind string

const (
	MutationAddNode    MutationKind = "AddNode"
	MutationRemoveNode MutationKind = "RemoveNode"
	MutationAddEdge    MutationKind = "AddEdge"
	MutationRemoveEdge MutationKind = "RemoveEdge"
)

// Mutation is a single graph-state change, tagged by Kind. Only the fields
// relevant to Kind are populated; this mirrors the original's enum-of-
// structs shape flattened into one Go struct for straightforward
// deterministic JSON serialization.
type Mutation struct {
	Kind MutationKind `json:"kind"`

	// AddNode / RemoveNode
	NodeID     string     `json:"nodeId,omitempty"`
	Labels     []string   `json:"labels,omitempty"`
	Properties []Property `json:"properties,omitempty"`

	// AddEdge / RemoveEdge
	EdgeID string `json:"edgeId,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Label  string `json:"label,omitempty"`
}

// NodeSnapshot is a node's materialized state as of a given commit.
type NodeSnapshot struct {
	NodeID     string     `json:"nodeId"`
	Labels     []string   `json:"labels"`
	Properties []Property `json:"properties"`
}

// TaggedCommit is one entry of list_tags.
type TaggedCommit struct {
	Tag      string `json:"tag"`
	CommitID string `json:"commitId"`
}

// TagAction distinguishes a tag set from a tag delete.
type TagAction string

const (
	TagActionSet    TagAction = "set"
	TagActionDelete TagAction = "delete"
)

// Commit is one entry of the commit log, as projected from the event log.
type Commit struct {
	CommitID  string     `json:"commitId"`
	ParentID  string     `json:"parentId,omitempty"`
	Mutations []Mutation `json:"mutations"`
	Timestamp time.Time  `json:"timestamp"`
}
