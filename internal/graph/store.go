package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/demon-systems/demon/internal/eventlog"
)

// ErrEmptyMutations is returned by Commit when called with no mutations.
var ErrEmptyMutations = fmt.Errorf("mutations cannot be empty")

// ErrTagNotFound is returned by DeleteTag when the tag does not exist.
var ErrTagNotFound = fmt.Errorf("tag not found")

// Store is the content-addressed commit store of §4.5. Commits are
// immutable, event-sourced, and never held in memory; the TagStore is a
// best-effort accelerator that the event log always overrides on
// disagreement.
type Store struct {
	log    eventlog.Log
	tags   TagStore
	logger *zap.Logger
}

// New constructs a Store. logger may be nil.
func New(log eventlog.Log, tags TagStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{log: log, tags: tags, logger: logger.Named("graph")}
}

// commitCreatedPayload is graph.commit.created:v1's wire shape.
type commitCreatedPayload struct {
	CommitID  string     `json:"commitId"`
	ParentID  string     `json:"parentId,omitempty"`
	Mutations []Mutation `json:"mutations"`
	Timestamp time.Time  `json:"timestamp"`
}

// tagUpdatedPayload is graph.tag.updated:v1's wire shape.
type tagUpdatedPayload struct {
	Tag       string    `json:"tag"`
	CommitID  string    `json:"commitId,omitempty"`
	Action    TagAction `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Create seeds a new graph with an initial, parentless commit.
func (s *Store) Create(ctx context.Context, scope Scope, seed []Mutation) (string, error) {
	if len(seed) == 0 {
		return "", fmt.Errorf("create graph: %w", ErrEmptyMutations)
	}
	return s.writeCommit(ctx, scope, "", seed)
}

// Commit appends a new commit with the given parent (may be empty for a
// root commit) and mutations.
func (s *Store) Commit(ctx context.Context, scope Scope, parentCommitID string, mutations []Mutation) (string, error) {
	if len(mutations) == 0 {
		return "", fmt.Errorf("commit: %w", ErrEmptyMutations)
	}
	return s.writeCommit(ctx, scope, parentCommitID, mutations)
}

func (s *Store) writeCommit(ctx context.Context, scope Scope, parentCommitID string, mutations []Mutation) (string, error) {
	commitID, err := ComputeCommitID(scope, parentCommitID, mutations)
	if err != nil {
		return "", fmt.Errorf("compute commit id: %w", err)
	}
	subject := eventlog.GraphSubject(scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID)
	payload := commitCreatedPayload{
		CommitID:  commitID,
		ParentID:  parentCommitID,
		Mutations: mutations,
		Timestamp: time.Now().UTC(),
	}
	if err := s.log.Publish(ctx, subject, "graph.commit.created:v1", payload, commitID); err != nil {
		return "", fmt.Errorf("publish commit %s: %w", commitID, err)
	}
	return commitID, nil
}

// Tag attaches or moves name to point at commitID. Event-first, then a
// best-effort KV write; the event remains authoritative on divergence.
func (s *Store) Tag(ctx context.Context, scope Scope, name, commitID string) error {
	subject := eventlog.GraphSubject(scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID)
	now := time.Now().UTC()
	payload := tagUpdatedPayload{Tag: name, CommitID: commitID, Action: TagActionSet, Timestamp: now}
	msgID := fmt.Sprintf("%s:tag:%s:set:%d", scopeKey(scope), name, now.UnixNano())
	if err := s.log.Publish(ctx, subject, "graph.tag.updated:v1", payload, msgID); err != nil {
		return fmt.Errorf("tag %s: %w", name, err)
	}
	if s.tags != nil {
		if err := s.tags.Set(ctx, scope, name, commitID); err != nil {
			s.logger.Warn("best-effort tag KV write failed", zap.String("tag", name), zap.Error(err))
		}
	}
	return nil
}

// DeleteTag removes name. Reports ErrTagNotFound if the tag's latest
// event-projected state is already absent.
func (s *Store) DeleteTag(ctx context.Context, scope Scope, name string) error {
	tags, err := s.ListTags(ctx, scope)
	if err != nil {
		return err
	}
	found := false
	for _, t := range tags {
		if t.Tag == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("delete tag %s: %w", name, ErrTagNotFound)
	}

	subject := eventlog.GraphSubject(scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID)
	now := time.Now().UTC()
	payload := tagUpdatedPayload{Tag: name, Action: TagActionDelete, Timestamp: now}
	msgID := fmt.Sprintf("%s:tag:%s:delete:%d", scopeKey(scope), name, now.UnixNano())
	if err := s.log.Publish(ctx, subject, "graph.tag.updated:v1", payload, msgID); err != nil {
		return fmt.Errorf("delete tag %s: %w", name, err)
	}
	if s.tags != nil {
		if err := s.tags.Delete(ctx, scope, name); err != nil {
			s.logger.Warn("best-effort tag KV delete failed", zap.String("tag", name), zap.Error(err))
		}
	}
	return nil
}

// ListTags returns every live tag for scope, sorted by name, resolved from
// the latest tag.updated event per name (event-authoritative; the KV
// accelerator is never consulted for this operation).
func (s *Store) ListTags(ctx context.Context, scope Scope) ([]TaggedCommit, error) {
	subject := eventlog.GraphSubject(scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID)
	records, err := s.log.FetchBySubject(ctx, subject, eventlog.DeliverAll)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	latest := make(map[string]tagUpdatedPayload)
	for _, rec := range records {
		if rec.Event != "graph.tag.updated:v1" {
			continue
		}
		var p tagUpdatedPayload
		if rec.Decode(&p) != nil {
			continue
		}
		if existing, ok := latest[p.Tag]; !ok || p.Timestamp.After(existing.Timestamp) {
			latest[p.Tag] = p
		}
	}

	out := make([]TaggedCommit, 0, len(latest))
	for name, p := range latest {
		if p.Action == TagActionDelete {
			continue
		}
		out = append(out, TaggedCommit{Tag: name, CommitID: p.CommitID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// GetCommit returns one commit from scope's event-projected commit log.
func (s *Store) GetCommit(ctx context.Context, scope Scope, commitID string) (Commit, bool, error) {
	commits, err := s.ListCommits(ctx, scope)
	if err != nil {
		return Commit{}, false, err
	}
	for _, c := range commits {
		if c.CommitID == commitID {
			return c, true, nil
		}
	}
	return Commit{}, false, nil
}

// ListCommits projects every commit in scope from the event log.
func (s *Store) ListCommits(ctx context.Context, scope Scope) ([]Commit, error) {
	subject := eventlog.GraphSubject(scope.TenantID, scope.ProjectID, scope.Namespace, scope.GraphID)
	records, err := s.log.FetchBySubject(ctx, subject, eventlog.DeliverAll)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}

	var commits []Commit
	for _, rec := range records {
		if rec.Event != "graph.commit.created:v1" {
			continue
		}
		var p commitCreatedPayload
		if rec.Decode(&p) != nil {
			continue
		}
		commits = append(commits, Commit{
			CommitID:  p.CommitID,
			ParentID:  p.ParentID,
			Mutations: p.Mutations,
			Timestamp: p.Timestamp,
		})
	}
	return commits, nil
}

// chainTo returns the ordered list of commits from the root to commitID
// (inclusive), following ParentID links. Returns ok=false if commitID is
// unknown.
func chainTo(commits []Commit, commitID string) ([]Commit, bool) {
	byID := make(map[string]Commit, len(commits))
	for _, c := range commits {
		byID[c.CommitID] = c
	}
	current, ok := byID[commitID]
	if !ok {
		return nil, false
	}
	var chain []Commit
	seen := make(map[string]bool)
	for {
		if seen[current.CommitID] {
			break // defend against a corrupt cyclic parent chain
		}
		seen[current.CommitID] = true
		chain = append([]Commit{current}, chain...)
		if current.ParentID == "" {
			break
		}
		parent, ok := byID[current.ParentID]
		if !ok {
			break
		}
		current = parent
	}
	return chain, true
}

// foldNodes replays a commit chain's AddNode/RemoveNode mutations into the
// set of nodes live at the chain's tip.
func foldNodes(chain []Commit) map[string]NodeSnapshot {
	nodes := make(map[string]NodeSnapshot)
	for _, c := range chain {
		for _, m := range c.Mutations {
			switch m.Kind {
			case MutationAddNode:
				nodes[m.NodeID] = NodeSnapshot{NodeID: m.NodeID, Labels: m.Labels, Properties: m.Properties}
			case MutationRemoveNode:
				delete(nodes, m.NodeID)
			}
		}
	}
	return nodes
}

// foldEdges replays a commit chain's AddEdge/RemoveEdge mutations into the
// set of edges live at the chain's tip, indexed by source node.
func foldEdges(chain []Commit) map[string][]Mutation {
	edges := make(map[string]Mutation) // edgeId -> current edge
	for _, c := range chain {
		for _, m := range c.Mutations {
			switch m.Kind {
			case MutationAddEdge:
				edges[m.EdgeID] = m
			case MutationRemoveEdge:
				delete(edges, m.EdgeID)
			}
		}
	}
	bySource := make(map[string][]Mutation)
	for _, e := range edges {
		bySource[e.From] = append(bySource[e.From], e)
	}
	return bySource
}

// GetNode returns the node's state at commitID, folding mutations along
// its parent chain. ok is false if the node does not exist at that commit
// (never added, or added then removed).
func (s *Store) GetNode(ctx context.Context, scope Scope, commitID, nodeID string) (NodeSnapshot, bool, error) {
	commits, err := s.ListCommits(ctx, scope)
	if err != nil {
		return NodeSnapshot{}, false, err
	}
	chain, ok := chainTo(commits, commitID)
	if !ok {
		return NodeSnapshot{}, false, fmt.Errorf("unknown commit %s", commitID)
	}
	node, ok := foldNodes(chain)[nodeID]
	return node, ok, nil
}

// Neighbors returns the nodes reachable from nodeID within maxDepth hops,
// as of commitID, via a breadth-first traversal of AddEdge/RemoveEdge
// mutations folded along the chain.
func (s *Store) Neighbors(ctx context.Context, scope Scope, commitID, nodeID string, maxDepth uint32) ([]NodeSnapshot, error) {
	commits, err := s.ListCommits(ctx, scope)
	if err != nil {
		return nil, err
	}
	chain, ok := chainTo(commits, commitID)
	if !ok {
		return nil, fmt.Errorf("unknown commit %s", commitID)
	}
	nodes := foldNodes(chain)
	bySource := foldEdges(chain)

	visited := map[string]bool{nodeID: true}
	var result []NodeSnapshot
	frontier := []string{nodeID}
	for depth := uint32(0); depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, from := range frontier {
			for _, edge := range bySource[from] {
				if visited[edge.To] {
					continue
				}
				visited[edge.To] = true
				if node, ok := nodes[edge.To]; ok {
					result = append(result, node)
				}
				next = append(next, edge.To)
			}
		}
		frontier = next
	}
	return result, nil
}

// PathExists reports whether to is reachable from from within maxDepth
// hops, as of commitID.
func (s *Store) PathExists(ctx context.Context, scope Scope, commitID, from, to string, maxDepth uint32) (bool, error) {
	commits, err := s.ListCommits(ctx, scope)
	if err != nil {
		return false, err
	}
	chain, ok := chainTo(commits, commitID)
	if !ok {
		return false, fmt.Errorf("unknown commit %s", commitID)
	}
	if from == to {
		return true, nil
	}
	bySource := foldEdges(chain)

	visited := map[string]bool{from: true}
	frontier := []string{from}
	for depth := uint32(0); depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, edge := range bySource[node] {
				if edge.To == to {
					return true, nil
				}
				if visited[edge.To] {
					continue
				}
				visited[edge.To] = true
				next = append(next, edge.To)
			}
		}
		frontier = next
	}
	return false, nil
}
