package graph

import (
	"context"
	"testing"

	"github.com/demon-systems/demon/internal/eventlog"
)

func TestCreateRejectsEmptySeed(t *testing.T) {
	store := New(eventlog.NewMemLog(), NewMemTagStore(), nil)
	if _, err := store.Create(context.Background(), sampleScope(), nil); err == nil {
		t.Fatal("expected an error for empty seed")
	}
}

func TestCreateThenListCommits(t *testing.T) {
	store := New(eventlog.NewMemLog(), NewMemTagStore(), nil)
	ctx := context.Background()
	seed := []Mutation{{Kind: MutationAddNode, NodeID: "root", Labels: []string{"Root"}}}

	commitID, err := store.Create(ctx, sampleScope(), seed)
	if err != nil {
		t.Fatal(err)
	}

	commits, err := store.ListCommits(ctx, sampleScope())
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 || commits[0].CommitID != commitID {
		t.Fatalf("unexpected commits: %+v", commits)
	}
}

func TestTagLifecycle(t *testing.T) {
	store := New(eventlog.NewMemLog(), NewMemTagStore(), nil)
	ctx := context.Background()
	scope := sampleScope()
	commitID, err := store.Create(ctx, scope, []Mutation{{Kind: MutationAddNode, NodeID: "root"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Tag(ctx, scope, "latest", commitID); err != nil {
		t.Fatal(err)
	}
	tags, err := store.ListTags(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].Tag != "latest" || tags[0].CommitID != commitID {
		t.Fatalf("unexpected tags: %+v", tags)
	}

	if err := store.DeleteTag(ctx, scope, "latest"); err != nil {
		t.Fatal(err)
	}
	tags, err = store.ListTags(ctx, scope)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 0 {
		t.Fatalf("expected no tags after delete, got %+v", tags)
	}
}

func TestDeleteTagNotFound(t *testing.T) {
	store := New(eventlog.NewMemLog(), NewMemTagStore(), nil)
	if err := store.DeleteTag(context.Background(), sampleScope(), "missing"); err == nil {
		t.Fatal("expected ErrTagNotFound")
	}
}

func TestGetNodeNeighborsAndPathExists(t *testing.T) {
	store := New(eventlog.NewMemLog(), NewMemTagStore(), nil)
	ctx := context.Background()
	scope := sampleScope()

	mutations := []Mutation{
		{Kind: MutationAddNode, NodeID: "A"},
		{Kind: MutationAddNode, NodeID: "B"},
		{Kind: MutationAddNode, NodeID: "C"},
		{Kind: MutationAddEdge, EdgeID: "e1", From: "A", To: "B"},
		{Kind: MutationAddEdge, EdgeID: "e2", From: "B", To: "C"},
	}
	commitID, err := store.Create(ctx, scope, mutations)
	if err != nil {
		t.Fatal(err)
	}

	node, ok, err := store.GetNode(ctx, scope, commitID, "B")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || node.NodeID != "B" {
		t.Fatalf("expected node B to exist, got %+v ok=%v", node, ok)
	}

	neighbors, err := store.Neighbors(ctx, scope, commitID, "A", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0].NodeID != "B" {
		t.Fatalf("expected [B] at depth 1, got %+v", neighbors)
	}

	neighbors, err = store.Neighbors(ctx, scope, commitID, "A", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected [B, C] at depth 2, got %+v", neighbors)
	}

	exists, err := store.PathExists(ctx, scope, commitID, "A", "C", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected a path from A to C within depth 2")
	}

	exists, err = store.PathExists(ctx, scope, commitID, "A", "C", 1)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected no path from A to C within depth 1")
	}
}

func TestGetNodeAfterRemoval(t *testing.T) {
	store := New(eventlog.NewMemLog(), NewMemTagStore(), nil)
	ctx := context.Background()
	scope := sampleScope()

	first, err := store.Create(ctx, scope, []Mutation{{Kind: MutationAddNode, NodeID: "root"}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Commit(ctx, scope, first, []Mutation{{Kind: MutationRemoveNode, NodeID: "root"}})
	if err != nil {
		t.Fatal(err)
	}

	_, ok, err := store.GetNode(ctx, scope, second, "root")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected root to be absent after removal")
	}

	_, ok, err = store.GetNode(ctx, scope, first, "root")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected root to still exist at the earlier commit")
	}
}
