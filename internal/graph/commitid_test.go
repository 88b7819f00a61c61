package graph

import "testing"

func sampleScope() Scope {
	return Scope{TenantID: "tenant-1", ProjectID: "proj-1", Namespace: "ns-1", GraphID: "graph-1"}
}

func TestComputeCommitIDIsDeterministic(t *testing.T) {
	mutations := []Mutation{
		{Kind: MutationAddNode, NodeID: "node-1", Labels: []string{"Label1"}},
		{Kind: MutationAddNode, NodeID: "node-2", Labels: []string{"Label2"}},
	}
	id1, err := ComputeCommitID(sampleScope(), "", mutations)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ComputeCommitID(sampleScope(), "", mutations)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected deterministic commit id, got %s vs %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Fatalf("expected a 64-char hex sha256, got %d chars", len(id1))
	}
}

func TestComputeCommitIDDiffersWithParent(t *testing.T) {
	mutations := []Mutation{{Kind: MutationAddNode, NodeID: "node-1"}}
	withoutParent, err := ComputeCommitID(sampleScope(), "", mutations)
	if err != nil {
		t.Fatal(err)
	}
	withParent, err := ComputeCommitID(sampleScope(), "parent-abc", mutations)
	if err != nil {
		t.Fatal(err)
	}
	if withoutParent == withParent {
		t.Fatal("expected parent to change the commit id")
	}
}

func TestComputeCommitIDIsMutationOrderIndependent(t *testing.T) {
	a := []Mutation{{Kind: MutationAddNode, NodeID: "node-a"}, {Kind: MutationAddNode, NodeID: "node-b"}}
	b := []Mutation{{Kind: MutationAddNode, NodeID: "node-b"}, {Kind: MutationAddNode, NodeID: "node-a"}}
	id1, err := ComputeCommitID(sampleScope(), "", a)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ComputeCommitID(sampleScope(), "", b)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatal("expected commit id to be independent of mutation order")
	}
}
