package graph

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/demon-systems/demon/internal/eventlog"
)

var _ = Describe("graph query semantics", func() {
	var (
		ctx     context.Context
		store   *Store
		scope   Scope
		commitA string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = New(eventlog.NewMemLog(), NewMemTagStore(), nil)
		scope = sampleScope()

		var err error
		commitA, err = store.Create(ctx, scope, []Mutation{
			{Kind: MutationAddNode, NodeID: "A", Labels: []string{"Start"}},
			{Kind: MutationAddNode, NodeID: "B"},
			{Kind: MutationAddNode, NodeID: "C"},
			{Kind: MutationAddNode, NodeID: "D"},
			{Kind: MutationAddEdge, EdgeID: "e1", From: "A", To: "B"},
			{Kind: MutationAddEdge, EdgeID: "e2", From: "B", To: "C"},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("GetNode", func() {
		It("returns the node's folded state at the given commit", func() {
			node, ok, err := store.GetNode(ctx, scope, commitA, "A")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(node.Labels).To(ContainElement("Start"))
		})

		It("reports ok=false for a node that was never added", func() {
			_, ok, err := store.GetNode(ctx, scope, commitA, "Z")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Neighbors", func() {
		It("returns directly connected nodes within depth 1", func() {
			neighbors, err := store.Neighbors(ctx, scope, commitA, "A", 1)
			Expect(err).NotTo(HaveOccurred())
			ids := nodeIDs(neighbors)
			Expect(ids).To(ConsistOf("B"))
		})

		It("reaches further nodes as depth increases", func() {
			neighbors, err := store.Neighbors(ctx, scope, commitA, "A", 2)
			Expect(err).NotTo(HaveOccurred())
			ids := nodeIDs(neighbors)
			Expect(ids).To(ConsistOf("B", "C"))
		})

		It("never includes an unconnected node regardless of depth", func() {
			neighbors, err := store.Neighbors(ctx, scope, commitA, "A", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(nodeIDs(neighbors)).NotTo(ContainElement("D"))
		})
	})

	Describe("PathExists", func() {
		It("is true for a reachable node within maxDepth", func() {
			ok, err := store.PathExists(ctx, scope, commitA, "A", "C", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("is false when maxDepth is too shallow to reach the target", func() {
			ok, err := store.PathExists(ctx, scope, commitA, "A", "C", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("is false for a node with no connecting path", func() {
			ok, err := store.PathExists(ctx, scope, commitA, "A", "D", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("is true trivially when from equals to", func() {
			ok, err := store.PathExists(ctx, scope, commitA, "A", "A", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})
})

func nodeIDs(nodes []NodeSnapshot) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.NodeID
	}
	return ids
}
