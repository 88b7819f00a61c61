package eventlog

import (
	"context"
	"testing"
)

func TestMemLogDedupByMsgID(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()

	if err := log.Publish(ctx, "demon.ritual.v1.t.r.run1.events", "ritual.started:v1", map[string]string{"a": "1"}, "run1:started"); err != nil {
		t.Fatal(err)
	}
	if err := log.Publish(ctx, "demon.ritual.v1.t.r.run1.events", "ritual.started:v1", map[string]string{"a": "2"}, "run1:started"); err != nil {
		t.Fatal(err)
	}

	recs, err := log.FetchBySubject(ctx, "demon.ritual.v1.t.r.run1.events", DeliverAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected exactly one stored record under dedup, got %d", len(recs))
	}
}

func TestMemLogWildcardFetch(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	_ = log.Publish(ctx, "demon.ritual.v1.t.r.run1.events", "ritual.started:v1", map[string]string{}, "m1")
	_ = log.Publish(ctx, "demon.ritual.v1.t.r.run2.events", "ritual.started:v1", map[string]string{}, "m2")
	_ = log.Publish(ctx, "demon.graph.v1.t.p.n.commit", "graph.commit.created:v1", map[string]string{}, "m3")

	recs, err := log.FetchBySubject(ctx, "demon.ritual.v1.t.r.*.events", DeliverAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 ritual records, got %d", len(recs))
	}
}

func TestMemLogLastPerSubject(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()
	_ = log.Publish(ctx, "demon.ritual.v1.t.r.run1.events", "ritual.started:v1", map[string]string{}, "m1")
	_ = log.Publish(ctx, "demon.ritual.v1.t.r.run1.events", "ritual.transitioned:v1", map[string]string{}, "m2")

	recs, err := log.FetchBySubject(ctx, "demon.ritual.v1.t.r.run1.events", DeliverLastPerSubject)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Event != "ritual.transitioned:v1" {
		t.Fatalf("expected latest-only record, got %+v", recs)
	}
}
