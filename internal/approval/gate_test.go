package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/demon-systems/demon/internal/eventlog"
)

func TestAwaitGateThenGrantResolvesGate(t *testing.T) {
	log := eventlog.NewMemLog()
	mgr := NewManager(log, nil, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "needs review", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Grant(ctx, "acme", "run1", "deploy", "g1", "bob"); err != nil {
		t.Fatal(err)
	}

	records := fetchAll(t, log, "acme", "deploy", "run1")
	view := ProjectGate("g1", records)
	if view.Resolution != ResolutionGranted || view.Approver != "bob" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestGrantIsIdempotent(t *testing.T) {
	log := eventlog.NewMemLog()
	mgr := NewManager(log, nil, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Grant(ctx, "acme", "run1", "deploy", "g1", "bob"); err != nil {
		t.Fatal(err)
	}
	noop, err := mgr.Grant(ctx, "acme", "run1", "deploy", "g1", "bob")
	if err != nil {
		t.Fatalf("duplicate grant should be an idempotent no-op, got %v", err)
	}
	if !noop {
		t.Fatal("expected duplicate grant to report noop=true")
	}
}

func TestDenyAfterGrantConflicts(t *testing.T) {
	log := eventlog.NewMemLog()
	mgr := NewManager(log, nil, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Grant(ctx, "acme", "run1", "deploy", "g1", "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Deny(ctx, "acme", "run1", "deploy", "g1", "carol", "changed my mind"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestAwaitGateWithEscalationChainSchedulesLevelOneTimer(t *testing.T) {
	log := eventlog.NewMemLog()
	cfg := &Config{Tenants: map[string]TenantRules{
		"acme": {Gates: map[string]Chain{
			"g1": sampleChain(),
		}},
	}}
	mgr := NewManager(log, cfg, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", 0); err != nil {
		t.Fatal(err)
	}

	records := fetchAll(t, log, "acme", "deploy", "run1")
	found := false
	for _, rec := range records {
		if rec.Event == "timer.scheduled:v1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a timer.scheduled:v1 event for the level-1 timeout")
	}
}

func TestProcessExpiryDeniesWhenNoEscalationConfigured(t *testing.T) {
	log := eventlog.NewMemLog()
	mgr := NewManager(log, nil, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", time.Minute); err != nil {
		t.Fatal(err)
	}

	records := fetchAll(t, log, "acme", "deploy", "run1")
	outcome, err := mgr.ProcessExpiry(ctx, "acme", "run1", "deploy", "g1", records)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeDenied {
		t.Fatalf("expected OutcomeDenied, got %s", outcome)
	}

	records = fetchAll(t, log, "acme", "deploy", "run1")
	view := ProjectGate("g1", records)
	if view.Resolution != ResolutionDenied || view.Approver != "system" {
		t.Fatalf("unexpected view after expiry: %+v", view)
	}
}

func TestProcessExpiryEscalatesThenDeniesAtFinalLevel(t *testing.T) {
	log := eventlog.NewMemLog()
	cfg := &Config{Tenants: map[string]TenantRules{
		"acme": {Gates: map[string]Chain{"g1": sampleChain()}},
	}}
	mgr := NewManager(log, cfg, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", 0); err != nil {
		t.Fatal(err)
	}

	records := fetchAll(t, log, "acme", "deploy", "run1")
	outcome, err := mgr.ProcessExpiry(ctx, "acme", "run1", "deploy", "g1", records)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeEscalated {
		t.Fatalf("expected escalation to level 2, got %s", outcome)
	}

	records = fetchAll(t, log, "acme", "deploy", "run1")
	view := ProjectGate("g1", records)
	if view.Escalation == nil || view.Escalation.CurrentLevel != 2 {
		t.Fatalf("expected escalation state at level 2, got %+v", view.Escalation)
	}

	// Level 2 has no timeout, so a second expiry delivery (e.g. a stray
	// redelivery) must deny rather than escalate further.
	outcome, err = mgr.ProcessExpiry(ctx, "acme", "run1", "deploy", "g1", records)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeDenied {
		t.Fatalf("expected final-level expiry to deny, got %s", outcome)
	}
}

func TestProcessExpiryIsNoopOnceTerminal(t *testing.T) {
	log := eventlog.NewMemLog()
	mgr := NewManager(log, nil, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Grant(ctx, "acme", "run1", "deploy", "g1", "bob"); err != nil {
		t.Fatal(err)
	}

	records := fetchAll(t, log, "acme", "deploy", "run1")
	outcome, err := mgr.ProcessExpiry(ctx, "acme", "run1", "deploy", "g1", records)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeNoopTerminal {
		t.Fatalf("expected noop_terminal, got %s", outcome)
	}
}

func TestOverrideRejectedOutsideEmergencyLevel(t *testing.T) {
	log := eventlog.NewMemLog()
	cfg := &Config{Tenants: map[string]TenantRules{
		"acme": {Gates: map[string]Chain{"g1": sampleChain()}},
	}}
	mgr := NewManager(log, cfg, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Override(ctx, "acme", "run1", "deploy", "g1", "director", "critical"); !errors.Is(err, ErrNotEmergencyLevel) {
		t.Fatalf("expected ErrNotEmergencyLevel at level 1, got %v", err)
	}
}

func TestOverrideAllowedAfterEscalatingToEmergencyLevel(t *testing.T) {
	log := eventlog.NewMemLog()
	cfg := &Config{Tenants: map[string]TenantRules{
		"acme": {Gates: map[string]Chain{"g1": sampleChain()}},
	}}
	mgr := NewManager(log, cfg, nil)
	ctx := context.Background()

	if err := mgr.AwaitGate(ctx, "acme", "run1", "deploy", "g1", "alice", "", 0); err != nil {
		t.Fatal(err)
	}
	records := fetchAll(t, log, "acme", "deploy", "run1")
	if _, err := mgr.ProcessExpiry(ctx, "acme", "run1", "deploy", "g1", records); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Override(ctx, "acme", "run1", "deploy", "g1", "director", "critical"); err != nil {
		t.Fatalf("expected override to be accepted at level 2, got %v", err)
	}

	records = fetchAll(t, log, "acme", "deploy", "run1")
	view := ProjectGate("g1", records)
	if view.Resolution != ResolutionOverride {
		t.Fatalf("expected override resolution, got %+v", view)
	}
}

func fetchAll(t *testing.T, log *eventlog.MemLog, tenant, ritual, run string) []eventlog.Record {
	t.Helper()
	records, err := log.FetchBySubject(context.Background(), eventlog.RitualSubject(tenant, ritual, run), eventlog.DeliverAll)
	if err != nil {
		t.Fatal(err)
	}
	return records
}
