package approval

import (
	"testing"
	"time"
)

func sampleChain() Chain {
	return Chain{Levels: []Level{
		{Level: 1, Roles: []string{"team-lead"}, TimeoutSeconds: 3600},
		{Level: 2, Roles: []string{"manager"}, TimeoutSeconds: 0, EmergencyOverride: true},
	}}
}

func TestChainValidateRejectsEmpty(t *testing.T) {
	if err := (Chain{}).Validate(); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestChainValidateRejectsNonConsecutiveLevels(t *testing.T) {
	chain := Chain{Levels: []Level{
		{Level: 1, Roles: []string{"role1"}},
		{Level: 3, Roles: []string{"role2"}},
	}}
	if err := chain.Validate(); err == nil {
		t.Fatal("expected error for non-consecutive levels")
	}
}

func TestChainValidateRejectsEmptyRoles(t *testing.T) {
	chain := Chain{Levels: []Level{{Level: 1, Roles: nil}}}
	if err := chain.Validate(); err == nil {
		t.Fatal("expected error for level with no roles")
	}
}

func TestNewStateStartsAtLevelOne(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state, err := NewState(sampleChain(), now)
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentLevel != 1 || state.TotalLevels != 2 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.NextEscalationAt == nil {
		t.Fatal("expected level 1's timeout to schedule a next escalation")
	}
}

func TestStateEscalateAdvancesAndStopsAtFinalLevel(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	chain := sampleChain()
	state, err := NewState(chain, now)
	if err != nil {
		t.Fatal(err)
	}

	escalated, err := state.Escalate(chain, "timeout", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !escalated || state.CurrentLevel != 2 {
		t.Fatalf("expected escalation to level 2, got %+v", state)
	}
	if state.NextEscalationAt != nil {
		t.Fatal("level 2 has no timeout, expected nil next escalation")
	}

	escalated, err = state.Escalate(chain, "timeout", now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if escalated {
		t.Fatal("expected no escalation past the final level")
	}
}

func TestCanEmergencyOverrideOnlyAtConfiguredLevel(t *testing.T) {
	chain := sampleChain()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state, err := NewState(chain, now)
	if err != nil {
		t.Fatal(err)
	}
	if state.CanEmergencyOverride(chain) {
		t.Fatal("level 1 does not permit override")
	}
	if _, err := state.Escalate(chain, "timeout", now); err != nil {
		t.Fatal(err)
	}
	if !state.CanEmergencyOverride(chain) {
		t.Fatal("level 2 permits override")
	}
}

func TestApproverAllowedForRoleUsesAllowlistEnv(t *testing.T) {
	t.Setenv("APPROVER_ALLOWLIST", "alice, Bob")
	if !ApproverAllowedForRole("bob", "manager") {
		t.Fatal("expected case-insensitive allowlist match")
	}
	if ApproverAllowedForRole("carol", "manager") {
		t.Fatal("expected carol to be rejected")
	}
}
