// Package approval implements gate requests and their escalation chains
// (§4.3): a pending gate is terminal iff the event list contains a grant,
// deny or override for it, and escalation moves it through an ordered, per-tenant,
// per-gate chain of levels on timeout.
package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"
)

// Level is one rung of an escalation chain. Levels are 1-based and must be
// consecutive starting at 1.
type Level struct {
	Level             uint32   `json:"level"`
	Roles             []string `json:"roles"`
	TimeoutSeconds    uint64   `json:"timeoutSeconds"`
	EmergencyOverride bool     `json:"emergencyOverride,omitempty"`
	Notifications     []string `json:"notifications,omitempty"`
}

// Chain is the complete escalation chain for one (tenant, gateId).
type Chain struct {
	Levels []Level `json:"levels"`
}

// FirstLevel returns the chain's first level, if any.
func (c Chain) FirstLevel() (Level, bool) {
	if len(c.Levels) == 0 {
		return Level{}, false
	}
	return c.Levels[0], true
}

// GetLevel returns the level numbered n, if present.
func (c Chain) GetLevel(n uint32) (Level, bool) {
	for _, l := range c.Levels {
		if l.Level == n {
			return l, true
		}
	}
	return Level{}, false
}

// NextLevel returns the level immediately after current, if any.
func (c Chain) NextLevel(current uint32) (Level, bool) {
	return c.GetLevel(current + 1)
}

// IsFinalLevel reports whether n is the chain's highest level.
func (c Chain) IsFinalLevel(n uint32) bool {
	var max uint32
	for _, l := range c.Levels {
		if l.Level > max {
			max = l.Level
		}
	}
	return max == n
}

// Validate checks that the chain is non-empty, numbered consecutively from
// 1, and that every level has at least one role.
func (c Chain) Validate() error {
	if len(c.Levels) == 0 {
		return fmt.Errorf("escalation chain cannot be empty")
	}
	expected := uint32(1)
	for _, l := range c.Levels {
		if l.Level != expected {
			return fmt.Errorf("escalation levels must be consecutive starting from 1, found level %d but expected %d", l.Level, expected)
		}
		expected++
		if len(l.Roles) == 0 {
			return fmt.Errorf("level %d must have at least one role", l.Level)
		}
	}
	return nil
}

// TenantRules maps gate IDs to their escalation chain for one tenant.
type TenantRules struct {
	Gates map[string]Chain `json:"gates"`
}

// Config is the full, process-wide escalation configuration: per-tenant
// gate chains, loaded once from APPROVAL_ESCALATION_RULES at the process
// boundary.
type Config struct {
	Tenants map[string]TenantRules `json:"tenants"`
}

// ConfigFromEnv loads Config from APPROVAL_ESCALATION_RULES (a JSON blob) or,
// if that is unset, from the YAML file named by APPROVAL_ESCALATION_RULES_FILE
// (operators may prefer to author escalation chains as YAML; it is normalized
// to the same JSON shape via sigs.k8s.io/yaml's YAML-to-JSON round trip before
// unmarshaling). Returns (nil, nil) if neither is set: escalation is optional.
func ConfigFromEnv() (*Config, error) {
	if raw, ok := os.LookupEnv("APPROVAL_ESCALATION_RULES"); ok && raw != "" {
		var cfg Config
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("parse APPROVAL_ESCALATION_RULES: %w", err)
		}
		return &cfg, nil
	}

	path := os.Getenv("APPROVAL_ESCALATION_RULES_FILE")
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	jsonRaw, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("convert %s from YAML: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(jsonRaw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// GetChain returns the escalation chain configured for (tenant, gateID), if
// any.
func (c *Config) GetChain(tenant, gateID string) (Chain, bool) {
	if c == nil {
		return Chain{}, false
	}
	rules, ok := c.Tenants[tenant]
	if !ok {
		return Chain{}, false
	}
	chain, ok := rules.Gates[gateID]
	return chain, ok
}

// HistoryEntry records one escalation transition.
type HistoryEntry struct {
	FromLevel   uint32    `json:"fromLevel"`
	ToLevel     uint32    `json:"toLevel"`
	EscalatedAt time.Time `json:"escalatedAt"`
	Reason      string    `json:"reason"`
}

// State is a gate's current position in its escalation chain, derived from
// the event log rather than held in memory.
type State struct {
	CurrentLevel      uint32         `json:"currentLevel"`
	TotalLevels       uint32         `json:"totalLevels"`
	LevelStartedAt    time.Time      `json:"levelStartedAt"`
	NextEscalationAt  *time.Time     `json:"nextEscalationAt,omitempty"`
	EmergencyOverride bool           `json:"emergencyOverride"`
	History           []HistoryEntry `json:"escalationHistory,omitempty"`
}

// NewState builds the initial state for a freshly requested gate.
func NewState(chain Chain, now time.Time) (State, error) {
	if err := chain.Validate(); err != nil {
		return State{}, err
	}
	first, ok := chain.FirstLevel()
	if !ok {
		return State{}, fmt.Errorf("chain has no levels")
	}
	st := State{CurrentLevel: 1, TotalLevels: uint32(len(chain.Levels)), LevelStartedAt: now}
	if first.TimeoutSeconds > 0 {
		at := now.Add(time.Duration(first.TimeoutSeconds) * time.Second)
		st.NextEscalationAt = &at
	}
	return st, nil
}

// Escalate advances the state to the next level of chain, if one exists.
// Returns false when the current level is already final.
func (s *State) Escalate(chain Chain, reason string, now time.Time) (bool, error) {
	next, ok := chain.NextLevel(s.CurrentLevel)
	if !ok {
		return false, nil
	}
	s.History = append(s.History, HistoryEntry{FromLevel: s.CurrentLevel, ToLevel: next.Level, EscalatedAt: now, Reason: reason})
	s.CurrentLevel = next.Level
	s.LevelStartedAt = now
	if next.TimeoutSeconds > 0 {
		at := now.Add(time.Duration(next.TimeoutSeconds) * time.Second)
		s.NextEscalationAt = &at
	} else {
		s.NextEscalationAt = nil
	}
	return true, nil
}

// IsTimedOut reports whether the current level's timer has elapsed.
func (s State) IsTimedOut(now time.Time) bool {
	return s.NextEscalationAt != nil && now.After(*s.NextEscalationAt)
}

// MarkEmergencyOverride records an override and cancels further escalation.
func (s *State) MarkEmergencyOverride() {
	s.EmergencyOverride = true
	s.NextEscalationAt = nil
}

// CanEmergencyOverride reports whether the state's current level permits an
// emergency override under chain.
func (s State) CanEmergencyOverride(chain Chain) bool {
	level, ok := chain.GetLevel(s.CurrentLevel)
	return ok && level.EmergencyOverride
}

// ApproverAllowedForRole reports whether approver is in APPROVER_ALLOWLIST.
// Role-specific allowlists are not yet supported: any allowed approver may
// act at any role/level (matches the MVP behavior this was ported from).
// An unset APPROVER_ALLOWLIST means no restriction is configured, so every
// approver is allowed.
func ApproverAllowedForRole(approver, _ string) bool {
	allowlist := os.Getenv("APPROVER_ALLOWLIST")
	if allowlist == "" {
		return true
	}
	for _, allowed := range strings.Split(allowlist, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed != "" && strings.EqualFold(allowed, approver) {
			return true
		}
	}
	return false
}

// ApproverAllowedForLevel reports whether approver satisfies any role
// required by level.
func ApproverAllowedForLevel(approver string, level Level) bool {
	for _, role := range level.Roles {
		if ApproverAllowedForRole(approver, role) {
			return true
		}
	}
	return false
}
