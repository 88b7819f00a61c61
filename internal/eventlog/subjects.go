package eventlog

import (
	"fmt"
	"strings"
)

// Stream names used for idempotent provisioning (§6).
const (
	StreamRitualEvents       = "RITUAL_EVENTS"
	StreamRitualEventsLegacy = "DEMON_RITUAL_EVENTS"
	StreamGraphCommits       = "GRAPH_COMMITS"
	StreamScaleHints         = "SCALE_HINTS"
)

// Subject wildcards for stream provisioning.
const (
	WildcardRitual = "demon.ritual.v1.>"
	WildcardGraph  = "demon.graph.v1.>"
	WildcardScale  = "demon.scale.v1.>"
)

// RitualSubject builds the tenant-aware ritual event subject. Writers always
// use this form; the legacy non-tenant arity is accepted on read only.
func RitualSubject(tenant, ritual, run string) string {
	return fmt.Sprintf("demon.ritual.v1.%s.%s.%s.events", tenant, ritual, run)
}

// RitualSubjectFilter builds a wildcard filter over every run of a ritual,
// or over every ritual/run when ritual/run are "*".
func RitualSubjectFilter(tenant, ritual, run string) string {
	return fmt.Sprintf("demon.ritual.v1.%s.%s.%s.events", orWildcard(tenant), orWildcard(ritual), orWildcard(run))
}

func orWildcard(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// ParsedRitualSubject is the tenant, ritual, and run extracted from a ritual
// event subject, accepting both the tenant-aware and legacy arities.
type ParsedRitualSubject struct {
	Tenant string
	Ritual string
	Run    string
}

// ParseRitualSubject parses both subject arities:
//
//	demon.ritual.v1.<tenant>.<ritual>.<run>.events   (tenant-aware, 3 segments between prefix and .events)
//	demon.ritual.v1.<ritual>.<run>.events            (legacy, no tenant)
//
// Malformed subjects return ok=false; callers must ack-and-skip rather than
// treat this as a retryable error.
func ParseRitualSubject(subject string) (parsed ParsedRitualSubject, ok bool) {
	const prefix = "demon.ritual.v1."
	if !strings.HasPrefix(subject, prefix) {
		return ParsedRitualSubject{}, false
	}
	rest := strings.TrimPrefix(subject, prefix)
	rest = strings.TrimSuffix(rest, ".events")
	parts := strings.Split(rest, ".")
	switch len(parts) {
	case 3:
		return ParsedRitualSubject{Tenant: parts[0], Ritual: parts[1], Run: parts[2]}, true
	case 2:
		// Legacy arity: no tenant component.
		return ParsedRitualSubject{Tenant: "default", Ritual: parts[0], Run: parts[1]}, true
	default:
		return ParsedRitualSubject{}, false
	}
}

// GraphSubject builds the graph commit event subject for a scope.
func GraphSubject(tenant, project, namespace, graph string) string {
	return fmt.Sprintf("demon.graph.v1.%s.%s.%s.%s.commit", tenant, project, namespace, graph)
}

// GraphSubjectFilter builds a wildcard filter over a scope's graph events.
func GraphSubjectFilter(tenant, project, namespace, graph string) string {
	return fmt.Sprintf("demon.graph.v1.%s.%s.%s.%s.commit",
		orWildcard(tenant), orWildcard(project), orWildcard(namespace), orWildcard(graph))
}

// ScaleSubject builds the scale-hint subject for a tenant.
func ScaleSubject(tenant string) string {
	return fmt.Sprintf("demon.scale.v1.%s.hints", tenant)
}
