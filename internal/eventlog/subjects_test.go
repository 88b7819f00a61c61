package eventlog

import "testing"

func TestParseRitualSubjectTenantAware(t *testing.T) {
	parsed, ok := ParseRitualSubject("demon.ritual.v1.acme.deploy.r1.events")
	if !ok {
		t.Fatal("expected ok")
	}
	if parsed.Tenant != "acme" || parsed.Ritual != "deploy" || parsed.Run != "r1" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
}

func TestParseRitualSubjectLegacy(t *testing.T) {
	parsed, ok := ParseRitualSubject("demon.ritual.v1.deploy.r1.events")
	if !ok {
		t.Fatal("expected ok")
	}
	if parsed.Tenant != "default" || parsed.Ritual != "deploy" || parsed.Run != "r1" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
}

func TestParseRitualSubjectMalformed(t *testing.T) {
	if _, ok := ParseRitualSubject("not.a.ritual.subject"); ok {
		t.Fatal("expected malformed subject to be rejected")
	}
}

func TestRitualSubjectRoundTrip(t *testing.T) {
	subj := RitualSubject("acme", "deploy", "r1")
	parsed, ok := ParseRitualSubject(subj)
	if !ok {
		t.Fatal("expected ok")
	}
	if parsed.Tenant != "acme" || parsed.Ritual != "deploy" || parsed.Run != "r1" {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
}
