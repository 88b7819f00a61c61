package capsule

import "testing"

func validConfig() ExecConfig {
	return ExecConfig{
		ImageDigest:  "example.com/img@sha256:" + sampleDigestHex(),
		Command:      []string{"/bin/run"},
		EnvelopePath: "/workspace/.artifacts/result.json",
	}
}

func sampleDigestHex() string {
	h := ""
	for i := 0; i < 64; i++ {
		h += "a"
	}
	return h
}

func TestValidateRejectsUnpinnedDigest(t *testing.T) {
	cfg := validConfig()
	cfg.ImageDigest = "example.com/img:latest"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unpinned image")
	}
}

func TestValidateRejectsEmptyCommand(t *testing.T) {
	cfg := validConfig()
	cfg.Command = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestValidateRejectsRelativeEnvelopePath(t *testing.T) {
	cfg := validConfig()
	cfg.EnvelopePath = "workspace/.artifacts/result.json"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for relative envelope path")
	}
}

func TestValidateRejectsEnvelopePathOutsideArtifacts(t *testing.T) {
	cfg := validConfig()
	cfg.EnvelopePath = "/tmp/result.json"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for envelope path outside /workspace/.artifacts")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateDigestRejectsMalformedDigest(t *testing.T) {
	if err := validateDigest("example.com/img@not-a-digest"); err == nil {
		t.Fatal("expected error for malformed digest")
	}
}

func TestValidateDigestAcceptsSha256(t *testing.T) {
	if err := validateDigest("example.com/img@sha256:" + sampleDigestHex()); err != nil {
		t.Fatalf("expected valid digest, got %v", err)
	}
}
