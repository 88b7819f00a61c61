package capsule

import (
	"strings"
	"testing"
)

func planConfig() ExecConfig {
	return ExecConfig{
		ImageDigest:  "example.com/img@sha256:" + sampleDigestHex(),
		Command:      []string{"/bin/run", "--flag"},
		EnvelopePath: "/workspace/.artifacts/result.json",
		Env:          map[string]string{"ZETA": "1", "ALPHA": "2"},
	}
}

func TestBuildPlanIncludesSandboxFlags(t *testing.T) {
	plan, err := BuildPlan(planConfig(), t.TempDir(), "docker", false)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(plan.Args, " ")
	for _, want := range []string{"--rm", "--read-only", "--network none", "--security-opt no-new-privileges", "--pull never"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected args to contain %q, got %q", want, joined)
		}
	}
}

func TestBuildPlanSortsEnvKeysForDeterminism(t *testing.T) {
	plan, err := BuildPlan(planConfig(), t.TempDir(), "docker", false)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(plan.Args, " ")
	alphaIdx := strings.Index(joined, "ALPHA=2")
	zetaIdx := strings.Index(joined, "ZETA=1")
	if alphaIdx == -1 || zetaIdx == -1 || alphaIdx > zetaIdx {
		t.Fatalf("expected ALPHA before ZETA in sorted env args: %q", joined)
	}
}

func TestBuildPlanEndsWithEntrypointImageThenCommand(t *testing.T) {
	cfg := planConfig()
	plan, err := BuildPlan(cfg, t.TempDir(), "docker", false)
	if err != nil {
		t.Fatal(err)
	}
	n := len(plan.Args)
	if plan.Args[n-1] != "--flag" || plan.Args[n-2] != "/bin/run" {
		t.Fatalf("expected command to trail the argv, got %v", plan.Args[n-4:])
	}
}

func TestBuildPlanAppendsResourceLimitsAfterCommand(t *testing.T) {
	cfg := planConfig()
	cfg.CPUs = "2"
	cfg.Memory = "512m"
	cfg.PidsLimit = "128"
	plan, err := BuildPlan(cfg, t.TempDir(), "docker", false)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(plan.Args, " ")
	if !strings.Contains(joined, "--cpus 2") || !strings.Contains(joined, "--memory 512m") || !strings.Contains(joined, "--pids-limit 128") {
		t.Fatalf("expected resource limit flags present, got %q", joined)
	}
}

func TestBuildPlanDebugModeWrapsCommandInShell(t *testing.T) {
	plan, err := BuildPlan(planConfig(), t.TempDir(), "docker", true)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(plan.Args, " ")
	if !strings.Contains(joined, "/bin/sh -c") {
		t.Fatalf("expected debug mode to wrap the command in a shell, got %q", joined)
	}
	if !strings.Contains(joined, "DEMON_DEBUG pre-run") {
		t.Fatalf("expected debug script markers, got %q", joined)
	}
}

func TestBuildPlanMountsAppPackReadOnlyAndArtifactsWritable(t *testing.T) {
	cfg := planConfig()
	cfg.AppPackDir = t.TempDir()
	cfg.ArtifactsDir = t.TempDir()
	plan, err := BuildPlan(cfg, t.TempDir(), "docker", false)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(plan.Args, " ")
	if !strings.Contains(joined, "target=/workspace,readonly=true") {
		t.Fatalf("expected app pack mount read-only, got %q", joined)
	}
	if !strings.Contains(joined, "target=/workspace/.artifacts,readonly=false") {
		t.Fatalf("expected artifacts mount writable, got %q", joined)
	}
}
