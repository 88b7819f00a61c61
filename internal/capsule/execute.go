package capsule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/demon-systems/demon/internal/envelope"
	"github.com/demon-systems/demon/internal/metrics"
	"github.com/demon-systems/demon/internal/telemetry"
	digest "github.com/opencontainers/go-digest"
	"go.uber.org/zap"
)

const logTruncateBytes = 2048

// Runner executes a capsule invocation and returns its result envelope. It
// never returns an error: every failure is folded into an error envelope so
// callers (the ritual engine's step runner) always get a terminal result.
type Runner struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger.Named("capsule")}
}

// Execute runs the container for cfg and returns its result envelope.
func (r *Runner) Execute(ctx context.Context, cfg ExecConfig) envelope.Envelope {
	start := time.Now()
	kind, runtimeBin := detectRuntime()
	runtimeLabel := runtimeBin
	if kind == runtimeStub {
		runtimeLabel = "stub"
	}

	ctx, span := telemetry.StartCapsuleSpan(ctx, cfg.ImageDigest)
	traceID, spanID := telemetry.SpanContextIDs(ctx)

	env, err := r.executeInternal(ctx, cfg)
	if err != nil {
		env = buildErrorEnvelope(err, cfg)
	}
	if env.Provenance != nil {
		env.Provenance.TraceID = traceID
		env.Provenance.SpanID = spanID
	}

	result := "success"
	if !env.Result.Success {
		result = "failure"
	}
	exitReason := ""
	if result == "failure" {
		exitReason = env.Result.Code
	}
	telemetry.EndCapsuleSpan(span, env.Result.Success, exitReason)
	metrics.RecordCapsuleInvocation(runtimeLabel, result, time.Since(start))
	return env
}

func (r *Runner) executeInternal(ctx context.Context, cfg ExecConfig) (envelope.Envelope, error) {
	if err := cfg.Validate(); err != nil {
		return envelope.Envelope{}, err
	}
	if err := validateDigest(cfg.ImageDigest); err != nil {
		return envelope.Envelope{}, err
	}
	if err := verifyDigestPreflight(ctx, cfg.ImageDigest); err != nil {
		return envelope.Envelope{}, err
	}

	kind, runtimeBin := detectRuntime()
	if kind == runtimeStub {
		return r.executeStub(cfg)
	}
	return r.executeWithRuntime(ctx, cfg, runtimeBin)
}

func validateDigest(ref string) error {
	idx := strings.Index(ref, "@")
	if idx < 0 || idx == len(ref)-1 {
		return &Error{Code: CodeInvalidConfig, Message: "image reference missing digest"}
	}
	if _, err := digest.Parse(ref[idx+1:]); err != nil {
		return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("invalid image digest: %v", err)}
	}
	return nil
}

type runtimeKind int

const (
	runtimeBinary runtimeKind = iota
	runtimeStub
)

func detectRuntime() (runtimeKind, string) {
	val := strings.TrimSpace(os.Getenv("DEMON_CONTAINER_RUNTIME"))
	if strings.EqualFold(val, "stub") {
		return runtimeStub, ""
	}
	if val != "" {
		return runtimeBinary, val
	}
	return runtimeBinary, "docker"
}

func debugEnabled() bool {
	v := os.Getenv("DEMON_DEBUG")
	return v != "" && v != "0"
}

func (r *Runner) executeStub(cfg ExecConfig) (envelope.Envelope, error) {
	stubPath := os.Getenv("DEMON_CONTAINER_EXEC_STUB_ENVELOPE")
	if stubPath == "" {
		return envelope.Envelope{}, &Error{Code: CodeStubError, Message: "stub runtime requires DEMON_CONTAINER_EXEC_STUB_ENVELOPE to point to an envelope"}
	}
	raw, err := os.ReadFile(stubPath)
	if err != nil {
		return envelope.Envelope{}, &Error{Code: CodeStubError, Message: fmt.Sprintf("failed to read stub envelope at %s", stubPath), Err: err}
	}
	var env envelope.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope.Envelope{}, &Error{Code: CodeStubError, Message: "failed to parse stub envelope JSON", Err: err}
	}
	if err := env.Validate(); err != nil {
		return envelope.Envelope{}, &Error{Code: CodeStubError, Message: "stub envelope validation failed", Err: err}
	}
	env.Diagnostics = append(env.Diagnostics, envelope.Info(fmt.Sprintf("container-exec stub envelope loaded from %s", stubPath)).
		WithSource("container-exec").
		WithContext(map[string]any{"mode": "stub", "image": cfg.ImageDigest}))

	annotateSuccess(&env, cfg, 0)
	return env, nil
}

func (r *Runner) executeWithRuntime(ctx context.Context, cfg ExecConfig, runtimeBin string) (envelope.Envelope, error) {
	if cfg.ArtifactsDir != "" {
		if err := os.MkdirAll(cfg.ArtifactsDir, 0o777); err != nil {
			return envelope.Envelope{}, &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to create artifacts directory %s", cfg.ArtifactsDir), Err: err}
		}
		if err := os.Chmod(cfg.ArtifactsDir, 0o777); err != nil {
			return envelope.Envelope{}, &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to set permissions on artifacts directory %s", cfg.ArtifactsDir), Err: err}
		}
	}

	if cfg.AppPackDir != "" {
		if err := ensureAppPackMountPoint(cfg); err != nil {
			return envelope.Envelope{}, err
		}
	}

	tempRoot, err := os.MkdirTemp("", "demon-capsule-")
	if err != nil {
		return envelope.Envelope{}, &Error{Code: CodeIOError, Message: "failed to create temp directory", Err: err}
	}
	defer os.RemoveAll(tempRoot)

	plan, err := BuildPlan(cfg, tempRoot, runtimeBin, debugEnabled())
	if err != nil {
		return envelope.Envelope{}, err
	}

	if plan.HostMountRoot != "" {
		if err := os.MkdirAll(plan.HostMountRoot, 0o777); err != nil {
			return envelope.Envelope{}, &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to create host mount directory %s", plan.HostMountRoot), Err: err}
		}
		if err := os.Chmod(plan.HostMountRoot, 0o777); err != nil {
			return envelope.Envelope{}, &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to set permissions on mount directory %s", plan.HostMountRoot), Err: err}
		}
	}
	if err := prepareHostMount(plan); err != nil {
		return envelope.Envelope{}, err
	}
	if err := ensureEnvelopePlaceholder(plan.HostEnvelopePath); err != nil {
		return envelope.Envelope{}, err
	}

	cmd := exec.CommandContext(ctx, plan.Runtime, plan.Args...)
	cmd.Stdin = nil
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	logs := Logs{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		logs.ExitStatus = &code
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return envelope.Envelope{}, &Error{Code: CodeRuntimeError, Message: fmt.Sprintf("failed to spawn container runtime %q", plan.Runtime), Err: runErr}
		}
	}

	envelopeBytes, err := os.ReadFile(plan.HostEnvelopePath)
	if err != nil {
		return envelope.Envelope{}, &Error{Code: CodeEnvelopeMissing, Message: fmt.Sprintf("container envelope not found at %s", plan.HostEnvelopePath), Logs: &logs, Err: err}
	}

	var env envelope.Envelope
	if err := json.Unmarshal(envelopeBytes, &env); err != nil {
		return envelope.Envelope{}, &Error{Code: CodeEnvelopeInvalid, Message: fmt.Sprintf("invalid container envelope at %s", plan.HostEnvelopePath), Logs: &logs, Err: err}
	}
	if err := env.Validate(); err != nil {
		return envelope.Envelope{}, &Error{Code: CodeEnvelopeInvalid, Message: fmt.Sprintf("invalid container envelope at %s", plan.HostEnvelopePath), Logs: &logs, Err: err}
	}

	annotateLogs(&env, logs, plan.ContainerTarget, cfg)
	annotateSuccess(&env, cfg, duration.Seconds()*1000)
	return env, nil
}

// Logs is the captured stdout/stderr/exit-code of a runtime invocation.
type Logs struct {
	Stdout     string
	Stderr     string
	ExitStatus *int
}

func ensureAppPackMountPoint(cfg ExecConfig) error {
	mp := filepath.Join(cfg.AppPackDir, ".artifacts")
	if err := os.MkdirAll(mp, 0o777); err != nil {
		return &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to ensure app pack artifacts mount point %s", mp), Err: err}
	}
	if err := os.Chmod(mp, 0o777); err != nil {
		return &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to set permissions on artifacts mount point %s", mp), Err: err}
	}
	rel := strings.TrimPrefix(cfg.EnvelopePath, "/workspace/.artifacts/")
	if rel == "" || rel == cfg.EnvelopePath {
		return nil
	}
	appSidePath := filepath.Join(mp, rel)
	parent := filepath.Dir(appSidePath)
	if err := os.MkdirAll(parent, 0o777); err != nil {
		return &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to create app pack envelope parent %s", parent), Err: err}
	}
	_ = os.Chmod(parent, 0o777)
	// Best-effort placeholder; the file-level bind still points the
	// container at the host-side placeholder created below.
	f, err := os.OpenFile(appSidePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err == nil {
		f.Close()
	}
	return nil
}

func prepareHostMount(plan Plan) error {
	parent := filepath.Dir(plan.HostEnvelopePath)
	if err := os.MkdirAll(parent, 0o777); err != nil {
		return &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to create envelope parent directory %s", parent), Err: err}
	}
	if err := os.Chmod(parent, 0o777); err != nil {
		return &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to set permissions on envelope parent directory %s", parent), Err: err}
	}
	return nil
}

func ensureEnvelopePlaceholder(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to prepare envelope file %s", path), Err: err}
	}
	defer f.Close()
	if err := f.Truncate(0); err != nil {
		return &Error{Code: CodeIOError, Message: fmt.Sprintf("failed to truncate envelope placeholder %s", path), Err: err}
	}
	return nil
}

func annotateLogs(env *envelope.Envelope, logs Logs, containerTarget string, cfg ExecConfig) {
	if logs.ExitStatus != nil {
		level := envelope.LevelInfo
		if *logs.ExitStatus != 0 {
			level = envelope.LevelWarning
		}
		env.Diagnostics = append(env.Diagnostics, envelope.Diagnostic{
			Level:   level,
			Message: fmt.Sprintf("container runtime exited with code %d", *logs.ExitStatus),
		}.WithSource("container-exec").WithContext(map[string]any{
			"image": cfg.ImageDigest,
			"mount": containerTarget,
		}))
	}
	if strings.TrimSpace(logs.Stdout) != "" {
		env.Diagnostics = append(env.Diagnostics, envelope.Info("stdout: "+truncate(logs.Stdout, logTruncateBytes)).WithSource("container-exec"))
	}
	if strings.TrimSpace(logs.Stderr) != "" {
		env.Diagnostics = append(env.Diagnostics, envelope.Warning("stderr: "+truncate(logs.Stderr, logTruncateBytes)).WithSource("container-exec"))
	}
}

func annotateSuccess(env *envelope.Envelope, cfg ExecConfig, durationMs float64) {
	if env.Metrics == nil {
		env.Metrics = &envelope.Metrics{Duration: &envelope.Duration{TotalMs: &durationMs}}
	} else if env.Metrics.Duration == nil {
		env.Metrics.Duration = &envelope.Duration{TotalMs: &durationMs}
	}
	if env.Provenance == nil {
		env.Provenance = &envelope.Provenance{
			Source: envelope.SourceInfo{System: "container-exec", Instance: cfg.CapsuleName},
		}
	}
}

func buildErrorEnvelope(err error, cfg ExecConfig) envelope.Envelope {
	code := CodeRuntimeError
	message := err.Error()
	var logs *Logs
	if e, ok := err.(*Error); ok {
		code = e.Code
		message = e.Message
		logs = e.Logs
	}

	builder := envelope.NewBuilder().
		ErrorWithCode(message, code).
		AddDiagnostic(envelope.Error(message).WithSource("container-exec"))

	if logs != nil {
		if strings.TrimSpace(logs.Stdout) != "" {
			builder = builder.AddDiagnostic(envelope.Debug("stdout: " + truncate(logs.Stdout, logTruncateBytes)).WithSource("container-exec"))
		}
		if strings.TrimSpace(logs.Stderr) != "" {
			builder = builder.AddDiagnostic(envelope.Warning("stderr: " + truncate(logs.Stderr, logTruncateBytes)).WithSource("container-exec"))
		}
	}

	builder = builder.
		WithSourceInfo("container-exec", "", cfg.CapsuleName).
		AddDiagnostic(envelope.Info("container execution failed").WithSource("container-exec").WithContext(map[string]any{
			"image":        cfg.ImageDigest,
			"command":      cfg.Command,
			"envelopePath": cfg.EnvelopePath,
		}))

	env, buildErr := builder.Build()
	if buildErr != nil {
		return envelope.Envelope{
			Result:      envelope.ErrorResult("container execution failed", CodeRuntimeError),
			Diagnostics: []envelope.Diagnostic{},
		}
	}
	return env
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "… (truncated)"
}

func debugScript(command []string) string {
	var b strings.Builder
	b.WriteString("set -e; echo '=== DEMON_DEBUG pre-run ==='; echo uid: $(id -u); echo gid: $(id -g); ")
	b.WriteString(`echo "ENVELOPE_PATH=${ENVELOPE_PATH}"; p="$(dirname "$ENVELOPE_PATH")"; ls -l "$p" || true; test -w "$ENVELOPE_PATH" || echo 'NOT WRITABLE'; `)
	b.WriteString("(mount 2>/dev/null || cat /proc/mounts 2>/dev/null) | sed -n '1,120p'; ")
	b.WriteString("echo '=== DEMON_DEBUG run ==='; ")
	b.WriteString(shellJoin(command))
	b.WriteString(" ; echo '=== DEMON_DEBUG done ===';")
	return b.String()
}

func shellJoin(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = shellEscape(a)
	}
	return strings.Join(parts, " ")
}

func shellEscape(arg string) string {
	if arg == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
