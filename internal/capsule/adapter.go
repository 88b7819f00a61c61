package capsule

import (
	"context"

	"github.com/demon-systems/demon/internal/envelope"
)

// EngineAdapter satisfies ritual.CapsuleRunner, translating the engine's
// (imageDigest, command) pair into one ExecConfig invocation. The envelope
// path is fixed per call since each invocation gets its own scratch mount
// (prepareEnvelopeMount synthesizes a fresh temp root when ArtifactsDir is
// empty), so there is no cross-invocation collision to guard against.
type EngineAdapter struct {
	runner *Runner
}

// NewEngineAdapter wraps runner for use as a ritual.CapsuleRunner.
func NewEngineAdapter(runner *Runner) *EngineAdapter {
	return &EngineAdapter{runner: runner}
}

// Run executes one capsule invocation. The runner never fails outright (any
// execution error is already folded into the envelope's result), so Run
// always returns a nil error and leaves the success/failure interpretation
// to the caller (ritual.Engine.Advance checks env.Result.Success itself).
func (a *EngineAdapter) Run(ctx context.Context, imageDigest string, command []string) (envelope.Envelope, error) {
	cfg := ExecConfig{
		ImageDigest:  imageDigest,
		Command:      command,
		EnvelopePath: "/workspace/.artifacts/envelope.json",
	}
	return a.runner.Execute(ctx, cfg), nil
}
