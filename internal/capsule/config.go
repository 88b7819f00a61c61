// Package capsule implements the sandboxed container execution capsule
// (§4.6): validating an invocation config, synthesizing the container
// runtime's argv/mounts, running it, and harvesting a result envelope.
package capsule

import (
	"fmt"
	"os"
	"strings"
)

// ExecConfig describes one containerized capsule invocation.
type ExecConfig struct {
	ImageDigest  string            `json:"imageDigest"`
	Command      []string          `json:"command"`
	Env          map[string]string `json:"env,omitempty"`
	WorkingDir   string            `json:"workingDir,omitempty"`
	EnvelopePath string            `json:"envelopePath"`
	CapsuleName  string            `json:"capsuleName,omitempty"`
	AppPackDir   string            `json:"appPackDir,omitempty"`
	ArtifactsDir string            `json:"artifactsDir,omitempty"`
	CPUs         string            `json:"cpus,omitempty"`
	Memory       string            `json:"memory,omitempty"`
	PidsLimit    string            `json:"pidsLimit,omitempty"`
}

// Validate checks digest pinning, a non-empty command, and the shape of the
// configured paths (absolute; envelope path under /workspace/.artifacts).
// It does not look for '..' segments in the envelope path; BuildPlan rejects
// those when it prepares the envelope mount. Its only filesystem access is a
// stat confirming AppPackDir exists; Runner.Execute creates directories.
func (c ExecConfig) Validate() error {
	if !strings.Contains(c.ImageDigest, "@sha256:") {
		return &Error{Code: CodeInvalidConfig, Message: "container image must be digest-pinned (expected '@sha256:' in reference)"}
	}
	if len(c.Command) == 0 {
		return &Error{Code: CodeInvalidConfig, Message: "container command cannot be empty"}
	}
	if strings.TrimSpace(c.EnvelopePath) == "" {
		return &Error{Code: CodeInvalidConfig, Message: "envelope path cannot be empty"}
	}
	if !strings.HasPrefix(c.EnvelopePath, "/") {
		return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("envelope path %q must be absolute", c.EnvelopePath)}
	}
	if c.EnvelopePath != "/workspace/.artifacts" && !strings.HasPrefix(c.EnvelopePath, "/workspace/.artifacts/") {
		return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("envelope path %q must live under /workspace/.artifacts", c.EnvelopePath)}
	}
	if c.AppPackDir != "" {
		if !strings.HasPrefix(c.AppPackDir, "/") {
			return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("app pack directory %q must be an absolute path", c.AppPackDir)}
		}
		if _, err := os.Stat(c.AppPackDir); err != nil {
			return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("app pack directory %q does not exist", c.AppPackDir)}
		}
	}
	if c.ArtifactsDir != "" && !strings.HasPrefix(c.ArtifactsDir, "/") {
		return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("artifacts directory %q must be an absolute path", c.ArtifactsDir)}
	}
	return nil
}
