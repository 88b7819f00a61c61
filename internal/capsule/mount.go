package capsule

import (
	"path/filepath"
	"strings"
)

// envelopeMount resolves where the container-visible envelope path lands on
// the host, and what to bind-mount to get it there. Two modes: when an
// artifacts directory is configured the envelope must resolve under it
// (matching the bind mount at /workspace/.artifacts); otherwise a scratch
// mount root is synthesized under the executor's temp directory.
type envelopeMount struct {
	containerRoot    string
	hostMountRoot    string // empty when artifactsDir owns the mount
	hostEnvelopePath string
}

func prepareEnvelopeMount(envelopePath, tempRoot, artifactsDir string) (envelopeMount, error) {
	if !strings.HasPrefix(envelopePath, "/") {
		return envelopeMount{}, &Error{Code: CodeInvalidConfig, Message: "envelope path must be absolute"}
	}

	containerParent := filepath.Dir(envelopePath)

	if artifactsDir != "" {
		rel, err := sanitizeRelative(envelopePath, "/workspace/.artifacts")
		if err != nil {
			return envelopeMount{}, &Error{Code: CodeInvalidConfig, Message: "envelope path must live under /workspace/.artifacts when artifactsDir is provided"}
		}
		if rel == "" {
			return envelopeMount{}, &Error{Code: CodeInvalidConfig, Message: "envelope path must reference a file under /workspace/.artifacts"}
		}
		return envelopeMount{
			containerRoot:    containerParent,
			hostEnvelopePath: filepath.Join(artifactsDir, rel),
		}, nil
	}

	trimmed := strings.TrimPrefix(envelopePath, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		return envelopeMount{}, &Error{Code: CodeInvalidConfig, Message: "envelope path missing components"}
	}
	for _, p := range parts {
		if p == ".." {
			return envelopeMount{}, &Error{Code: CodeInvalidConfig, Message: "envelope path cannot contain '..' segments"}
		}
	}

	first := parts[0]
	hostMountRoot := filepath.Join(tempRoot, "mount", first)
	hostEnvelopePath := filepath.Join(append([]string{hostMountRoot}, parts[1:]...)...)
	containerRoot := "/" + strings.TrimRight(first, "/")

	return envelopeMount{
		containerRoot:    containerRoot,
		hostMountRoot:    hostMountRoot,
		hostEnvelopePath: hostEnvelopePath,
	}, nil
}

func (m envelopeMount) hostRoot() (string, bool) {
	if m.hostMountRoot == "" {
		return "", false
	}
	return m.hostMountRoot, true
}

// sanitizeRelative strips base from path and rejects any ".." or absolute
// component in the remainder, returning the cleaned relative path (possibly
// empty when path equals base exactly).
func sanitizeRelative(path, base string) (string, error) {
	rest := strings.TrimPrefix(path, base)
	rest = strings.TrimPrefix(rest, "/")
	if rest == path {
		// path did not actually have base as a prefix
		return "", &Error{Code: CodeInvalidConfig, Message: "path is not under base"}
	}
	if rest == "" {
		return "", nil
	}
	clean := filepath.Clean(rest)
	if clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return "", &Error{Code: CodeInvalidConfig, Message: "path traverses outside base"}
	}
	return clean, nil
}
