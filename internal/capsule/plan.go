package capsule

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
)

// Plan is the fully-resolved, side-effect-free description of a container
// invocation: the runtime argv and mount paths, computed up front so
// Runner.Execute only prepares host files and shells out via os/exec.
type Plan struct {
	Runtime          string
	Args             []string
	HostEnvelopePath string
	HostMountRoot    string // empty when the envelope mount is owned by artifactsDir
	ContainerTarget  string
}

const tmpfsSpec = "/tmp:rw,noexec,nosuid,nodev,size=67108864"

// BuildPlan resolves an ExecConfig plus runtime environment into an argv
// ready to exec. tempRoot is a scratch directory owned by the caller (a
// fresh os.MkdirTemp per invocation); runtimeBin names the container
// runtime binary ("docker" unless overridden).
func BuildPlan(cfg ExecConfig, tempRoot, runtimeBin string, debug bool) (Plan, error) {
	mount, err := prepareEnvelopeMount(cfg.EnvelopePath, tempRoot, cfg.ArtifactsDir)
	if err != nil {
		return Plan{}, err
	}

	args := []string{
		"run", "--rm",
		"--pull", "never",
		"--network", "none",
		"--read-only",
		"--security-opt", "no-new-privileges",
		"--user", containerUser(),
		"--tmpfs", tmpfsSpec,
	}

	if cfg.AppPackDir != "" {
		appDir, err := filepath.Abs(cfg.AppPackDir)
		if err != nil {
			return Plan{}, &Error{Code: CodeIOError, Message: "failed to resolve app pack directory", Err: err}
		}
		args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=/workspace,readonly=true", appDir))
	}

	if cfg.ArtifactsDir != "" {
		artifactsDir, err := filepath.Abs(cfg.ArtifactsDir)
		if err != nil {
			return Plan{}, &Error{Code: CodeIOError, Message: "failed to resolve artifacts directory", Err: err}
		}
		args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=/workspace/.artifacts,readonly=false", artifactsDir))
	}

	if root, ok := mount.hostRoot(); ok {
		args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=%s,readonly=false", root, mount.containerRoot))
	}

	workdirSet := false
	if cfg.WorkingDir != "" {
		args = append(args, "--workdir", cfg.WorkingDir)
		workdirSet = true
	}
	if !workdirSet && cfg.AppPackDir != "" {
		args = append(args, "--workdir", "/workspace")
	}

	// File-level bind of the host envelope placeholder guarantees writability
	// regardless of parent mount semantics or container UID.
	args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=%s,readonly=false", mount.hostEnvelopePath, cfg.EnvelopePath))

	args = append(args, "--env", "ENVELOPE_PATH="+cfg.EnvelopePath)
	if debug {
		args = append(args, "--env", "DEMON_DEBUG=1")
	}

	envKeys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		args = append(args, "--env", fmt.Sprintf("%s=%s", k, cfg.Env[k]))
	}

	args = append(args, "--entrypoint", "", cfg.ImageDigest)
	if debug {
		args = append(args, "/bin/sh", "-c", debugScript(cfg.Command))
	} else {
		args = append(args, cfg.Command...)
	}

	if cfg.CPUs != "" {
		args = append(args, "--cpus", cfg.CPUs)
	}
	if cfg.Memory != "" {
		args = append(args, "--memory", cfg.Memory)
	}
	if cfg.PidsLimit != "" {
		args = append(args, "--pids-limit", cfg.PidsLimit)
	}

	return Plan{
		Runtime:          runtimeBin,
		Args:             args,
		HostEnvelopePath: mount.hostEnvelopePath,
		HostMountRoot:    mount.hostMountRoot,
		ContainerTarget:  mount.containerRoot,
	}, nil
}

// containerUser returns "<uid>:<gid>" for the current process, overridable
// via DEMON_CONTAINER_USER. The values are whatever syscall.Getuid and
// syscall.Getgid report; there is no fallback for platforms without POSIX
// credentials.
func containerUser() string {
	if v := os.Getenv("DEMON_CONTAINER_USER"); v != "" {
		return v
	}
	return strconv.Itoa(syscall.Getuid()) + ":" + strconv.Itoa(syscall.Getgid())
}
