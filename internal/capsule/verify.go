package capsule

import (
	"context"
	"fmt"
	"os"
	"strings"

	"oras.land/oras-go/v2/registry/remote"
)

// verifyDigestPreflight resolves imageDigest's manifest in its registry
// before a container is launched, when DEMON_CAPSULE_VERIFY_DIGEST is set.
// A resolve failure (manifest absent, registry unreachable) fails fast with
// CodeInvalidConfig instead of letting the container runtime discover the
// same problem after already allocating a sandbox.
func verifyDigestPreflight(ctx context.Context, imageDigest string) error {
	if !preflightEnabled() {
		return nil
	}

	repoRef, digestRef, err := splitImageDigest(imageDigest)
	if err != nil {
		return err
	}

	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("invalid registry reference %q", repoRef), Err: err}
	}
	repo.PlainHTTP = strings.EqualFold(os.Getenv("DEMON_CAPSULE_REGISTRY_PLAIN_HTTP"), "1")

	if _, err := repo.Resolve(ctx, digestRef); err != nil {
		return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf("manifest %s not found in registry %s", digestRef, repoRef), Err: err}
	}
	return nil
}

func preflightEnabled() bool {
	v := strings.TrimSpace(os.Getenv("DEMON_CAPSULE_VERIFY_DIGEST"))
	return v != "" && v != "0"
}

// splitImageDigest separates "registry/path@sha256:hex" into the repository
// reference oras needs ("registry/path") and the digest to resolve.
func splitImageDigest(ref string) (repoRef, digestRef string, err error) {
	idx := strings.Index(ref, "@")
	if idx < 0 || idx == len(ref)-1 {
		return "", "", &Error{Code: CodeInvalidConfig, Message: "image reference missing digest"}
	}
	return ref[:idx], ref[idx+1:], nil
}
