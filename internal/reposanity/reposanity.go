// Package reposanity validates repository preconditions before any hook
// runs, and implements install/uninstall/clobber of a repo's membership in
// a replication group.
package reposanity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"piehole/internal/gitcli"
	"piehole/internal/kvclient"
	"piehole/internal/replication"
)

// Error is a named sanity-check failure: a single human-readable line
// describing exactly which precondition was violated.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func fail(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

const (
	hookUpdate     = "hooks/update"
	hookPostUpdate = "hooks/post-update"
)

// SanityCheck enforces the repository preconditions. When installed is
// true it also requires reflog to be enabled and all four piehole.*
// config keys to be present, and both hook files to exist, be executable,
// and be byte-identical to the running binary.
func SanityCheck(ctx context.Context, git *gitcli.Runner, repoRoot string, installed bool) error {
	bare, err := git.Config(ctx, "core.bare")
	if err != nil {
		return err
	}
	if bare != "true" {
		return fail("repository is not bare (core.bare != true)")
	}

	if !installed {
		return nil
	}

	reflog, err := git.Config(ctx, "core.logAllRefUpdates")
	if err != nil {
		return err
	}
	if reflog != "true" {
		return fail("core.logAllRefUpdates is not enabled")
	}

	for _, key := range []string{"etcdroot", "etcdprefix", "repogroup", "repourl"} {
		v, err := git.Config(ctx, key)
		if err != nil {
			return err
		}
		if v == "" {
			return fail("missing required config piehole.%s", key)
		}
	}

	selfPath, err := os.Executable()
	if err != nil {
		return fail("cannot locate running binary: %v", err)
	}
	selfHash, err := fileHash(selfPath)
	if err != nil {
		return fail("cannot hash running binary: %v", err)
	}

	for _, rel := range []string{hookUpdate, hookPostUpdate} {
		path := filepath.Join(repoRoot, rel)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return fail("%s does not exist", rel)
		}
		if err != nil {
			return fail("%s: %v", rel, err)
		}
		if info.Mode()&0111 == 0 {
			return fail("%s is not executable", rel)
		}
		hash, err := fileHash(path)
		if err != nil {
			return fail("%s: %v", rel, err)
		}
		if hash != selfHash {
			return fail("%s differs from the installer binary", rel)
		}
	}

	return nil
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Install copies the running binary into both hook slots, writes the four
// piehole.* config keys, enables core.logAllRefUpdates, and CAS-adds this
// member to the group.
func Install(ctx context.Context, git *gitcli.Runner, kv *kvclient.Client, repoRoot, group, url, kvRoot, kvPrefix string) error {
	if err := SanityCheck(ctx, git, repoRoot, false); err != nil {
		return err
	}

	selfPath, err := os.Executable()
	if err != nil {
		return fail("cannot locate running binary: %v", err)
	}

	for _, rel := range []string{hookUpdate, hookPostUpdate} {
		dst := filepath.Join(repoRoot, rel)
		if err := copyExecutable(selfPath, dst); err != nil {
			return fail("installing %s: %v", rel, err)
		}
	}

	for key, val := range map[string]string{
		"etcdroot":   kvRoot,
		"etcdprefix": kvPrefix,
		"repogroup":  group,
		"repourl":    url,
	} {
		if _, err := git.Config(ctx, key, val); err != nil {
			return err
		}
	}
	if _, err := git.Config(ctx, "core.logAllRefUpdates", "true"); err != nil {
		return err
	}

	return replication.AddToRepogroup(ctx, kv, group, url)
}

// Uninstall removes this member from the group's membership list and
// clears its piehole.* config keys. It does not remove the hook files or
// disable core.logAllRefUpdates, since other tooling may rely on either.
func Uninstall(ctx context.Context, git *gitcli.Runner, kv *kvclient.Client, group, url string) error {
	if err := replication.RemoveFromRepogroup(ctx, kv, group, url); err != nil {
		return err
	}
	for _, key := range []string{"etcdroot", "etcdprefix", "repogroup", "repourl"} {
		// Best-effort: git config --unset fails if already absent, which
		// is not itself a sanity problem during uninstall.
		_, _ = git.Run(ctx, "config", "--local", "--unset", "piehole."+key)
	}
	return nil
}

// Clobber unconditionally overwrites the group's KV value for ref with
// this repository's current local value for ref, breaking a lockout where
// the KV ref key holds an object id no member can ever produce.
func Clobber(ctx context.Context, git *gitcli.Runner, kv *kvclient.Client, group, ref string) error {
	local, err := git.RefValue(ctx, ref)
	if err != nil {
		return err
	}
	if local == gitcli.Blank {
		return fail("cannot clobber %s: the local repository does not have it", ref)
	}
	key := group + " " + ref
	ok, err := kv.Write(ctx, key, local, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fail("clobber of %s did not report success", ref)
	}
	return nil
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Chmod(0755)
}
