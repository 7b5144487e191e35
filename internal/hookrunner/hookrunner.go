// Package hookrunner wires the sanity-check-then-enroll decorator that
// every hook entrypoint runs before its hook-specific logic, so an
// unenrolled-but-installed repo self-heals on first invocation.
package hookrunner

import (
	"context"

	"piehole/internal/gitcli"
	"piehole/internal/kvclient"
	"piehole/internal/replication"
	"piehole/internal/reposanity"
)

// HookFunc is a hook entrypoint body run after the decorator's checks pass.
type HookFunc func(ctx context.Context) error

// Decorate wraps next so it only runs after SanityCheck and
// AddToRepogroup both succeed.
func Decorate(git *gitcli.Runner, kv *kvclient.Client, repoRoot, group, url string, next HookFunc) HookFunc {
	return func(ctx context.Context) error {
		if err := reposanity.SanityCheck(ctx, git, repoRoot, true); err != nil {
			return err
		}
		if err := replication.AddToRepogroup(ctx, kv, group, url); err != nil {
			return err
		}
		return next(ctx)
	}
}
