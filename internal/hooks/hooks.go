// Package hooks implements the two Git hook entrypoints as plain
// functions, decorated with sanity-check-then-enroll, so they can be
// driven directly from cmd/piehole or from an end-to-end test without
// spawning a subprocess.
package hooks

import (
	"context"
	"fmt"

	"piehole/internal/daemon"
	"piehole/internal/gitcli"
	"piehole/internal/hookrunner"
	"piehole/internal/kvclient"
	"piehole/internal/replication"
)

// Config bundles what every hook entrypoint needs to know about the
// repository it is running in.
type Config struct {
	RepoRoot string
	Group    string
	Self     string
}

// Update runs the update hook state machine for one ref, decorated with
// sanity-check-then-enroll. It returns the decision so callers can render
// its log lines and reject message, and the error that should determine
// the hook's exit code.
func Update(ctx context.Context, git *gitcli.Runner, kv *kvclient.Client, cfg Config, ref, oldHex, newHex string) (*replication.Decision, error) {
	var decision *replication.Decision

	body := func(ctx context.Context) error {
		fetch := func(ctx context.Context, ref string) error {
			return daemon.RequestFetch(ctx, cfg.RepoRoot, ref)
		}
		d, err := replication.DecideUpdate(ctx, kv, git, fetch, cfg.Group, ref, oldHex, newHex)
		if err != nil {
			return err
		}
		decision = d
		if !d.Accept {
			return fmt.Errorf("rejected: %s", d.Message)
		}
		return nil
	}

	err := hookrunner.Decorate(git, kv, cfg.RepoRoot, cfg.Group, cfg.Self, body)(ctx)
	return decision, err
}

// PostUpdate fans out a push request for every ref, decorated with
// sanity-check-then-enroll. Its errors are informational only — Git
// ignores hooks/post-update's exit code.
func PostUpdate(ctx context.Context, git *gitcli.Runner, kv *kvclient.Client, cfg Config, refs []string) []error {
	var errs []error

	body := func(ctx context.Context) error {
		push := func(ctx context.Context, ref string) error {
			return daemon.RequestPush(ctx, cfg.RepoRoot, ref)
		}
		errs = replication.PostUpdate(ctx, push, refs)
		return nil
	}

	if err := hookrunner.Decorate(git, kv, cfg.RepoRoot, cfg.Group, cfg.Self, body)(ctx); err != nil {
		errs = append(errs, err)
	}
	return errs
}
