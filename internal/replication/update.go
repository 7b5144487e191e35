package replication

import (
	"context"
	"fmt"

	"piehole/internal/kvclient"
)

// RejectMessage is shown to the pushing client on every rejection exit so
// they know the right action is to retry, not to debug their local state.
const RejectMessage = "Failed to update %s. Replication in progress. Please try your push again."

// GitDriver is the subset of gitcli.Runner the update-hook decision
// machine depends on, kept as an interface so tests can substitute a fake.
type GitDriver interface {
	HasObject(ctx context.Context, hex string) (bool, error)
	UpdateRef(ctx context.Context, ref, hex string) error
}

// FetchTrigger asynchronously asks the transfer daemon to fetch ref from
// peers. It must not block the caller waiting for the fetch to complete.
type FetchTrigger func(ctx context.Context, ref string) error

// Decision is the outcome of DecideUpdate.
type Decision struct {
	Accept   bool
	ExitCode int
	LogLines []string
	Message  string // non-empty only when Accept is false
}

// DecideUpdate implements the update-hook state machine from the design:
// given the KV-agreed value for (group, ref) and the push's (old, new)
// pair, decide accept / reject-as-known-commit / reject-with-fetch.
func DecideUpdate(ctx context.Context, kv *kvclient.Client, git GitDriver, fetch FetchTrigger, group, ref string, old, new RefValue) (*Decision, error) {
	key := GroupRefKey(group, ref)

	current, found, err := kv.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		current = Blank
	}

	if current == new {
		return &Decision{
			Accept:   true,
			ExitCode: 0,
			LogLines: []string{fmt.Sprintf("Accepting %s %s", ref, new)},
		}, nil
	}

	prev := kvPrevValue(old)
	ok, err := kv.Write(ctx, key, new, &prev)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Decision{
			Accept:   true,
			ExitCode: 0,
			LogLines: []string{fmt.Sprintf("Updating %s %s -> %s", ref, old, new)},
		}, nil
	}

	// CAS lost: someone else already moved (group, ref) to a value other
	// than what this push assumed. Re-read to learn the winning value.
	current, found, err = kv.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		current = Blank
	}

	have, err := git.HasObject(ctx, current)
	if err != nil {
		return nil, err
	}

	if have {
		if updateErr := git.UpdateRef(ctx, ref, current); updateErr != nil {
			return nil, updateErr
		}
		return &Decision{
			Accept:   false,
			ExitCode: 1,
			LogLines: []string{fmt.Sprintf("Setting %s to known commit %s", ref, current)},
			Message:  fmt.Sprintf(RejectMessage, ref),
		}, nil
	}

	if fetch != nil {
		// The daemon's HTTP handler itself responds before performing the
		// actual transfer, so this call is expected to return quickly; we
		// don't additionally background it here. A failure to even submit
		// the request (daemon unreachable) must surface distinctly so the
		// pushing client sees a clear cause rather than the generic retry
		// hint.
		if err := fetch(ctx, ref); err != nil {
			return &Decision{
				Accept:   false,
				ExitCode: 1,
				LogLines: []string{fmt.Sprintf("fetch trigger for %s failed: %v", ref, err)},
				Message:  "Cannot connect to piehole daemon",
			}, nil
		}
	}
	return &Decision{
		Accept:   false,
		ExitCode: 1,
		LogLines: []string{fmt.Sprintf("Started fetch of %s from peers", ref)},
		Message:  fmt.Sprintf(RejectMessage, ref),
	}, nil
}
