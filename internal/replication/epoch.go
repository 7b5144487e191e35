package replication

import (
	"context"
	"strconv"

	"piehole/internal/kvclient"
)

// Epoch reads group's diagnostic enrollment-epoch counter, a decimal value
// bumped once per successful membership CAS-add. It is purely informational
// — never consulted by DecideUpdate or AddToRepogroup — so an absent or
// unparsable counter reads as zero rather than an error, matching the rest
// of the KV-miss-is-not-an-error convention in this package.
func Epoch(ctx context.Context, kv *kvclient.Client, group string) (int64, error) {
	raw, found, err := kv.Read(ctx, epochKey(group))
	if err != nil {
		return 0, err
	}
	if !found || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// bumpEpoch increments group's epoch counter with the same CAS-retry shape
// as AddToRepogroup/RemoveFromRepogroup. Failures are the caller's to
// ignore: a lost epoch bump never affects replication correctness.
func bumpEpoch(ctx context.Context, kv *kvclient.Client, group string) error {
	key := epochKey(group)
	for {
		raw, found, err := kv.Read(ctx, key)
		if err != nil {
			return err
		}
		var n int64
		if found && raw != "" {
			n, _ = strconv.ParseInt(raw, 10, 64)
		}
		next := strconv.FormatInt(n+1, 10)

		var prev *string
		if found {
			prev = &raw
		} else {
			empty := ""
			prev = &empty
		}

		ok, err := kv.Write(ctx, key, next, prev)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func epochKey(group string) string {
	return group + " epoch"
}
