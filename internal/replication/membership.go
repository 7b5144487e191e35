package replication

import (
	"context"
	"sort"

	"piehole/internal/kvclient"
)

// AddToRepogroup ensures self is present in group's membership list,
// retrying a compare-and-swap until it observes self already enrolled or
// its own CAS succeeds. Any number of concurrent enrollers make progress:
// every CAS failure is itself a fresh observation of the current value, so
// the loop always has new information to retry with.
func AddToRepogroup(ctx context.Context, kv *kvclient.Client, group string, self Member) error {
	for {
		members, raw, found, err := kv.ReadGroup(ctx, group)
		if err != nil {
			return err
		}
		if found && containsSorted(members, self) {
			return nil
		}

		next := append(append([]string(nil), members...), self)
		sort.Strings(next)
		newValue := joinSorted(next)

		var prev *string
		if found {
			prev = &raw
		} else {
			empty := ""
			prev = &empty
		}

		ok, err := kv.Write(ctx, group, newValue, prev)
		if err != nil {
			return err
		}
		if ok {
			_ = bumpEpoch(ctx, kv, group) // diagnostic-only; never gates enrollment
			return nil
		}
		// CAS lost the race to another enroller; loop and re-observe.
	}
}

// RemoveFromRepogroup removes self from group's membership list, using the
// same retry-on-CAS-failure shape as AddToRepogroup. It is idempotent: if
// self is already absent, it returns immediately.
func RemoveFromRepogroup(ctx context.Context, kv *kvclient.Client, group string, self Member) error {
	for {
		members, raw, found, err := kv.ReadGroup(ctx, group)
		if err != nil {
			return err
		}
		if !found || !containsSorted(members, self) {
			return nil
		}

		next := make([]string, 0, len(members))
		for _, m := range members {
			if m != self {
				next = append(next, m)
			}
		}

		ok, err := kv.Write(ctx, group, joinSorted(next), &raw)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func containsSorted(members []string, self Member) bool {
	i := sort.SearchStrings(members, self)
	return i < len(members) && members[i] == self
}

func joinSorted(members []string) string {
	out := ""
	for i, m := range members {
		if i > 0 {
			out += " "
		}
		out += m
	}
	return out
}
