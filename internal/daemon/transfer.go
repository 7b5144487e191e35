package daemon

import (
	"context"

	"piehole/internal/gitcli"
	"piehole/internal/kvclient"
)

// peersExcludingSelf returns every member of group other than self.
func peersExcludingSelf(ctx context.Context, kv *kvclient.Client, group, self string) ([]string, error) {
	members, _, _, err := kv.ReadGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	peers := make([]string, 0, len(members))
	for _, m := range members {
		if m != self {
			peers = append(peers, m)
		}
	}
	return peers, nil
}

// fanOutPush pushes ref to every other member of group. Unlike fetch,
// ordering and partial failure don't matter here: convergence is
// guaranteed by the KV ref key, not by this fan-out succeeding everywhere,
// so every peer is attempted and every outcome is logged.
func fanOutPush(ctx context.Context, git *gitcli.Runner, kv *kvclient.Client, log *EventLog, repo, group, self, ref string) error {
	peers, err := peersExcludingSelf(ctx, kv, group, self)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		err := git.Push(ctx, peer, ref)
		_ = log.Append(TransferEvent{
			Action: "push", Repo: repo, Ref: ref, Peer: peer,
			OK: err == nil, Error: errString(err),
		})
	}
	return nil
}

// fanOutFetch fetches ref from peers in order, stopping at the first
// success: once the ref exists locally further peers add nothing. Per the
// design notes this is a permitted optimization over the wasteful
// try-every-peer approach.
func fanOutFetch(ctx context.Context, git *gitcli.Runner, kv *kvclient.Client, log *EventLog, repo, group, self, ref string) error {
	peers, err := peersExcludingSelf(ctx, kv, group, self)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		err := git.Fetch(ctx, peer, ref)
		_ = log.Append(TransferEvent{
			Action: "fetch", Repo: repo, Ref: ref, Peer: peer,
			OK: err == nil, Error: errString(err),
		})
		if err == nil {
			return nil
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
