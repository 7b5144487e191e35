package replication

import "context"

// PushTrigger asynchronously asks the transfer daemon to push ref to every
// other member. It must return quickly — the daemon responds before the
// actual transfer runs.
type PushTrigger func(ctx context.Context, ref string) error

// PostUpdate submits a push fan-out request for every ref Git passed to
// hooks/post-update. It does not wait for any transfer to complete; a
// failure to reach the daemon is reported back via the returned error but
// callers should not block the Git client's overall exit on it beyond
// logging, per the daemon-unreachable contract in the design notes.
func PostUpdate(ctx context.Context, push PushTrigger, refs []string) []error {
	var errs []error
	for _, ref := range refs {
		if err := push(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
