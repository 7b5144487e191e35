package daemon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// errUnreachable wraps any failure to even reach the local daemon, so
// callers can surface the fixed "Cannot connect to piehole daemon"
// message required by the design notes.
type errUnreachable struct{ cause error }

func (e *errUnreachable) Error() string {
	return fmt.Sprintf("cannot connect to piehole daemon: %v", e.cause)
}
func (e *errUnreachable) Unwrap() error { return e.cause }

func post(ctx context.Context, timeout time.Duration, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+Addr+"/", strings.NewReader(form.Encode()))
	if err != nil {
		return &errUnreachable{cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return &errUnreachable{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon rejected request: HTTP %d", resp.StatusCode)
	}
	return nil
}

// RequestPush submits an action=push fan-out request to the local daemon
// for repo/ref. It is the replication.PushTrigger used by hooks/post-update.
func RequestPush(ctx context.Context, repo, ref string) error {
	form := url.Values{"action": {"push"}, "repo": {repo}, "ref": {ref}}
	return post(ctx, 5*time.Second, form)
}

// RequestFetch submits an action=fetch fan-out request to the local
// daemon for repo/ref. It is the replication.FetchTrigger used by
// hooks/update's catch-up branch.
func RequestFetch(ctx context.Context, repo, ref string) error {
	form := url.Values{"action": {"fetch"}, "repo": {repo}, "ref": {ref}}
	return post(ctx, 5*time.Second, form)
}

// Ping probes daemon liveness with a short connect timeout, used by the
// check subcommand.
func Ping(ctx context.Context) error {
	return post(ctx, 2*time.Second, url.Values{"action": {"ping"}})
}

// Epoch pings the daemon for repo and returns its replication group's
// diagnostic enrollment-epoch counter from the X-Piehole-Epoch response
// header, used by the check subcommand. found is false when repo has no
// configured group yet, in which case epoch is meaningless.
func Epoch(ctx context.Context, repo string) (epoch int64, found bool, err error) {
	form := url.Values{"action": {"ping"}, "repo": {repo}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+Addr+"/", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, false, &errUnreachable{cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, &errUnreachable{cause: err}
	}
	defer resp.Body.Close()

	h := resp.Header.Get("X-Piehole-Epoch")
	if h == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(h, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// Status retrieves the daemon's action=status diagnostic body as raw text,
// used by check --verbose.
func Status(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+Addr+"/", strings.NewReader("action=status"))
	if err != nil {
		return "", &errUnreachable{cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", &errUnreachable{cause: err}
	}
	defer resp.Body.Close()

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	return string(buf[:n]), nil
}
