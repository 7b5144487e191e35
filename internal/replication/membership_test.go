package replication

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"piehole/internal/kvclient"
)

// fakeKV is an in-memory, CAS-correct stand-in for the etcd-like service,
// sufficient to exercise concurrent membership enrollment.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKVServer() (*httptest.Server, *fakeKV) {
	f := &fakeKV{data: make(map[string]string)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			v, ok := f.data[key]
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"value": "` + v + `"}`))
		case http.MethodPost:
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			value := r.Form.Get("value")
			prev, hasPrev := r.Form["prevValue"]
			cur, exists := f.data[key]
			if hasPrev {
				want := prev[0]
				if want == "" && exists {
					http.Error(w, "exists", http.StatusPreconditionFailed)
					return
				}
				if want != "" && cur != want {
					http.Error(w, "mismatch", http.StatusPreconditionFailed)
					return
				}
			}
			f.data[key] = value
			w.Write([]byte(`{"action": "SET"}`))
		}
	}))
	return srv, f
}

func TestAddToRepogroupConcurrentConverges(t *testing.T) {
	srv, fake := newFakeKVServer()
	defer srv.Close()
	kv := kvclient.New(srv.URL, "piehole", 0)

	const n = 8
	members := make([]string, n)
	for i := range members {
		members[i] = "file:///repo" + string(rune('a'+i))
	}

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(self string) {
			defer wg.Done()
			if err := AddToRepogroup(context.Background(), kv, "g", self); err != nil {
				t.Errorf("AddToRepogroup(%s): %v", self, err)
			}
		}(m)
	}
	wg.Wait()

	fake.mu.Lock()
	final := fake.data["/v1/keys/piehole/g"]
	fake.mu.Unlock()

	got := strings.Fields(final)
	want := append([]string(nil), members...)
	sort.Strings(want)
	sort.Strings(got)

	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("final membership = %q, want all of %v sorted", final, want)
	}
}

func TestAddToRepogroupIdempotent(t *testing.T) {
	srv, _ := newFakeKVServer()
	defer srv.Close()
	kv := kvclient.New(srv.URL, "piehole", 0)
	ctx := context.Background()

	if err := AddToRepogroup(ctx, kv, "g", "file:///a"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := AddToRepogroup(ctx, kv, "g", "file:///a"); err != nil {
		t.Fatalf("second add: %v", err)
	}

	members, _, _, err := kv.ReadGroup(ctx, "g")
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("membership = %v, want exactly one entry", members)
	}
}

func TestRemoveFromRepogroup(t *testing.T) {
	srv, _ := newFakeKVServer()
	defer srv.Close()
	kv := kvclient.New(srv.URL, "piehole", 0)
	ctx := context.Background()

	if err := AddToRepogroup(ctx, kv, "g", "file:///a"); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := AddToRepogroup(ctx, kv, "g", "file:///b"); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := RemoveFromRepogroup(ctx, kv, "g", "file:///a"); err != nil {
		t.Fatalf("remove a: %v", err)
	}

	members, _, _, err := kv.ReadGroup(ctx, "g")
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if len(members) != 1 || members[0] != "file:///b" {
		t.Fatalf("membership = %v, want [file:///b]", members)
	}
}
