package kvclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeKV is a minimal in-memory stand-in for the etcd-like service,
// enough to exercise the CAS semantics this client depends on.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// path: /v1/keys/<prefix>/<key>
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
			fmt.Fprintf(w, `{"value": %q}`, v)
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
				if want == "" {
					if exists {
						http.Error(w, "cas mismatch: key exists", http.StatusPreconditionFailed)
						return
					}
				} else if cur != want {
					http.Error(w, "cas mismatch", http.StatusPreconditionFailed)
					return
				}
			}
			f.data[key] = value
			fmt.Fprint(w, `{"action": "SET"}`)
		}
	}))
}

func TestReadMissIsNullNotError(t *testing.T) {
	kv := newFakeKV()
	srv := kv.server()
	defer srv.Close()

	c := New(srv.URL, "piehole", 0)
	v, found, err := c.Read(context.Background(), "nosuchkey")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Fatalf("expected not found, got value %q", v)
	}
}

func TestWriteUnconditionalThenCAS(t *testing.T) {
	kv := newFakeKV()
	srv := kv.server()
	defer srv.Close()
	c := New(srv.URL, "piehole", 0)
	ctx := context.Background()

	ok, err := c.Write(ctx, "g master", "deadbeef", nil)
	if err != nil || !ok {
		t.Fatalf("unconditional write: ok=%v err=%v", ok, err)
	}

	// CAS from wrong previous value must fail without error.
	ok, err = c.Write(ctx, "g master", "cafef00d", strPtr("wrongprev"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ok {
		t.Fatal("expected CAS mismatch to fail")
	}

	// CAS from correct previous value succeeds.
	ok, err = c.Write(ctx, "g master", "cafef00d", strPtr("deadbeef"))
	if err != nil || !ok {
		t.Fatalf("correct CAS: ok=%v err=%v", ok, err)
	}

	got, found, err := c.Read(ctx, "g master")
	if err != nil || !found || got != "cafef00d" {
		t.Fatalf("Read after CAS = %q found=%v err=%v", got, found, err)
	}
}

func TestWriteEmptyPrevMeansKeyMustNotExist(t *testing.T) {
	kv := newFakeKV()
	srv := kv.server()
	defer srv.Close()
	c := New(srv.URL, "piehole", 0)
	ctx := context.Background()

	ok, err := c.Write(ctx, "fresh", "value1", strPtr(""))
	if err != nil || !ok {
		t.Fatalf("create-from-nothing: ok=%v err=%v", ok, err)
	}

	ok, err = c.Write(ctx, "fresh", "value2", strPtr(""))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ok {
		t.Fatal("expected create-from-nothing to fail once key exists")
	}
}

func TestReadGroupRejectsUnsortedMembership(t *testing.T) {
	kv := newFakeKV()
	srv := kv.server()
	defer srv.Close()
	c := New(srv.URL, "piehole", 0)
	ctx := context.Background()

	if _, err := c.Write(ctx, "g", "zeta alpha", nil); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	_, _, _, err := c.ReadGroup(ctx, "g")
	if err == nil {
		t.Fatal("expected error for unsorted membership")
	}
}

func strPtr(s string) *string { return &s }
