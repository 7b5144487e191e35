package reposanity

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"piehole/internal/kvclient"
)

// fakeKVState is an in-memory, CAS-correct stand-in for the etcd-like
// service, just enough to exercise Clobber's unconditional-write path.
type fakeKVState struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKVServer(t *testing.T) (*kvclient.Client, *httptest.Server, *fakeKVState) {
	t.Helper()
	f := &fakeKVState{data: make(map[string]string)}
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
	return kvclient.New(srv.URL, "piehole", 0), srv, f
}
