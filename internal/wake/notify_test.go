package wake

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPNotifierRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := NewHTTPNotifier(ts.URL, "alloy")
	if n.Endpoint != ts.URL+"/api/realtime/start" {
		t.Fatalf("Endpoint = %q", n.Endpoint)
	}
	if err := n.Notify(context.Background()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestHTTPNotifierGivesUpOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	if err := NewHTTPNotifier(ts.URL, "alloy").Notify(context.Background()); err == nil {
		t.Fatalf("Notify() error = nil, want error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestHTTPNotifierHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	n := NewHTTPNotifier(ts.URL, "alloy")
	n.Timeout = 50 * time.Millisecond
	start := time.Now()
	if err := n.Notify(context.Background()); err == nil {
		t.Fatalf("Notify() error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Notify() took %v, want about 50ms", elapsed)
	}
}
