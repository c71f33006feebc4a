package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func newThrottleEndpoint(t *testing.T, hits *int64) *Manager {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		switch r.URL.Path {
		case "/chain/height":
			json.NewEncoder(w).Encode(map[string]int64{"height": 77})
		case "/chain/latest":
			json.NewEncoder(w).Encode(Block{Index: 77, Hash: "feed", Difficulty: 2})
		case "/mempool":
			json.NewEncoder(w).Encode([]Transaction{{Type: "transfer"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return NewManager(srv.URL, 2*time.Second)
}

func TestThrottleCachesWithinTTL(t *testing.T) {
	var hits int64
	throttle := NewThrottle(newThrottleEndpoint(t, &hits), time.Minute)

	first := throttle.Snapshot(context.Background())
	if first.Height != 77 || first.Latest == nil || first.MempoolSize != 1 {
		t.Fatalf("unexpected snapshot %+v", first)
	}
	afterFirst := atomic.LoadInt64(&hits)

	for i := 0; i < 5; i++ {
		again := throttle.Snapshot(context.Background())
		if again.FetchedAt != first.FetchedAt {
			t.Fatal("snapshot refreshed inside the TTL window")
		}
	}

	if got := atomic.LoadInt64(&hits); got != afterFirst {
		t.Fatalf("endpoint hit %d times inside the TTL window, want %d", got, afterFirst)
	}
}

func TestThrottleRefreshesAfterTTL(t *testing.T) {
	var hits int64
	throttle := NewThrottle(newThrottleEndpoint(t, &hits), 10*time.Millisecond)

	first := throttle.Snapshot(context.Background())
	time.Sleep(20 * time.Millisecond)
	second := throttle.Snapshot(context.Background())

	if !second.FetchedAt.After(first.FetchedAt) {
		t.Fatal("snapshot not refreshed after the TTL elapsed")
	}
}

func TestThrottleInvalidate(t *testing.T) {
	var hits int64
	throttle := NewThrottle(newThrottleEndpoint(t, &hits), time.Minute)

	first := throttle.Snapshot(context.Background())
	throttle.Invalidate()
	second := throttle.Snapshot(context.Background())

	if !second.FetchedAt.After(first.FetchedAt) {
		t.Fatal("Invalidate did not force a refresh")
	}
}

func TestThrottleNeverFails(t *testing.T) {
	// No server behind this address
	manager := NewManager("http://127.0.0.1:1", 200*time.Millisecond)
	throttle := NewThrottle(manager, time.Minute)

	snap := throttle.Snapshot(context.Background())
	if snap.Height != 0 || snap.Latest != nil || snap.MempoolSize != 0 {
		t.Fatalf("unreachable endpoint produced non-zero snapshot %+v", snap)
	}
	if snap.FetchedAt.IsZero() {
		t.Fatal("window did not advance on failure")
	}

	// The failed window still counts: no immediate retry
	again := throttle.Snapshot(context.Background())
	if again.FetchedAt != snap.FetchedAt {
		t.Fatal("failed refresh did not advance the TTL window")
	}
}

func TestThrottleDefaultInterval(t *testing.T) {
	throttle := NewThrottle(NewManager("http://x.example", time.Second), 0)
	if throttle.ttl != DefaultPollInterval {
		t.Fatalf("ttl = %v, want %v", throttle.ttl, DefaultPollInterval)
	}
}
