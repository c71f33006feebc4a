package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func newTestEndpoint(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second), srv
}

func TestGetBlockchainHeight(t *testing.T) {
	client, _ := newTestEndpoint(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chain/height" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int64{"height": 128})
	}))

	height, err := client.GetBlockchainHeight(context.Background())
	if err != nil {
		t.Fatalf("GetBlockchainHeight: %v", err)
	}
	if height != 128 {
		t.Fatalf("height = %d, want 128", height)
	}
}

func TestGetLatestBlock(t *testing.T) {
	client, _ := newTestEndpoint(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Block{Index: 9, Hash: "abc", Difficulty: 3})
	}))

	block, err := client.GetLatestBlock(context.Background())
	if err != nil {
		t.Fatalf("GetLatestBlock: %v", err)
	}
	if block.Index != 9 || block.Hash != "abc" {
		t.Fatalf("unexpected block %+v", block)
	}
}

func TestSubmitBlockContentTypeFallback(t *testing.T) {
	var contentTypes []string
	client, _ := newTestEndpoint(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentTypes = append(contentTypes, r.Header.Get("Content-Type"))
		if r.Header.Get("Content-Type") == "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		json.NewEncoder(w).Encode(SubmitResult{Success: true, Message: "accepted"})
	}))

	result, err := client.SubmitBlock(context.Background(), &Block{Index: 1})
	if err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if len(contentTypes) != 2 || contentTypes[0] != "application/json" || contentTypes[1] != "text/plain" {
		t.Fatalf("content types = %v, want [application/json text/plain]", contentTypes)
	}
}

func TestSubmitBlockIdentityEncoding(t *testing.T) {
	client, _ := newTestEndpoint(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept-Encoding"); got != "identity" {
			t.Errorf("Accept-Encoding = %q, want identity", got)
		}
		json.NewEncoder(w).Encode(SubmitResult{Success: true})
	}))

	if _, err := client.SubmitBlock(context.Background(), &Block{Index: 1}); err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}
}

func TestSubmitBlockNonJSONBody(t *testing.T) {
	client, _ := newTestEndpoint(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("stale: chain advanced"))
	}))

	result, err := client.SubmitBlock(context.Background(), &Block{Index: 1})
	if err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}
	if result.Success {
		t.Fatal("rejected submission reported success")
	}
	if result.Message != "stale: chain advanced" {
		t.Fatalf("message = %q, want raw body", result.Message)
	}
}

func TestValidateBlockNoRoute(t *testing.T) {
	client, _ := newTestEndpoint(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	result, err := client.ValidateBlock(context.Background(), &Block{Index: 1})
	if err != nil {
		t.Fatalf("ValidateBlock: %v", err)
	}
	if result != nil {
		t.Fatalf("result = %+v, want nil for endpoints without a validator", result)
	}
}

func TestHealthTracking(t *testing.T) {
	fail := true
	client, _ := newTestEndpoint(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]int64{"height": 1})
	}))

	if !client.IsHealthy() {
		t.Fatal("fresh client should start healthy")
	}

	for i := 0; i < 3; i++ {
		client.GetBlockchainHeight(context.Background())
	}
	if client.IsHealthy() {
		t.Fatal("client still healthy after 3 consecutive failures")
	}

	fail = false
	if _, err := client.GetBlockchainHeight(context.Background()); err != nil {
		t.Fatalf("GetBlockchainHeight: %v", err)
	}
	if !client.IsHealthy() {
		t.Fatal("client not healthy after a success")
	}
}

func TestManagerSwapsClientWhole(t *testing.T) {
	m := NewManager("http://one.example", time.Second)
	first := m.Client()

	m.SetEndpoint("http://one.example")
	if m.Client() != first {
		t.Fatal("same URL must not rebuild the client")
	}

	m.SetEndpoint("http://two.example")
	second := m.Client()
	if second == first {
		t.Fatal("new URL must rebuild the client")
	}
	if second.BaseURL() != "http://two.example" {
		t.Fatalf("BaseURL = %s", second.BaseURL())
	}
}
