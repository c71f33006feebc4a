package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/gpu"
	"github.com/luna-net/luna-node/internal/miner"
	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/submit"
)

const testTipHash = "0099887766554433221100998877665544332211009988776655443322110099"

// testChain is a minimal in-memory chain endpoint
type testChain struct {
	height      atomic.Int64
	submissions atomic.Int64
	hits        atomic.Int64
}

func (tc *testChain) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc.hits.Add(1)
		switch r.URL.Path {
		case "/chain/height":
			json.NewEncoder(w).Encode(map[string]int64{"height": tc.height.Load()})
		case "/chain/latest":
			json.NewEncoder(w).Encode(chain.Block{Index: tc.height.Load(), Hash: testTipHash, Difficulty: 1})
		case "/mempool":
			json.NewEncoder(w).Encode([]chain.Transaction{})
		case "/blocks/validate":
			w.WriteHeader(http.StatusNotFound)
		case "/blocks/submit":
			tc.submissions.Add(1)
			tc.height.Add(1)
			json.NewEncoder(w).Encode(chain.SubmitResult{Success: true, Message: "accepted"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestNode(t *testing.T, settings storage.Settings) (*Node, *testChain) {
	t.Helper()

	tc := &testChain{}
	tc.height.Store(30)

	srv := httptest.NewServer(tc.handler())
	t.Cleanup(srv.Close)

	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	manager := chain.NewManager(srv.URL, 2*time.Second)
	throttle := chain.NewThrottle(manager, time.Minute)
	engine := miner.NewEngine(manager, gpu.Probe())
	pipeline := submit.NewPipeline(manager, nil, store)
	bus := NewEventBus()

	n := New(manager, throttle, engine, pipeline, store, bus, settings)
	t.Cleanup(func() { n.Stop() })
	return n, tc
}

func validSettings() storage.Settings {
	return storage.Settings{
		PayoutAddress:    "LUN_node_test_0001",
		Difficulty:       1,
		MiningInterval:   30,
		HashAlgorithm:    "sha256",
		PerformanceLevel: 100,
	}
}

func TestStartBlockedWithoutAddress(t *testing.T) {
	settings := validSettings()
	settings.PayoutAddress = ""
	n, _ := newTestNode(t, settings)

	events, cancel := n.Events().Subscribe(4)
	defer cancel()

	if n.Start() {
		t.Fatal("Start succeeded without a payout address")
	}
	if n.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", n.State())
	}

	select {
	case e := <-events:
		if e.Type != EventAddressRequired {
			t.Fatalf("event = %v, want address required", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no address-required event published")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	settings := validSettings()
	settings.Difficulty = 9 // attempts never finish, loop stays busy
	n, _ := newTestNode(t, settings)

	if !n.Start() {
		t.Fatal("Start failed")
	}
	if n.State() != StateRunning {
		t.Fatalf("state = %v, want running", n.State())
	}

	// Idempotent while running
	if !n.Start() {
		t.Fatal("second Start on a running node must report success")
	}

	started := time.Now()
	if !n.Stop() {
		t.Fatal("Stop failed")
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("Stop took %v", elapsed)
	}
	if n.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", n.State())
	}

	// Idempotent while stopped
	if !n.Stop() {
		t.Fatal("Stop on a stopped node must report success")
	}
}

func TestToggle(t *testing.T) {
	settings := validSettings()
	settings.Difficulty = 9
	n, _ := newTestNode(t, settings)

	if !n.Toggle() {
		t.Fatal("first toggle did not start mining")
	}
	if n.Toggle() {
		t.Fatal("second toggle did not stop mining")
	}
}

func TestToggleCPUStartsAndStops(t *testing.T) {
	settings := validSettings()
	settings.Difficulty = 9
	n, _ := newTestNode(t, settings)

	if !n.ToggleCPU() {
		t.Fatal("first CPU toggle did not start mining")
	}
	if !n.Mining() {
		t.Fatal("node not mining after CPU toggle on")
	}
	if got := n.ActiveMethod(); got != storage.MethodCPU {
		t.Fatalf("active method = %q, want cpu", got)
	}

	if n.ToggleCPU() {
		t.Fatal("second CPU toggle did not stop mining")
	}
	if n.Mining() {
		t.Fatal("node still mining after CPU toggle off")
	}
}

func TestToggleGPUWithoutBackend(t *testing.T) {
	settings := validSettings()
	settings.Difficulty = 9
	n, _ := newTestNode(t, settings)

	// gpu.Probe finds no backend in tests; the toggle must refuse
	if n.ToggleGPU() {
		t.Fatal("GPU toggle reported active with no backend linked")
	}
	if n.Mining() {
		t.Fatal("GPU toggle started mining despite the refusal")
	}
	if n.GPUAvailable() {
		t.Fatal("GPUAvailable with no backend")
	}

	// The refusal must not block CPU mining afterwards
	if !n.ToggleCPU() {
		t.Fatal("CPU toggle failed after a refused GPU toggle")
	}
}

func TestMineOnceRecordsHistory(t *testing.T) {
	n, tc := newTestNode(t, validSettings())

	events, cancel := n.Events().Subscribe(16)
	defer cancel()

	ok, msg := n.MineOnce(context.Background())
	if !ok {
		t.Fatalf("MineOnce failed: %s", msg)
	}
	if tc.submissions.Load() != 1 {
		t.Fatalf("endpoint saw %d submissions", tc.submissions.Load())
	}

	history, err := n.GetMiningHistory(0)
	if err != nil {
		t.Fatalf("GetMiningHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d records, want 1", len(history))
	}
	rec := history[0]
	if rec.Status != storage.HistorySuccess {
		t.Errorf("status = %q", rec.Status)
	}
	if rec.BlockIndex != 31 {
		t.Errorf("block index = %d, want tip + 1", rec.BlockIndex)
	}
	// Difficulty 1 pays 10^0
	if rec.Reward != 1 {
		t.Errorf("reward = %v, want 1", rec.Reward)
	}

	if got := n.Settings().LastScanHeight; got != 31 {
		t.Errorf("last scan height = %d, want 31", got)
	}

	sawBlockMined := false
	sawHistoryRecord := false
	deadline := time.After(time.Second)
	for !sawBlockMined || !sawHistoryRecord {
		select {
		case e := <-events:
			switch e.Type {
			case EventBlockMined:
				sawBlockMined = true
				if e.Block == nil || e.Reward != 1 {
					t.Errorf("block-mined event = %+v", e)
				}
			case EventHistoryChanged:
				sawHistoryRecord = true
				if e.Record == nil || e.Record.BlockIndex != 31 {
					t.Errorf("history-changed event record = %+v", e.Record)
				}
			}
		case <-deadline:
			t.Fatalf("events missing: block mined %v, history record %v", sawBlockMined, sawHistoryRecord)
		}
	}
}

func TestMineOnceRejectedWhileLoopRuns(t *testing.T) {
	settings := validSettings()
	settings.Difficulty = 9
	n, _ := newTestNode(t, settings)

	if !n.Start() {
		t.Fatal("Start failed")
	}

	ok, msg := n.MineOnce(context.Background())
	if ok {
		t.Fatal("manual attempt succeeded while the loop was running")
	}
	if !strings.Contains(msg, "mining loop active") {
		t.Fatalf("message = %q", msg)
	}
}

func TestStatusAggregates(t *testing.T) {
	n, _ := newTestNode(t, validSettings())

	if ok, msg := n.MineOnce(context.Background()); !ok {
		t.Fatalf("MineOnce failed: %s", msg)
	}

	status := n.GetStatus(context.Background())

	if status.BlocksMined != 1 {
		t.Errorf("blocks mined = %d", status.BlocksMined)
	}
	if status.TotalReward != 1 {
		t.Errorf("total reward = %v", status.TotalReward)
	}
	if status.TotalMiningAttempts != 1 {
		t.Errorf("attempts = %d", status.TotalMiningAttempts)
	}
	if status.SuccessRate != 100 {
		t.Errorf("success rate = %v", status.SuccessRate)
	}
	if status.ConnectionStatus != "connected" {
		t.Errorf("connection = %q", status.ConnectionStatus)
	}
	if status.MinerAddress != "LUN_node_test_0001" {
		t.Errorf("miner address = %q", status.MinerAddress)
	}
	if status.HashAlgorithm != "sha256" {
		t.Errorf("hash algorithm = %q", status.HashAlgorithm)
	}
}

func TestStatusNeverFailsOffline(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	manager := chain.NewManager("http://127.0.0.1:1", 200*time.Millisecond)
	throttle := chain.NewThrottle(manager, time.Minute)
	engine := miner.NewEngine(manager, gpu.Probe())
	pipeline := submit.NewPipeline(manager, nil, store)

	n := New(manager, throttle, engine, pipeline, store, NewEventBus(), validSettings())
	n.EnableLiveStats() // force the fresh-compute path against the dead endpoint

	status := n.GetStatus(context.Background())

	if status.ConnectionStatus == "connected" {
		t.Fatalf("connection = %q with no endpoint", status.ConnectionStatus)
	}
	// Defaults must still surface
	if status.PreviousHash == "" || status.NetworkDifficulty == 0 {
		t.Fatalf("defaults missing from offline status %+v", status)
	}
	if status.ConfiguredDifficulty != 1 {
		t.Fatalf("configured difficulty = %d", status.ConfiguredDifficulty)
	}
}

func TestIdleStatusAvoidsNetwork(t *testing.T) {
	n, tc := newTestNode(t, validSettings())

	// Before mining has ever started, status reads come from the
	// persisted snapshot: no endpoint traffic.
	status := n.GetStatus(context.Background())
	if hits := tc.hits.Load(); hits != 0 {
		t.Fatalf("idle status read hit the endpoint %d times", hits)
	}
	if status.ConnectionStatus != "disconnected" {
		t.Errorf("idle connection = %q", status.ConnectionStatus)
	}
	if status.MinerAddress != "LUN_node_test_0001" {
		t.Errorf("idle read lost the configured address: %q", status.MinerAddress)
	}

	// Mining flips the one-way live switch; reads now compute fresh
	if ok, msg := n.MineOnce(context.Background()); !ok {
		t.Fatalf("MineOnce failed: %s", msg)
	}
	status = n.GetStatus(context.Background())
	if tc.hits.Load() == 0 {
		t.Fatal("post-mining status read never reached the endpoint")
	}
	if status.ConnectionStatus != "connected" {
		t.Errorf("post-mining connection = %q", status.ConnectionStatus)
	}
}

func TestSettingsUpdates(t *testing.T) {
	n, _ := newTestNode(t, validSettings())

	if err := n.UpdateDifficulty(0); err == nil {
		t.Error("difficulty 0 accepted")
	}
	if err := n.UpdateDifficulty(10); err == nil {
		t.Error("difficulty 10 accepted")
	}
	if err := n.UpdateDifficulty(5); err != nil {
		t.Errorf("UpdateDifficulty(5): %v", err)
	}
	if got := n.Settings().Difficulty; got != 5 {
		t.Errorf("difficulty = %d after update", got)
	}

	if err := n.UpdateWalletAddress("short"); err == nil {
		t.Error("invalid address accepted")
	}
	if err := n.UpdateWalletAddress("LUN_new_wallet_01"); err != nil {
		t.Errorf("UpdateWalletAddress: %v", err)
	}

	if err := n.UpdateNodeURL("ftp://bad.example"); err == nil {
		t.Error("non-http URL accepted")
	}
	if err := n.UpdateNodeURL("http://localhost:9999/"); err != nil {
		t.Errorf("UpdateNodeURL: %v", err)
	}
	if got := n.Settings().EndpointURL; got != "http://localhost:9999" {
		t.Errorf("endpoint = %q, want trailing slash trimmed", got)
	}

	if err := n.UpdatePerformanceLevel(5); err == nil {
		t.Error("performance level 5 accepted")
	}
	if err := n.UpdatePerformanceLevel(50); err != nil {
		t.Errorf("UpdatePerformanceLevel: %v", err)
	}

	if err := n.UpdateHashAlgorithm("SM-3"); err != nil {
		t.Errorf("UpdateHashAlgorithm: %v", err)
	}

	if err := n.SetGPUAcceleration(true); err == nil {
		t.Error("GPU enabled with no backend available")
	}

	if err := n.SetAutoMine(true); err != nil {
		t.Errorf("SetAutoMine: %v", err)
	}
	if !n.Settings().AutoMine {
		t.Error("auto-mine flag not persisted in memory")
	}
}

func TestLogRingBounded(t *testing.T) {
	n, _ := newTestNode(t, validSettings())

	for i := 0; i < logRingSize+50; i++ {
		n.appendLog("entry", "info")
	}

	logs := n.GetLogs(0)
	if len(logs) != logRingSize {
		t.Fatalf("ring holds %d entries, want %d", len(logs), logRingSize)
	}

	if got := n.GetLogs(10); len(got) != 10 {
		t.Fatalf("GetLogs(10) returned %d entries", len(got))
	}
}

func TestSyncNetworkForcesRefresh(t *testing.T) {
	n, tc := newTestNode(t, validSettings())

	first := n.SyncNetwork(context.Background())
	if first.Height != 30 {
		t.Fatalf("height = %d", first.Height)
	}

	tc.height.Store(44)
	second := n.SyncNetwork(context.Background())
	if second.Height != 44 {
		t.Fatalf("height = %d after sync, want 44", second.Height)
	}
}
