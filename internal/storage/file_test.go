package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/luna-net/luna-node/internal/chain"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStoreSettingsRoundtrip(t *testing.T) {
	store := newFileStore(t)

	loaded, err := store.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings on empty store: %v", err)
	}
	if loaded != nil {
		t.Fatalf("empty store returned settings %+v", loaded)
	}

	settings := &Settings{
		PayoutAddress:    "LUN_test_address_1",
		Difficulty:       3,
		AutoMine:         true,
		MiningInterval:   15,
		HashAlgorithm:    "sm3",
		PerformanceLevel: 50,
		EndpointURL:      "https://bank.linglin.art",
	}
	if err := store.SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	loaded, err = store.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if *loaded != *settings {
		t.Fatalf("loaded %+v, want %+v", loaded, settings)
	}
}

func TestFileStoreHistoryRoundtrip(t *testing.T) {
	store := newFileStore(t)

	records := []HistoryRecord{
		{Timestamp: 100, Status: HistorySuccess, BlockIndex: 5, Reward: 10, Method: MethodCPU},
		{Timestamp: 200, Status: HistoryFailure, Difficulty: 4, Method: MethodCUDA},
	}
	if err := store.SaveHistory(records); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	loaded, err := store.LoadHistory()
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(loaded) != 2 || loaded[0] != records[0] || loaded[1] != records[1] {
		t.Fatalf("loaded %+v, want %+v", loaded, records)
	}
}

func TestFileStoreStatusChecksum(t *testing.T) {
	store := newFileStore(t)

	status := DefaultStatus()
	status.NetworkHeight = 99
	status.BlocksMined = 7
	if err := store.SaveStatus(&status); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}

	loaded, err := store.LoadStatus()
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if loaded == nil || loaded.NetworkHeight != 99 || loaded.BlocksMined != 7 {
		t.Fatalf("loaded %+v", loaded)
	}

	// Corrupt the payload without touching the checksum
	path := filepath.Join(store.Dir(), "status_cache.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read status file: %v", err)
	}
	tampered := strings.Replace(string(data), `"network_height": 99`, `"network_height": 12345`, 1)
	if tampered == string(data) {
		tampered = strings.Replace(string(data), `"network_height":99`, `"network_height":12345`, 1)
	}
	if tampered == string(data) {
		t.Fatal("tamper target not found in status file")
	}
	if err := os.WriteFile(path, []byte(tampered), 0644); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}

	loaded, err = store.LoadStatus()
	if err != nil {
		t.Fatalf("LoadStatus after tamper: %v", err)
	}
	if loaded != nil {
		t.Fatalf("tampered snapshot was not rejected: %+v", loaded)
	}
}

func TestFileStoreLogsRoundtrip(t *testing.T) {
	store := newFileStore(t)

	entries := []LogEntry{
		{Timestamp: "2026-01-01T00:00:00Z", Message: "Mining started", Type: "info"},
		{Timestamp: "2026-01-01T00:01:00Z", Message: "Block #1 mined", Type: "success"},
	}
	if err := store.SaveLogs(entries); err != nil {
		t.Fatalf("SaveLogs: %v", err)
	}

	loaded, err := store.LoadLogs()
	if err != nil {
		t.Fatalf("LoadLogs: %v", err)
	}
	if len(loaded) != 2 || loaded[1].Message != "Block #1 mined" {
		t.Fatalf("loaded %+v", loaded)
	}
}

func TestFileStoreFallbackBlock(t *testing.T) {
	store := newFileStore(t)

	block := &chain.Block{Index: 12, Hash: "00ff", Miner: "LUN_test_address_1"}
	location, err := store.SaveFallbackBlock(block)
	if err != nil {
		t.Fatalf("SaveFallbackBlock: %v", err)
	}

	if !strings.Contains(filepath.Base(location), "block_12_") {
		t.Fatalf("fallback file %q not named block_<index>_<ts>.json", location)
	}
	if _, err := os.Stat(location); err != nil {
		t.Fatalf("fallback file missing: %v", err)
	}
}

func TestDefaultStatusTemplate(t *testing.T) {
	status := DefaultStatus()

	if status.PreviousHash != strings.Repeat("0", 64) {
		t.Errorf("PreviousHash = %q, want 64 zeros", status.PreviousHash)
	}
	if status.ConnectionStatus != "disconnected" {
		t.Errorf("ConnectionStatus = %q", status.ConnectionStatus)
	}
	if status.NetworkDifficulty != 1 || status.ConfiguredDifficulty != 1 {
		t.Errorf("difficulties = %d/%d, want 1/1", status.NetworkDifficulty, status.ConfiguredDifficulty)
	}
	if status.MiningMethod != MethodCPU {
		t.Errorf("MiningMethod = %q, want cpu", status.MiningMethod)
	}
}
