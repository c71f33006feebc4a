package storage

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/luna-net/luna-node/internal/chain"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreSettingsRoundtrip(t *testing.T) {
	store := newRedisStore(t)

	loaded, err := store.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings on empty store: %v", err)
	}
	if loaded != nil {
		t.Fatalf("empty store returned settings %+v", loaded)
	}

	settings := &Settings{
		PayoutAddress: "LUN_redis_miner_1",
		Difficulty:    2,
		HashAlgorithm: "sha256",
		EndpointURL:   "http://localhost:9000",
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

func TestRedisStoreHistoryList(t *testing.T) {
	store := newRedisStore(t)

	records := []HistoryRecord{
		{Timestamp: 1, Status: HistorySuccess, BlockIndex: 1, Reward: 10},
		{Timestamp: 2, Status: HistoryFailure},
		{Timestamp: 3, Status: HistorySuccess, BlockIndex: 2, Reward: 10},
	}
	if err := store.SaveHistory(records); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	loaded, err := store.LoadHistory()
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d records, want 3", len(loaded))
	}
	for i := range records {
		if loaded[i] != records[i] {
			t.Fatalf("record %d: %+v, want %+v", i, loaded[i], records[i])
		}
	}

	// Save replaces, never appends
	if err := store.SaveHistory(records[:1]); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	loaded, _ = store.LoadHistory()
	if len(loaded) != 1 {
		t.Fatalf("loaded %d records after replace, want 1", len(loaded))
	}
}

func TestRedisStoreStatusRoundtrip(t *testing.T) {
	store := newRedisStore(t)

	status := DefaultStatus()
	status.NetworkHeight = 55
	status.TotalReward = 120.5
	if err := store.SaveStatus(&status); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}

	loaded, err := store.LoadStatus()
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if loaded == nil || loaded.NetworkHeight != 55 || loaded.TotalReward != 120.5 {
		t.Fatalf("loaded %+v", loaded)
	}
}

func TestRedisStoreFallbackBlock(t *testing.T) {
	store := newRedisStore(t)

	block := &chain.Block{Index: 8, Hash: "00aa", Miner: "LUN_redis_miner_1"}
	location, err := store.SaveFallbackBlock(block)
	if err != nil {
		t.Fatalf("SaveFallbackBlock: %v", err)
	}
	if location == "" {
		t.Fatal("empty fallback location")
	}

	// A second failure of the same block gets its own field
	if _, err := store.SaveFallbackBlock(block); err != nil {
		t.Fatalf("second SaveFallbackBlock: %v", err)
	}
}
