package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/util"
)

const (
	keyPrefix = "luna:"

	keySettings       = keyPrefix + "settings"
	keyHistory        = keyPrefix + "history"
	keyStatus         = keyPrefix + "status"
	keyLogs           = keyPrefix + "logs"
	keyFallbackBlocks = keyPrefix + "blocks:fallback"
)

// RedisStore persists node state in Redis. Used when several node
// instances or a detached UI share one state backend.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(url, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	util.Info("Connected to Redis at ", url)
	return &RedisStore{client: client, ctx: ctx}, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) setJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, key, data, 0).Err()
}

func (r *RedisStore) getJSON(key string, v interface{}) (bool, error) {
	data, err := r.client.Get(r.ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// LoadSettings returns the persisted settings, or nil when none exist
func (r *RedisStore) LoadSettings() (*Settings, error) {
	var s Settings
	ok, err := r.getJSON(keySettings, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// SaveSettings persists the settings record
func (r *RedisStore) SaveSettings(s *Settings) error {
	return r.setJSON(keySettings, s)
}

// LoadHistory returns the persisted mining history list
func (r *RedisStore) LoadHistory() ([]HistoryRecord, error) {
	items, err := r.client.LRange(r.ctx, keyHistory, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]HistoryRecord, 0, len(items))
	for _, item := range items {
		var rec HistoryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			util.Warnf("Skipping undecodable history record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// SaveHistory replaces the persisted history list
func (r *RedisStore) SaveHistory(records []HistoryRecord) error {
	pipe := r.client.Pipeline()
	pipe.Del(r.ctx, keyHistory)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pipe.RPush(r.ctx, keyHistory, data)
	}
	_, err := pipe.Exec(r.ctx)
	return err
}

// LoadStatus returns the persisted snapshot, or nil when absent
func (r *RedisStore) LoadStatus() (*StatusSnapshot, error) {
	var s StatusSnapshot
	ok, err := r.getJSON(keyStatus, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// SaveStatus persists the latest snapshot
func (r *RedisStore) SaveStatus(s *StatusSnapshot) error {
	return r.setJSON(keyStatus, s)
}

// LoadLogs returns the persisted node log ring
func (r *RedisStore) LoadLogs() ([]LogEntry, error) {
	var entries []LogEntry
	if _, err := r.getJSON(keyLogs, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveLogs persists the node log ring
func (r *RedisStore) SaveLogs(entries []LogEntry) error {
	return r.setJSON(keyLogs, entries)
}

// SaveFallbackBlock stores a failed submission under a timestamped field
func (r *RedisStore) SaveFallbackBlock(block *chain.Block) (string, error) {
	data, err := json.Marshal(block)
	if err != nil {
		return "", err
	}

	field := fmt.Sprintf("block_%d_%d", block.Index, time.Now().Unix())
	if err := r.client.HSet(r.ctx, keyFallbackBlocks, field, data).Err(); err != nil {
		return "", err
	}
	return keyFallbackBlocks + "/" + field, nil
}
