package storage

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/blake3"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/util"
)

const (
	settingsFile = "settings.json"
	historyFile  = "mining_history.json"
	statusFile   = "status_cache.json"
	logsFile     = "logs.json"
	blocksDir    = "blocks"
)

// FileStore persists node state as JSON files under a data directory.
// This is the default backend and matches the on-disk layout a desktop
// deployment expects.
type FileStore struct {
	dir string
}

// NewFileStore creates the data directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, blocksDir), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the data directory root
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash never leaves a half-written record
	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *FileStore) readJSON(name string, v interface{}) (bool, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// LoadSettings returns the persisted settings, or nil when none exist
func (f *FileStore) LoadSettings() (*Settings, error) {
	var s Settings
	ok, err := f.readJSON(settingsFile, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// SaveSettings persists the settings record
func (f *FileStore) SaveSettings(s *Settings) error {
	return f.writeJSON(settingsFile, s)
}

// LoadHistory returns the persisted mining history
func (f *FileStore) LoadHistory() ([]HistoryRecord, error) {
	var records []HistoryRecord
	if _, err := f.readJSON(historyFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveHistory persists the full mining history list
func (f *FileStore) SaveHistory(records []HistoryRecord) error {
	return f.writeJSON(historyFile, records)
}

// statusEnvelope wraps the snapshot with an integrity checksum. The
// snapshot is a recovery fallback read before the network has answered;
// a corrupt file must degrade to defaults, not poison startup.
type statusEnvelope struct {
	Checksum string          `json:"checksum"`
	Status   json.RawMessage `json:"status"`
}

// LoadStatus returns the persisted snapshot, or nil when absent or corrupt
func (f *FileStore) LoadStatus() (*StatusSnapshot, error) {
	var env statusEnvelope
	ok, err := f.readJSON(statusFile, &env)
	if err != nil || !ok {
		return nil, err
	}

	sum := blake3.Sum256(env.Status)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		util.Warnf("Status cache checksum mismatch, ignoring persisted snapshot")
		return nil, nil
	}

	var s StatusSnapshot
	if err := json.Unmarshal(env.Status, &s); err != nil {
		return nil, nil
	}
	return &s, nil
}

// SaveStatus persists the latest snapshot with its checksum
func (f *FileStore) SaveStatus(s *StatusSnapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(raw)
	return f.writeJSON(statusFile, statusEnvelope{
		Checksum: hex.EncodeToString(sum[:]),
		Status:   raw,
	})
}

// LoadLogs returns the persisted node log ring
func (f *FileStore) LoadLogs() ([]LogEntry, error) {
	var entries []LogEntry
	if _, err := f.readJSON(logsFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveLogs persists the node log ring
func (f *FileStore) SaveLogs(entries []LogEntry) error {
	return f.writeJSON(logsFile, entries)
}

// SaveFallbackBlock writes a timestamped file per block under blocks/
func (f *FileStore) SaveFallbackBlock(block *chain.Block) (string, error) {
	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("block_%d_%d.json", block.Index, time.Now().Unix())
	path := filepath.Join(f.dir, blocksDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Close is a no-op for the file backend
func (f *FileStore) Close() error {
	return nil
}
