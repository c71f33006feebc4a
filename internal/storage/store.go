package storage

import "github.com/luna-net/luna-node/internal/chain"

// Store is the persistence collaborator: a flat settings record, an
// append-only mining history, a single latest-status snapshot, the node
// log ring, and fallback copies of blocks that failed to submit. The
// core treats every call as an opaque load/save, not a format it owns.
type Store interface {
	LoadSettings() (*Settings, error)
	SaveSettings(s *Settings) error

	LoadHistory() ([]HistoryRecord, error)
	SaveHistory(records []HistoryRecord) error

	LoadStatus() (*StatusSnapshot, error)
	SaveStatus(s *StatusSnapshot) error

	LoadLogs() ([]LogEntry, error)
	SaveLogs(entries []LogEntry) error

	// SaveFallbackBlock persists a mined block whose submission failed,
	// so no mined work is silently lost. Returns the storage location.
	SaveFallbackBlock(block *chain.Block) (string, error)

	Close() error
}
