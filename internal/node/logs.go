package node

import (
	"time"

	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/util"
)

// logRingSize bounds the persisted log ring
const logRingSize = 1000

// appendLog records one UI-visible log line in the bounded ring and
// persists the ring. The zap stream stays the operational log; this ring
// exists so a UI can replay recent activity after a restart.
func (n *Node) appendLog(message, typ string) {
	entry := storage.LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   message,
		Type:      typ,
	}

	n.logMu.Lock()
	n.logs = append(n.logs, entry)
	if len(n.logs) > logRingSize {
		n.logs = n.logs[len(n.logs)-logRingSize:]
	}
	snapshot := make([]storage.LogEntry, len(n.logs))
	copy(snapshot, n.logs)
	n.logMu.Unlock()

	if err := n.store.SaveLogs(snapshot); err != nil {
		util.Debugf("Failed to persist log ring: %v", err)
	}
}

// GetLogs returns the most recent limit log entries, oldest first.
// A limit of 0 returns the full ring.
func (n *Node) GetLogs(limit int) []storage.LogEntry {
	n.logMu.Lock()
	defer n.logMu.Unlock()

	logs := n.logs
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	out := make([]storage.LogEntry, len(logs))
	copy(out, logs)
	return out
}
