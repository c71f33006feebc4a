package node

import (
	"context"
	"time"

	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/util"
)

// GetStatus returns the node status. Until mining has been started once
// (the one-way live-stats switch), idle reads are served from the last
// persisted snapshot with zero network calls; otherwise a fresh snapshot
// is computed through the poll throttle. It never fails.
func (n *Node) GetStatus(ctx context.Context) storage.StatusSnapshot {
	if !n.liveStats.Load() && !n.Mining() {
		return n.cachedStatus()
	}
	return n.computeStatus(ctx)
}

// cachedStatus is the idle read path: the persisted snapshot merged
// against defaults, with the fields owned by live settings overlaid so
// the view never contradicts the current configuration.
func (n *Node) cachedStatus() storage.StatusSnapshot {
	status := n.LastStatus()
	settings := n.Settings()

	status.MinerAddress = settings.PayoutAddress
	status.ConfiguredDifficulty = settings.Difficulty
	status.AutoMining = n.Mining()
	status.HashAlgorithm = string(n.strategyRef().Algorithm())
	status.CUDAAvailable = n.engine.Backend().Available()
	status.MiningMethod = n.ActiveMethod()
	status.Uptime = time.Since(n.startedAt).Seconds()
	status.TotalTransactions = int(n.totalTransactions.Load())
	return status
}

// computeStatus assembles a complete fresh snapshot. Network fields
// degrade to their defaults when the endpoint is unreachable, and the
// result is always merged against the fixed template so every field
// surfaces. The assembled snapshot is persisted as the restart fallback.
func (n *Node) computeStatus(ctx context.Context) storage.StatusSnapshot {
	status := storage.DefaultStatus()
	settings := n.Settings()
	strategy := n.strategyRef()

	status.MinerAddress = settings.PayoutAddress
	status.ConfiguredDifficulty = settings.Difficulty
	status.AutoMining = n.Mining()
	status.HashAlgorithm = string(strategy.Algorithm())
	status.CUDAAvailable = n.engine.Backend().Available()
	status.Uptime = time.Since(n.startedAt).Seconds()
	status.TotalTransactions = int(n.totalTransactions.Load())
	status.MiningMethod = n.ActiveMethod()

	snap := n.throttle.Snapshot(ctx)
	if snap.Height > 0 || snap.Latest != nil {
		status.ConnectionStatus = "connected"
		status.NetworkHeight = snap.Height
		if snap.Latest != nil {
			status.NetworkDifficulty = snap.Latest.Difficulty
			if snap.Latest.Hash != "" {
				status.PreviousHash = snap.Latest.Hash
			}
		}
		status.PeerCount = snap.MempoolSize
	} else {
		if !n.manager.Client().IsHealthy() {
			status.ConnectionStatus = "error"
		}
		// Offline: carry the last known network view instead of zeros
		saved := n.LastStatus()
		if saved.NetworkHeight > 0 {
			status.NetworkHeight = saved.NetworkHeight
			status.NetworkDifficulty = saved.NetworkDifficulty
			status.PreviousHash = saved.PreviousHash
		}
	}

	n.applyHistoryAggregates(&status)

	rate, hash, nonce, method := n.stats.Snapshot()
	status.CurrentHashRate = rate
	status.CurrentHash = hash
	status.CurrentNonce = nonce
	if n.Mining() && method != "" {
		status.MiningMethod = method
	}

	if err := n.store.SaveStatus(&status); err != nil {
		util.Debugf("Failed to persist status snapshot: %v", err)
	}

	return status
}

// LastStatus returns the last persisted snapshot without touching the
// network, merged against the default template. Used when a caller needs
// a cheap read and staleness is acceptable.
func (n *Node) LastStatus() storage.StatusSnapshot {
	status := storage.DefaultStatus()
	saved, err := n.store.LoadStatus()
	if err != nil || saved == nil {
		return status
	}
	merged := *saved
	if merged.PreviousHash == "" {
		merged.PreviousHash = status.PreviousHash
	}
	if merged.ConnectionStatus == "" {
		merged.ConnectionStatus = status.ConnectionStatus
	}
	if merged.HashAlgorithm == "" {
		merged.HashAlgorithm = status.HashAlgorithm
	}
	if merged.MiningMethod == "" {
		merged.MiningMethod = status.MiningMethod
	}
	if merged.NetworkDifficulty == 0 {
		merged.NetworkDifficulty = status.NetworkDifficulty
	}
	if merged.ConfiguredDifficulty == 0 {
		merged.ConfiguredDifficulty = status.ConfiguredDifficulty
	}
	return merged
}

// applyHistoryAggregates derives the counters owned by the persisted
// history list: blocks mined, total reward, attempt count, success rate
// and average attempt duration.
func (n *Node) applyHistoryAggregates(status *storage.StatusSnapshot) {
	history, err := n.store.LoadHistory()
	if err != nil {
		util.Debugf("Failed to load history for aggregates: %v", err)
		return
	}
	if len(history) == 0 {
		return
	}

	var (
		successes int
		reward    float64
		totalTime float64
	)
	for _, rec := range history {
		if rec.Status == storage.HistorySuccess {
			successes++
			reward += rec.Reward
		}
		totalTime += rec.MiningTime
	}

	status.BlocksMined = successes
	status.TotalReward = reward
	status.TotalMiningAttempts = len(history)
	status.SuccessRate = float64(successes) / float64(len(history)) * 100
	status.AvgMiningTime = totalTime / float64(len(history))
}
