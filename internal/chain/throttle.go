package chain

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luna-net/luna-node/internal/util"
)

// DefaultPollInterval is the minimum spacing between remote status reads
const DefaultPollInterval = 20 * time.Second

// Throttle bounds status queries against the remote endpoint to at most one
// round of calls per TTL window. Height, latest block and mempool size are
// cached as one entry under a single timestamp: on a hit the prior triple is
// returned unconditionally, and a failed sub-call leaves its field zeroed
// until the whole window expires.
type Throttle struct {
	manager *Manager
	ttl     time.Duration

	mu       sync.Mutex
	snapshot NetworkSnapshot
	primed   bool
}

// NewThrottle creates a throttle over the given chain manager. A ttl of 0
// selects DefaultPollInterval.
func NewThrottle(manager *Manager, ttl time.Duration) *Throttle {
	if ttl <= 0 {
		ttl = DefaultPollInterval
	}
	return &Throttle{manager: manager, ttl: ttl}
}

// Snapshot returns the cached network state, refreshing it when the TTL
// window has elapsed. Refresh never fails: unreachable sub-calls produce
// zero-valued fields and the window still advances.
func (t *Throttle) Snapshot(ctx context.Context) NetworkSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.primed && time.Since(t.snapshot.FetchedAt) < t.ttl {
		return t.snapshot
	}

	t.snapshot = t.refresh(ctx)
	t.primed = true
	return t.snapshot
}

// Invalidate forces the next Snapshot call to hit the network
func (t *Throttle) Invalidate() {
	t.mu.Lock()
	t.primed = false
	t.mu.Unlock()
}

func (t *Throttle) refresh(ctx context.Context) NetworkSnapshot {
	client := t.manager.Client()
	snap := NetworkSnapshot{FetchedAt: time.Now()}

	height, err := client.GetBlockchainHeight(ctx)
	if err != nil {
		util.Debugf("Poll: height fetch failed: %v", err)
	} else {
		snap.Height = height
	}

	snap.Latest = t.fetchLatest(ctx, client, snap.Height)

	mempool, err := client.GetPendingTransactions(ctx)
	if err != nil {
		util.Debugf("Poll: mempool fetch failed: %v", err)
	} else {
		snap.MempoolSize = len(mempool)
	}

	return snap
}

// fetchLatest retrieves the chain tip with a light retry, falling back to a
// height-range fetch when the direct route keeps failing.
func (t *Throttle) fetchLatest(ctx context.Context, client *Client, height int64) *Block {
	var latest *Block

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 1), ctx)
	err := backoff.Retry(func() error {
		b, err := client.GetLatestBlock(ctx)
		if err != nil {
			return err
		}
		latest = b
		return nil
	}, policy)
	if err == nil {
		return latest
	}

	util.Debugf("Poll: latest block fetch failed, trying range: %v", err)
	if height > 0 {
		blocks, rerr := client.GetBlocksRange(ctx, height, height)
		if rerr == nil && len(blocks) > 0 {
			b := blocks[len(blocks)-1]
			return &b
		}
	}

	return nil
}
