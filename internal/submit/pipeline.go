package submit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/hasher"
	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/util"
)

// DedupWindow is how long a successfully submitted hash suppresses an
// identical resubmission.
const DedupWindow = 60 * time.Second

// rehashBatchSize and maxRehashNonces bound the nonce search performed
// when a block arrives with a hash that misses its difficulty prefix.
const (
	rehashBatchSize = 4096
	maxRehashNonces = 1 << 24
)

// TreasuryAddress is the origin credited on reward transactions
const TreasuryAddress = "network"

// Record tracks the most recent submission for duplicate suppression.
// Only one entry is kept; rapid alternation between two blocks is not
// suppressed.
type Record struct {
	Hash        string
	Index       int64
	SubmittedAt time.Time
	Success     bool
}

// Pipeline normalizes a freshly mined block into the shape the endpoint
// expects, suppresses duplicate submissions, and submits with fallback
// persistence so no mined work is silently lost.
type Pipeline struct {
	manager  *chain.Manager
	strategy *hasher.Strategy
	store    storage.Store

	mu   sync.Mutex
	last *Record
}

// NewPipeline creates a submission pipeline
func NewPipeline(manager *chain.Manager, strategy *hasher.Strategy, store storage.Store) *Pipeline {
	return &Pipeline{manager: manager, strategy: strategy, store: store}
}

// SetStrategy swaps the hash strategy (settings change)
func (p *Pipeline) SetStrategy(strategy *hasher.Strategy) {
	p.mu.Lock()
	p.strategy = strategy
	p.mu.Unlock()
}

// LastRecord returns the most recent submission record, or nil
func (p *Pipeline) LastRecord() *Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	rec := *p.last
	return &rec
}

// Submit runs the full pipeline for one mined block. It returns the
// outcome as (success, message); expected failure modes never raise.
func (p *Pipeline) Submit(ctx context.Context, block *chain.Block, settings storage.Settings, snap chain.NetworkSnapshot) (bool, string) {
	if err := ValidateAddress(settings.PayoutAddress); err != nil {
		return false, fmt.Sprintf("submission blocked: %v", err)
	}

	if ok, msg := p.normalize(block, settings, snap); !ok {
		return false, msg
	}

	// Structural pre-validation through the endpoint when it offers one.
	// A validation failure is terminal for this attempt.
	client := p.manager.Client()
	if result, err := client.ValidateBlock(ctx, block); err != nil {
		util.Debugf("Validator unreachable, submitting without pre-validation: %v", err)
	} else if result != nil && !result.Valid {
		return false, fmt.Sprintf("block #%d failed validation: %s", block.Index, strings.Join(result.Issues, "; "))
	}

	// Duplicate suppression: the mining loop can tick twice on the same
	// candidate before the chain advances.
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last != nil && last.Success && last.Hash == block.Hash && last.Index == block.Index &&
		time.Since(last.SubmittedAt) < DedupWindow {
		return true, fmt.Sprintf("duplicate suppressed: block #%d already submitted %.0fs ago",
			block.Index, time.Since(last.SubmittedAt).Seconds())
	}

	result, err := client.SubmitBlock(ctx, block)
	if err != nil {
		p.saveFallback(block)
		return false, fmt.Sprintf("submission failed: %v", err)
	}

	message := result.Message
	success := result.Success

	// Another submitter reporting the same block is not an error
	if !success && strings.Contains(strings.ToLower(message), "already exists") {
		success = true
		message = fmt.Sprintf("block #%d already on chain", block.Index)
	}

	if !success {
		p.saveFallback(block)
		if message == "" {
			message = "endpoint rejected block"
		}
		return false, message
	}

	p.mu.Lock()
	p.last = &Record{Hash: block.Hash, Index: block.Index, SubmittedAt: time.Now(), Success: true}
	p.mu.Unlock()

	if message == "" {
		message = fmt.Sprintf("block #%d accepted", block.Index)
	}
	return true, message
}

// normalize coerces the block into the endpoint's expected shape and
// guarantees the hash satisfies the difficulty prefix.
func (p *Pipeline) normalize(block *chain.Block, settings storage.Settings, snap chain.NetworkSnapshot) (bool, string) {
	if block.Index <= 0 {
		block.Index = snap.Height + 1
	}
	if block.Miner == "" {
		block.Miner = settings.PayoutAddress
	}
	if block.PreviousHash == "" && snap.Latest != nil {
		block.PreviousHash = snap.Latest.Hash
	}
	if block.Timestamp == 0 {
		block.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	if block.Version == 0 {
		block.Version = 1
	}
	if block.Difficulty <= 0 {
		block.Difficulty = settings.Difficulty
	}

	p.ensureRewardTransaction(block, settings)

	if !hasher.ValidHashFormat(block.Hash) || !hasher.MeetsDifficulty(block.Hash, block.Difficulty) {
		util.Debugf("Block #%d hash invalid or below difficulty, recomputing", block.Index)
		if !p.rehash(block) {
			return false, fmt.Sprintf("block #%d: could not recompute a hash meeting difficulty %d", block.Index, block.Difficulty)
		}
	}

	return true, ""
}

// ensureRewardTransaction guarantees exactly one reward-type transaction,
// synthesizing one when none is present. Origin and destination are always
// rewritten: rewards come from the treasury and pay the configured address,
// whatever the candidate carried.
func (p *Pipeline) ensureRewardTransaction(block *chain.Block, settings storage.Settings) {
	kept := block.Transactions[:0]
	var reward *chain.Transaction
	for i := range block.Transactions {
		tx := block.Transactions[i]
		if tx.Type == "reward" {
			if reward == nil {
				reward = &tx
			}
			continue
		}
		kept = append(kept, tx)
	}

	if reward == nil {
		reward = &chain.Transaction{Type: "reward"}
	}
	reward.From = TreasuryAddress
	reward.To = settings.PayoutAddress
	if block.Reward != 0 {
		reward.Amount = block.Reward
	}
	if reward.Timestamp == 0 {
		reward.Timestamp = block.Timestamp
	}
	if reward.Hash == "" {
		reward.Hash = fmt.Sprintf("reward_%d_%d", block.Index, int64(block.Timestamp))
	}
	if reward.Description == "" {
		reward.Description = fmt.Sprintf("Mining reward for block #%d", block.Index)
	}
	reward.BlockHeight = block.Index

	block.Transactions = append(kept, *reward)
}

// rehash searches nonces from the block's current value until the digest
// carries the difficulty prefix. Returns false when the bounded search
// is exhausted.
func (p *Pipeline) rehash(block *chain.Block) bool {
	p.mu.Lock()
	strategy := p.strategy
	p.mu.Unlock()

	start := block.Nonce
	if start < 0 {
		start = 0
	}

	for offset := int64(0); offset < maxRehashNonces; offset += rehashBatchSize {
		nonces := make([]int64, rehashBatchSize)
		for i := range nonces {
			nonces[i] = start + offset + int64(i)
		}
		hashes := strategy.HashBatch(block, nonces)
		for i, h := range hashes {
			if h == hasher.ZeroHash {
				continue
			}
			if hasher.MeetsDifficulty(h, block.Difficulty) {
				block.Nonce = nonces[i]
				block.Hash = h
				return true
			}
		}
	}
	return false
}

func (p *Pipeline) saveFallback(block *chain.Block) {
	location, err := p.store.SaveFallbackBlock(block)
	if err != nil {
		util.Errorf("Failed to save fallback copy of block #%d: %v", block.Index, err)
		return
	}
	util.Infof("Block #%d saved locally: %s", block.Index, location)
}
