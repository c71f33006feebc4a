// Package miner produces candidate blocks by nonce search over the
// configured hash strategy, with an optional GPU batch path.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/gpu"
	"github.com/luna-net/luna-node/internal/hasher"
	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/util"
)

// MaxNonce bounds one attempt's search space. An exhausted attempt is a
// timeout, retried on the next loop tick with a fresh template.
const MaxNonce int64 = 1_000_000

// cpuBatchSize is the nonce batch handed to the strategy per round
const cpuBatchSize = 4096

// StatsSink receives throughput after each completed batch. This is the
// sole path by which live hash-rate numbers are produced.
type StatsSink interface {
	RecordBatch(nonces int, elapsed time.Duration, lastNonce int64, lastHash, method string)
}

// Result is the outcome of one mining attempt
type Result struct {
	Success bool
	Message string
	Block   *chain.Block
	Elapsed time.Duration
	Method  string
}

// Engine performs single mining attempts. It reads the current chain
// client through the manager on every attempt, so endpoint swaps take
// effect immediately.
type Engine struct {
	manager *chain.Manager
	backend gpu.Backend
}

// NewEngine creates a mining engine
func NewEngine(manager *chain.Manager, backend gpu.Backend) *Engine {
	return &Engine{manager: manager, backend: backend}
}

// Backend returns the GPU backend for capability reporting
func (e *Engine) Backend() gpu.Backend {
	return e.backend
}

// Abort cancels in-flight GPU work. CPU search observes the stop channel.
func (e *Engine) Abort() {
	e.backend.Abort()
}

// Mine performs exactly one mining attempt: fetch the chain tip, build a
// candidate template from the mempool, and search nonces until the hash
// carries the difficulty prefix or the attempt is stopped.
func (e *Engine) Mine(ctx context.Context, stop <-chan struct{}, settings storage.Settings, strategy *hasher.Strategy, reward float64, sink StatsSink) Result {
	client := e.manager.Client()

	latest, err := client.GetLatestBlock(ctx)
	if err != nil {
		return Result{Message: fmt.Sprintf("endpoint connection failed: %v", err)}
	}

	newIndex := latest.Index + 1
	previousHash := latest.Hash
	if previousHash == "" {
		previousHash = hasher.ZeroHash
	}

	mempool, err := client.GetPendingTransactions(ctx)
	if err != nil {
		util.Debugf("Mempool fetch failed, mining empty block: %v", err)
		mempool = nil
	}

	template := &chain.Block{
		Index:        newIndex,
		PreviousHash: previousHash,
		Timestamp:    float64(time.Now().UnixNano()) / float64(time.Second),
		Transactions: mempool,
		Miner:        settings.PayoutAddress,
		Difficulty:   settings.Difficulty,
		Reward:       reward,
		Version:      1,
	}

	util.Debugf("Mining block #%d (difficulty %d, %d mempool txs, prev %.16s)",
		newIndex, settings.Difficulty, len(mempool), previousHash)

	if settings.UseGPU && e.backend.Available() {
		result := e.mineGPU(ctx, stop, template, settings, sink)
		if result.Success || result.Message != "" {
			return result
		}
		// Empty message means the GPU path found nothing; fall through to CPU
		util.Debug("GPU batch exhausted, falling back to CPU search")
	}

	return e.mineCPU(ctx, stop, template, strategy, sink)
}

func (e *Engine) mineGPU(ctx context.Context, stop <-chan struct{}, template *chain.Block, settings storage.Settings, sink StatsSink) Result {
	batchSize := settings.GPUBatchSize
	if batchSize < 1000 {
		batchSize = 100000
	}

	started := time.Now()
	for startNonce := int64(0); startNonce < MaxNonce; startNonce += int64(batchSize) {
		if stopped(ctx, stop) {
			return Result{Message: "mining interrupted"}
		}

		count := batchSize
		if remaining := MaxNonce - startNonce; int64(count) > remaining {
			count = int(remaining)
		}

		batchStart := time.Now()
		nonce, hash, found, err := e.backend.MineBatch(ctx, template, startNonce, count, template.Difficulty)
		if err != nil {
			return Result{Message: fmt.Sprintf("CUDA mining failed: %v", err), Method: storage.MethodCUDA}
		}

		lastNonce := startNonce + int64(count) - 1
		lastHash := hash
		if found {
			lastNonce = nonce
		}
		sink.RecordBatch(count, time.Since(batchStart), lastNonce, lastHash, storage.MethodCUDA)

		if found {
			template.Nonce = nonce
			template.Hash = hash
			return Result{
				Success: true,
				Message: fmt.Sprintf("block #%d mined with CUDA", template.Index),
				Block:   template,
				Elapsed: time.Since(started),
				Method:  storage.MethodCUDA,
			}
		}
	}

	return Result{Method: storage.MethodCUDA}
}

func (e *Engine) mineCPU(ctx context.Context, stop <-chan struct{}, template *chain.Block, strategy *hasher.Strategy, sink StatsSink) Result {
	started := time.Now()
	nonces := make([]int64, cpuBatchSize)

	for startNonce := int64(0); startNonce < MaxNonce; startNonce += cpuBatchSize {
		if stopped(ctx, stop) {
			return Result{Message: "mining interrupted"}
		}

		count := int64(cpuBatchSize)
		if remaining := MaxNonce - startNonce; count > remaining {
			count = remaining
		}
		batch := nonces[:count]
		for i := range batch {
			batch[i] = startNonce + int64(i)
		}

		batchStart := time.Now()
		hashes := strategy.HashBatch(template, batch)

		var (
			foundNonce int64 = -1
			foundHash  string
		)
		for i, h := range hashes {
			if h == hasher.ZeroHash {
				// Malformed preimage: retry with next nonce
				continue
			}
			if hasher.MeetsDifficulty(h, template.Difficulty) {
				foundNonce = batch[i]
				foundHash = h
				break
			}
		}

		lastNonce := startNonce + count - 1
		lastHash := hashes[count-1]
		if foundNonce >= 0 {
			lastNonce, lastHash = foundNonce, foundHash
		}
		sink.RecordBatch(int(count), time.Since(batchStart), lastNonce, lastHash, storage.MethodCPU)

		if foundNonce >= 0 {
			template.Nonce = foundNonce
			template.Hash = foundHash
			return Result{
				Success: true,
				Message: fmt.Sprintf("block #%d mined", template.Index),
				Block:   template,
				Elapsed: time.Since(started),
				Method:  storage.MethodCPU,
			}
		}
	}

	return Result{Message: "mining timeout: no solution found", Method: storage.MethodCPU}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}
