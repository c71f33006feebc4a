package node

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/gpu"
	"github.com/luna-net/luna-node/internal/hasher"
	"github.com/luna-net/luna-node/internal/miner"
	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/submit"
	"github.com/luna-net/luna-node/internal/util"
)

// Lifecycle timing
const (
	// StopJoinTimeout is how long Stop waits for the mining loop to
	// acknowledge the stop signal before returning anyway.
	StopJoinTimeout = 500 * time.Millisecond

	// SuccessDelay is the pause after an accepted block, long enough for
	// the chain tip to advance before the next template is built.
	SuccessDelay = 5 * time.Second
)

// State is the orchestrator lifecycle state
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Node is the mining orchestrator. It owns the lifecycle state machine,
// the background mining loop, the mutable settings record and the status
// cache, and publishes events for UI and webhook consumers.
type Node struct {
	manager  *chain.Manager
	throttle *chain.Throttle
	engine   *miner.Engine
	pipeline *submit.Pipeline
	store    storage.Store
	bus      *EventBus
	stats    *MiningStats

	mu       sync.RWMutex
	settings storage.Settings
	strategy *hasher.Strategy
	stopCh   chan struct{}
	doneCh   chan struct{}

	state         atomic.Int32
	transitioning atomic.Bool
	sessionCPU    atomic.Bool
	liveStats     atomic.Bool

	mineMu    sync.Mutex
	startedAt time.Time

	totalTransactions atomic.Int64

	logMu sync.Mutex
	logs  []storage.LogEntry
}

// New assembles the orchestrator around its collaborators. The settings
// record is the caller's responsibility to seed (load-or-default); the
// node persists every mutation it makes from then on.
func New(manager *chain.Manager, throttle *chain.Throttle, engine *miner.Engine, pipeline *submit.Pipeline, store storage.Store, bus *EventBus, settings storage.Settings) *Node {
	n := &Node{
		manager:   manager,
		throttle:  throttle,
		engine:    engine,
		pipeline:  pipeline,
		store:     store,
		bus:       bus,
		stats:     NewMiningStats(),
		settings:  settings,
		startedAt: time.Now(),
	}
	n.strategy = buildStrategy(settings)
	n.pipeline.SetStrategy(n.strategy)

	if logs, err := store.LoadLogs(); err != nil {
		util.Debugf("Could not restore log ring: %v", err)
	} else {
		n.logs = logs
	}
	if status, err := store.LoadStatus(); err == nil && status != nil {
		n.totalTransactions.Store(int64(status.TotalTransactions))
	}

	return n
}

// buildStrategy resolves the hash strategy from the settings record. The
// worker count comes from an explicit override when set, otherwise from
// the performance level as a share of available CPUs.
func buildStrategy(settings storage.Settings) *hasher.Strategy {
	workers := settings.HashWorkerCount
	if workers <= 0 {
		level := settings.PerformanceLevel
		if level < 10 || level > 100 {
			level = 100
		}
		workers = runtime.NumCPU() * level / 100
		if workers < 1 {
			workers = 1
		}
	}
	return hasher.NewStrategy(settings.HashAlgorithm, workers)
}

// State returns the current lifecycle state
func (n *Node) State() State {
	return State(n.state.Load())
}

// Mining reports whether the background loop is active or starting
func (n *Node) Mining() bool {
	s := n.State()
	return s == StateRunning || s == StateStarting
}

// Settings returns a copy of the current settings record
func (n *Node) Settings() storage.Settings {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.settings
}

// Events returns the node's event bus
func (n *Node) Events() *EventBus {
	return n.bus
}

// GPUAvailable reports whether a GPU backend is linked
func (n *Node) GPUAvailable() bool {
	return n.engine.Backend().Available()
}

func (n *Node) strategyRef() *hasher.Strategy {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.strategy
}

func (n *Node) setState(s State) {
	n.state.Store(int32(s))
}

// Start transitions Stopped -> Starting -> Running and launches the
// mining loop. It is idempotent while running and returns false when the
// payout address or hash strategy blocks mining, or when another
// transition is already in flight.
func (n *Node) Start() bool {
	if !n.transitioning.CompareAndSwap(false, true) {
		util.Debug("Start ignored: lifecycle transition already in flight")
		return false
	}
	defer n.transitioning.Store(false)

	if n.State() == StateRunning {
		return true
	}

	settings := n.Settings()
	if err := submit.ValidateAddress(settings.PayoutAddress); err != nil {
		util.Warnf("Mining blocked: %v", err)
		n.appendLog(fmt.Sprintf("Mining blocked: %v", err), "warning")
		n.bus.Publish(Event{Type: EventAddressRequired, Message: err.Error()})
		return false
	}

	strategy := n.strategyRef()
	if !strategy.Available() {
		util.Errorf("Mining blocked: hash algorithm %s has no linked implementation", strategy.Algorithm())
		n.appendLog(fmt.Sprintf("Mining blocked: %s unavailable", strategy.Algorithm()), "error")
		return false
	}

	n.setState(StateStarting)
	n.EnableLiveStats()
	n.stats.Reset()

	n.mu.Lock()
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	stopCh, doneCh := n.stopCh, n.doneCh
	n.mu.Unlock()

	n.setState(StateRunning)
	n.bus.Publish(Event{Type: EventMiningStarted})
	n.appendLog("Mining started", "info")
	util.Infof("Mining started (difficulty %d, algorithm %s, %d workers)",
		settings.Difficulty, strategy.Algorithm(), strategy.Workers())

	go n.miningLoop(stopCh, doneCh)
	return true
}

// Stop transitions Running -> Stopping -> Stopped. The loop is signaled
// and in-flight GPU work aborted; if the loop does not acknowledge within
// StopJoinTimeout, Stop returns anyway and the loop exits at its next
// stop check.
func (n *Node) Stop() bool {
	if !n.transitioning.CompareAndSwap(false, true) {
		util.Debug("Stop ignored: lifecycle transition already in flight")
		return false
	}
	defer n.transitioning.Store(false)

	if n.State() != StateRunning {
		return true
	}

	n.setState(StateStopping)

	n.mu.Lock()
	stopCh, doneCh := n.stopCh, n.doneCh
	n.mu.Unlock()

	close(stopCh)
	n.engine.Abort()

	select {
	case <-doneCh:
	case <-time.After(StopJoinTimeout):
		util.Warnf("Mining loop did not stop within %v, it will exit at its next check", StopJoinTimeout)
	}

	n.setState(StateStopped)
	n.bus.Publish(Event{Type: EventMiningStopped})
	n.appendLog("Mining stopped", "info")
	util.Info("Mining stopped")
	return true
}

// Toggle flips between mining and stopped, returning the resulting
// mining state.
func (n *Node) Toggle() bool {
	if n.State() == StateRunning {
		n.Stop()
	} else {
		n.Start()
	}
	return n.Mining()
}

// ActiveMethod reports the method status output carries: cuda only when
// the GPU path is enabled, a backend is linked and no session fallback
// has tripped.
func (n *Node) ActiveMethod() string {
	settings := n.Settings()
	if settings.UseGPU && n.engine.Backend().Available() && !n.sessionCPU.Load() {
		return storage.MethodCUDA
	}
	return storage.MethodCPU
}

// ToggleCPU switches CPU mining on or off: stops mining when the CPU is
// already the active method, moves an active GPU session onto the CPU,
// and otherwise starts mining with the GPU path disabled. Returns
// whether CPU mining is active afterwards. Lifecycle changes go through
// Start/Stop and so honor the single-flight transition guard.
func (n *Node) ToggleCPU() bool {
	if n.Mining() && n.ActiveMethod() == storage.MethodCPU {
		n.Stop()
		return n.Mining()
	}

	if err := n.mutateSettings(func(s *storage.Settings) { s.UseGPU = false }); err != nil {
		util.Errorf("Failed to select CPU mining: %v", err)
		return false
	}
	n.appendLog("CPU mining selected", "info")

	if !n.Mining() {
		n.Start()
	}
	return n.Mining()
}

// ToggleGPU mirrors ToggleCPU for the GPU path. It refuses to switch on
// when no GPU backend is linked.
func (n *Node) ToggleGPU() bool {
	if n.Mining() && n.ActiveMethod() == storage.MethodCUDA {
		n.Stop()
		return n.Mining()
	}

	if err := n.SetGPUAcceleration(true); err != nil {
		util.Warnf("GPU mining unavailable: %v", err)
		return false
	}
	n.appendLog("GPU mining selected", "info")

	if !n.Mining() {
		n.Start()
	}
	return n.Mining() && n.ActiveMethod() == storage.MethodCUDA
}

// miningLoop runs attempts back to back until stopped. Every panic is
// reported and terminates the loop; the loop never takes the process down.
func (n *Node) miningLoop(stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			util.Errorf("Mining loop panic: %v", r)
			n.appendLog(fmt.Sprintf("Mining loop panic: %v", r), "error")
			n.setState(StateStopped)
		}
		util.Info("Mining loop stopped")
	}()

	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		success, message := n.mineAttempt(ctx, stopCh)

		delay := n.attemptDelay(success, message)
		select {
		case <-stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// attemptDelay picks the pause before the next attempt: a short fixed
// delay after success or a benign outcome, the configured interval after
// a real failure so a dead endpoint is not hammered.
func (n *Node) attemptDelay(success bool, message string) time.Duration {
	if success || benignFailure(message) {
		return SuccessDelay
	}

	interval := n.Settings().MiningInterval
	if interval <= 0 {
		interval = 30
	}
	return time.Duration(interval) * time.Second
}

// benignFailure reports outcomes that are not worth a backoff: the chain
// advanced past the candidate, or the block was already submitted.
func benignFailure(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "stale") ||
		strings.Contains(m, "chain advanced") ||
		strings.Contains(m, "duplicate suppressed")
}

// MineOnce performs a single on-demand attempt outside the loop. It is
// rejected while the background loop is active to avoid competing
// attempts over the same template.
func (n *Node) MineOnce(ctx context.Context) (bool, string) {
	if n.Mining() {
		return false, "mining loop active: stop it before mining manually"
	}
	n.EnableLiveStats()
	return n.mineAttempt(ctx, nil)
}

// mineAttempt runs one full attempt: search, submit, record.
func (n *Node) mineAttempt(ctx context.Context, stopCh <-chan struct{}) (bool, string) {
	n.mineMu.Lock()
	defer n.mineMu.Unlock()

	settings := n.Settings()
	if err := submit.ValidateAddress(settings.PayoutAddress); err != nil {
		n.bus.Publish(Event{Type: EventAddressRequired, Message: err.Error()})
		return false, err.Error()
	}

	strategy := n.strategyRef()
	if !strategy.Available() {
		return false, fmt.Sprintf("hash algorithm %s unavailable", strategy.Algorithm())
	}

	if n.sessionCPU.Load() {
		settings.UseGPU = false
	}

	reward := math.Pow10(settings.Difficulty - 1)

	result := n.engine.Mine(ctx, stopCh, settings, strategy, reward, n.stats)

	// A GPU-runtime fault downgrades the whole session to CPU, then the
	// attempt is retried once immediately.
	if !result.Success && settings.UseGPU && gpu.IsCUDAError(result.Message) {
		n.sessionCPU.Store(true)
		util.Warnf("GPU mining failed, falling back to CPU for this session: %s", result.Message)
		n.appendLog("GPU mining failed, falling back to CPU", "warning")
		settings.UseGPU = false
		result = n.engine.Mine(ctx, stopCh, settings, strategy, reward, n.stats)
	}

	if !result.Success {
		if result.Message != "mining interrupted" && result.Method != "" {
			n.recordAttempt(storage.HistoryRecord{
				Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
				Status:     storage.HistoryFailure,
				Difficulty: settings.Difficulty,
				MiningTime: result.Elapsed.Seconds(),
				Method:     result.Method,
			})
		}
		if result.Message != "" && result.Message != "mining interrupted" {
			util.Warnf("Mining attempt failed: %s", result.Message)
			n.appendLog(result.Message, "warning")
		}
		return false, result.Message
	}

	snap := n.throttle.Snapshot(ctx)
	ok, message := n.pipeline.Submit(ctx, result.Block, settings, snap)
	if !ok {
		if benignFailure(message) {
			util.Infof("Submission skipped: %s", message)
		} else {
			util.Warnf("Submission failed: %s", message)
			n.appendLog(fmt.Sprintf("Submission failed: %s", message), "warning")
		}
		n.recordAttempt(storage.HistoryRecord{
			Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
			Status:     storage.HistoryFailure,
			BlockIndex: result.Block.Index,
			Hash:       result.Block.Hash,
			Nonce:      result.Block.Nonce,
			Difficulty: result.Block.Difficulty,
			MiningTime: result.Elapsed.Seconds(),
			Method:     result.Method,
		})
		return false, message
	}

	n.recordAttempt(storage.HistoryRecord{
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
		Status:     storage.HistorySuccess,
		BlockIndex: result.Block.Index,
		Hash:       result.Block.Hash,
		Nonce:      result.Block.Nonce,
		Difficulty: result.Block.Difficulty,
		MiningTime: result.Elapsed.Seconds(),
		Reward:     reward,
		Method:     result.Method,
	})
	n.totalTransactions.Add(int64(len(result.Block.Transactions)))
	n.recordScanHeight(result.Block.Index)

	n.bus.Publish(Event{Type: EventBlockMined, Block: result.Block, Reward: reward, Message: message})
	n.bus.Publish(Event{Type: EventRewardIssued, Block: result.Block, Reward: reward})

	// The tip just moved; the next attempt must see the new height
	n.throttle.Invalidate()

	util.Successf("Block #%d accepted (%.2f LUN, %.2fs, %s): %s",
		result.Block.Index, reward, result.Elapsed.Seconds(), result.Method, message)
	n.appendLog(fmt.Sprintf("Block #%d mined, reward %.2f LUN", result.Block.Index, reward), "success")

	return true, message
}

// recordAttempt appends one history entry and persists the list. The
// history-changed event carries the record so monitoring consumers see
// the attempt without re-reading the store.
func (n *Node) recordAttempt(rec storage.HistoryRecord) {
	history, err := n.store.LoadHistory()
	if err != nil {
		util.Errorf("Failed to load mining history: %v", err)
		history = nil
	}
	history = append(history, rec)
	if err := n.store.SaveHistory(history); err != nil {
		util.Errorf("Failed to save mining history: %v", err)
	}
	n.bus.Publish(Event{Type: EventHistoryChanged, Record: &rec})
}

// GetMiningHistory returns the most recent limit history records, newest
// last. A limit of 0 returns the full history.
func (n *Node) GetMiningHistory(limit int) ([]storage.HistoryRecord, error) {
	history, err := n.store.LoadHistory()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// EnableLiveStats disables the cached-status shortcut for the remainder
// of the process. One-way: once mining has run, every status read
// computes fresh from the throttled network view and the in-memory
// counters.
func (n *Node) EnableLiveStats() {
	n.liveStats.Store(true)
}

// RecordScanHeight persists the highest chain height this node has
// observed, so a restart can report how far the chain moved while the
// node was down. Heights never move backwards.
func (n *Node) RecordScanHeight(height int64) {
	n.recordScanHeight(height)
}

func (n *Node) recordScanHeight(height int64) {
	if height <= n.Settings().LastScanHeight {
		return
	}
	if err := n.mutateSettings(func(s *storage.Settings) { s.LastScanHeight = height }); err != nil {
		util.Debugf("Failed to persist scan height: %v", err)
	}
}

// SyncNetwork drops the poll cache, fetches a fresh network snapshot,
// recomputes the persisted status view, and notifies subscribers so
// attached frontends re-render.
func (n *Node) SyncNetwork(ctx context.Context) chain.NetworkSnapshot {
	n.throttle.Invalidate()
	snap := n.throttle.Snapshot(ctx)
	if snap.Height > 0 {
		n.recordScanHeight(snap.Height)
	}
	n.computeStatus(ctx)
	n.bus.Publish(Event{Type: EventHistoryChanged})
	return snap
}
