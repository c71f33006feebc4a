package node

import (
	"sync"
	"time"

	"github.com/luna-net/luna-node/internal/storage"
)

// rateSmoothing is the EMA weight kept from the previous rate sample
const rateSmoothing = 0.7

// MiningStats accumulates live throughput from the mining engine. CPU and
// GPU rates are tracked separately so a session that flips between methods
// reports the rate of the method actually in use.
type MiningStats struct {
	mu        sync.Mutex
	cpuRate   float64
	gpuRate   float64
	lastNonce int64
	lastHash  string
	method    string
}

// NewMiningStats creates an empty stats accumulator
func NewMiningStats() *MiningStats {
	return &MiningStats{method: storage.MethodCPU}
}

// RecordBatch folds one completed nonce batch into the running rates
func (s *MiningStats) RecordBatch(nonces int, elapsed time.Duration, lastNonce int64, lastHash, method string) {
	if nonces <= 0 {
		return
	}

	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	rate := float64(nonces) / secs

	s.mu.Lock()
	defer s.mu.Unlock()

	switch method {
	case storage.MethodCUDA:
		if s.gpuRate == 0 {
			s.gpuRate = rate
		} else {
			s.gpuRate = rateSmoothing*s.gpuRate + (1-rateSmoothing)*rate
		}
	default:
		if s.cpuRate == 0 {
			s.cpuRate = rate
		} else {
			s.cpuRate = rateSmoothing*s.cpuRate + (1-rateSmoothing)*rate
		}
	}

	s.lastNonce = lastNonce
	if lastHash != "" {
		s.lastHash = lastHash
	}
	s.method = method
}

// Snapshot returns the current rate for the active method plus the last
// hash and nonce observed.
func (s *MiningStats) Snapshot() (rate float64, hash string, nonce int64, method string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate = s.cpuRate
	if s.method == storage.MethodCUDA && s.gpuRate > 0 {
		rate = s.gpuRate
	}
	return rate, s.lastHash, s.lastNonce, s.method
}

// Reset clears accumulated rates at the start of a mining session
func (s *MiningStats) Reset() {
	s.mu.Lock()
	s.cpuRate = 0
	s.gpuRate = 0
	s.lastNonce = 0
	s.lastHash = ""
	s.method = storage.MethodCPU
	s.mu.Unlock()
}
