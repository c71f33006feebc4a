// Package hasher computes canonical block digests under a selectable
// algorithm. The digest preimage is a sorted-key JSON serialization that
// intentionally excludes transaction contents, matching the upstream
// commitment scheme.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tjfoc/gmsm/sm3"

	"github.com/luna-net/luna-node/internal/chain"
)

// ZeroHash is the sentinel returned when a preimage cannot be serialized.
// Callers treat it as "retry with the next nonce", never as a fatal error.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Algorithm identifies a supported digest algorithm
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SM3    Algorithm = "sm3"
)

// DigestFunc computes a raw 32-byte digest over a serialized preimage
type DigestFunc func(data []byte) []byte

// Normalize maps an arbitrary configured name onto a known algorithm,
// ignoring case and punctuation. Unrecognized values coerce to SHA256.
func Normalize(name string) Algorithm {
	cleaned := strings.ToLower(name)
	for _, cut := range []string{"-", "_", " ", "."} {
		cleaned = strings.ReplaceAll(cleaned, cut, "")
	}
	switch cleaned {
	case "sm3":
		return SM3
	case "sha256", "sha2256", "sha2":
		return SHA256
	default:
		return SHA256
	}
}

// Strategy computes block digests under one algorithm, resolved once at
// startup and injected into the orchestrator.
type Strategy struct {
	algo    Algorithm
	digest  DigestFunc
	workers int
}

// NewStrategy builds a strategy for the named algorithm with the built-in
// digest backings. workers bounds batch parallelism; 0 selects NumCPU.
func NewStrategy(name string, workers int) *Strategy {
	algo := Normalize(name)
	var digest DigestFunc
	switch algo {
	case SM3:
		digest = func(data []byte) []byte { return sm3.Sm3Sum(data) }
	default:
		digest = func(data []byte) []byte {
			sum := sha256.Sum256(data)
			return sum[:]
		}
	}
	return NewStrategyWithBacking(algo, digest, workers)
}

// NewStrategyWithBacking builds a strategy around an explicit digest
// implementation. A nil digest marks the strategy unavailable; mining must
// be blocked rather than silently substituted with another algorithm.
func NewStrategyWithBacking(algo Algorithm, digest DigestFunc, workers int) *Strategy {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Strategy{algo: algo, digest: digest, workers: workers}
}

// Algorithm returns the algorithm this strategy was built for
func (s *Strategy) Algorithm() Algorithm {
	return s.algo
}

// Available reports whether the backing digest implementation is linked
func (s *Strategy) Available() bool {
	return s.digest != nil
}

// Workers returns the batch parallelism bound
func (s *Strategy) Workers() int {
	return s.workers
}

// preimage is the fixed, sorted-key hashed representation of a block.
// Transactions are always serialized empty.
type preimage struct {
	Difficulty   int                 `json:"difficulty"`
	Index        int64               `json:"index"`
	Miner        string              `json:"miner"`
	Nonce        int64               `json:"nonce"`
	PreviousHash string              `json:"previous_hash"`
	Timestamp    float64             `json:"timestamp"`
	Transactions []chain.Transaction `json:"transactions"`
	Version      int                 `json:"version"`
}

// BlockHash computes the canonical digest of a block. Serialization
// failures yield ZeroHash.
func (s *Strategy) BlockHash(block *chain.Block) string {
	return s.hashWithNonce(block, block.Nonce)
}

func (s *Strategy) hashWithNonce(block *chain.Block, nonce int64) string {
	if s.digest == nil {
		return ZeroHash
	}

	data, err := json.Marshal(preimage{
		Difficulty:   block.Difficulty,
		Index:        block.Index,
		Miner:        block.Miner,
		Nonce:        nonce,
		PreviousHash: block.PreviousHash,
		Timestamp:    block.Timestamp,
		Transactions: []chain.Transaction{},
		Version:      block.Version,
	})
	if err != nil {
		return ZeroHash
	}

	return hex.EncodeToString(s.digest(data))
}

// HashBatch computes one digest per candidate nonce against a fixed block
// template, in parallel when more than one worker is configured.
func (s *Strategy) HashBatch(template *chain.Block, nonces []int64) []string {
	out := make([]string, len(nonces))
	if len(nonces) == 0 {
		return out
	}

	workers := s.workers
	if workers > len(nonces) {
		workers = len(nonces)
	}
	if workers <= 1 {
		for i, n := range nonces {
			out[i] = s.hashWithNonce(template, n)
		}
		return out
	}

	chunk := (len(nonces) + workers - 1) / workers
	done := make(chan struct{}, workers)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(nonces) {
			hi = len(nonces)
		}
		go func(lo, hi int) {
			for i := lo; i < hi; i++ {
				out[i] = s.hashWithNonce(template, nonces[i])
			}
			done <- struct{}{}
		}(lo, hi)
	}
	for w := 0; w < workers; w++ {
		<-done
	}
	return out
}

// MeetsDifficulty reports whether a hash carries the required number of
// leading zero characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return hash[:difficulty] == strings.Repeat("0", difficulty)
}

// ValidHashFormat reports whether a hash is structurally plausible
// (64 lowercase hex characters).
func ValidHashFormat(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
