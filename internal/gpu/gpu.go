// Package gpu abstracts the external CUDA batched-hash collaborator.
// The core never talks to a GPU runtime directly; it depends on this
// adapter and falls back to CPU hashing when no backend is linked.
package gpu

import (
	"context"
	"strings"

	"github.com/luna-net/luna-node/internal/chain"
)

// Backend is a batched proof-of-work search primitive. Implementations
// wrap an external GPU runtime; Available reports whether that runtime
// probed successfully at startup.
type Backend interface {
	Available() bool
	// MineBatch searches count nonces starting at startNonce for a hash
	// meeting the difficulty prefix. found is false when the batch is
	// exhausted without a solution.
	MineBatch(ctx context.Context, template *chain.Block, startNonce int64, count int, difficulty int) (nonce int64, hash string, found bool, err error)
	// Abort cancels in-flight batch work.
	Abort()
}

// None is the backend used when no GPU runtime probed successfully.
type None struct{}

func (None) Available() bool { return false }

func (None) MineBatch(context.Context, *chain.Block, int64, int, int) (int64, string, bool, error) {
	return 0, "", false, nil
}

func (None) Abort() {}

// Probe resolves the GPU backend once at startup. Builds without a linked
// CUDA collaborator always resolve to None.
func Probe() Backend {
	return None{}
}

// IsCUDAError reports whether a failure message indicates a GPU-runtime
// fault. Such failures force the session back to CPU mining.
func IsCUDAError(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "cuda") || strings.Contains(m, "gpu")
}
