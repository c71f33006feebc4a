package chain

import (
	"sync/atomic"
	"time"

	"github.com/luna-net/luna-node/internal/util"
)

// Manager holds the current chain client and swaps it atomically when the
// endpoint URL changes. The mining loop reads the current client through
// the manager on every iteration, so an in-flight loop survives a swap.
type Manager struct {
	timeout time.Duration
	current atomic.Value // *Client
}

// NewManager creates a manager bound to the given endpoint
func NewManager(endpointURL string, timeout time.Duration) *Manager {
	m := &Manager{timeout: timeout}
	m.current.Store(NewClient(endpointURL, timeout))
	return m
}

// Client returns the current chain client
func (m *Manager) Client() *Client {
	return m.current.Load().(*Client)
}

// SetEndpoint rebuilds the client against a new endpoint URL. The old
// client is dropped whole; fields are never mutated in place.
func (m *Manager) SetEndpoint(endpointURL string) {
	old := m.Client()
	if old.BaseURL() == endpointURL {
		return
	}
	m.current.Store(NewClient(endpointURL, m.timeout))
	util.Infof("Chain endpoint switched: %s -> %s", old.BaseURL(), endpointURL)
}
