// Package node implements the mining orchestrator: lifecycle state
// machine, background mining loop, status cache and event publication.
package node

import (
	"sync"
	"time"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/storage"
)

// EventType identifies a published orchestrator event
type EventType string

const (
	EventBlockMined      EventType = "block_mined"
	EventRewardIssued    EventType = "reward_issued"
	EventHistoryChanged  EventType = "history_changed"
	EventMiningStarted   EventType = "mining_started"
	EventMiningStopped   EventType = "mining_stopped"
	EventAddressRequired EventType = "address_required"
)

// Event is a typed orchestrator notification. UI and webhook consumers
// subscribe independently; the orchestrator never calls back into them.
// History-changed events carry the appended record.
type Event struct {
	Type      EventType
	Block     *chain.Block
	Reward    float64
	Record    *storage.HistoryRecord
	Message   string
	Timestamp time.Time
}

// EventBus fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// mining loop.
type EventBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewEventBus creates an event bus
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel func must be
// called to release the subscription.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers, dropping it for any
// whose buffer is full.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
