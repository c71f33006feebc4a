package node

import (
	"testing"
	"time"
)

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()

	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(Event{Type: EventMiningStarted})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Type != EventMiningStarted {
				t.Errorf("subscriber %s got %v", name, e.Type)
			}
			if e.Timestamp.IsZero() {
				t.Errorf("subscriber %s got zero timestamp", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the event", name)
		}
	}
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus()

	// Nobody drains this subscriber
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventHistoryChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()

	ch, cancel := bus.Subscribe(4)
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic
	bus.Publish(Event{Type: EventMiningStopped})

	// Double cancel is safe
	cancel()
}
