package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventNudgeSent)

	bus.Publish(NewEvent(EventNudgeSent, SourceNudger, "alice", map[string]any{"task_id": "t1"}))
	bus.Publish(NewEvent(EventPlanGenerated, SourcePlanner, "alice", nil))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventNudgeSent {
		t.Errorf("expected nudge.sent, got %s", received[0].Type)
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewEvent(EventIngestStarted, SourceIngest, "alice", nil))
	bus.Publish(NewEvent(EventIngestCompleted, SourceIngest, "alice", nil))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(NewEvent(EventNudgeSent, SourceNudger, "alice", map[string]any{"i": i}))
	}

	events := rb.Get(10)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[2].Payload["i"] != 4 {
		t.Errorf("expected newest event last, got %v", events[2].Payload["i"])
	}
}

func TestSubscribeChan(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(8, EventSyncConflict)
	defer cancel()

	bus.Publish(NewEvent(EventSyncConflict, SourceSyncer, "alice", map[string]any{"task_id": "t1"}))

	select {
	case e := <-ch:
		if e.Type != EventSyncConflict {
			t.Errorf("expected sync.conflict, got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus(8)
	bus.Close()

	// Must not panic or block.
	bus.Publish(NewEvent(EventNudgeSent, SourceNudger, "alice", nil))

	if got := bus.History(10); len(got) != 0 {
		t.Errorf("expected empty history after close, got %d events", len(got))
	}
}
