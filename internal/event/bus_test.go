package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/pqueue/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe(TypeTaskBegan, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeTaskBegan, func(e Event) {
		received = e
	})

	bus.Publish(NewTaskBeganEvent("default", 7, "sleep", 2))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	began, ok := received.(TaskBeganEvent)
	if !ok {
		t.Fatalf("received %T, want TaskBeganEvent", received)
	}
	if began.Queue != "default" || began.TaskID != 7 || began.Kind != "sleep" || began.Attempt != 2 {
		t.Errorf("unexpected event fields: %+v", began)
	}
	if began.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(TypeTaskCancelled, func(e Event) {
		t.Error("Handler should not be called for non-matching event type")
	})

	bus.Publish(NewTaskCompletedEvent("default", 1, true))
}

func TestBus_SpecificBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) {
		order = append(order, "wildcard")
	})
	bus.Subscribe(TypeTaskProgress, func(e Event) {
		order = append(order, "specific")
	})

	bus.Publish(NewTaskProgressEvent("default", 1, 0.5))

	if strings.Join(order, ",") != "specific,wildcard" {
		t.Errorf("order = %v, want [specific wildcard]", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	keep := bus.Subscribe(TypeTaskCompleted, func(e Event) { calls++ })
	drop := bus.Subscribe(TypeTaskCompleted, func(e Event) { calls += 10 })

	if !bus.Unsubscribe(drop) {
		t.Fatal("Unsubscribe should find the subscription")
	}
	if bus.Unsubscribe(drop) {
		t.Error("second Unsubscribe should report not found")
	}

	bus.Publish(NewTaskCompletedEvent("default", 1, false))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
	_ = keep
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TypeTaskBegan, func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() after Clear = %d, want 0", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var logs bytes.Buffer
	bus := NewBus(WithLogger(logging.New(&logs, logging.LevelError)))

	calls := 0
	bus.Subscribe(TypeTaskCancelled, func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe(TypeTaskCancelled, func(e Event) {
		calls++
	})

	bus.Publish(NewTaskCancelledEvent("default", 3))

	if calls != 2 {
		t.Errorf("Expected both handlers to be called despite panic, got %d calls", calls)
	}
	if !strings.Contains(logs.String(), "event handler panicked") {
		t.Errorf("panic was not logged: %s", logs.String())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	calls := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Go(func() {
			bus.Publish(NewTaskProgressEvent("default", int64(i), 0.1))
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("Expected 100 calls, got %d", calls)
	}
}

func TestBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			id := bus.Subscribe(TypeTaskBegan, func(e Event) {})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after concurrent add/remove, got %d", bus.SubscriptionCount())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus()

	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe(TypeTaskBegan, func(e Event) {})
		if ids[id] {
			t.Errorf("Duplicate subscription ID: %s", id)
		}
		ids[id] = true
	}
}
