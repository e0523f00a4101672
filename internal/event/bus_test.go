package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/kaubo/internal/logging"
)

func TestBusSubscribeAndPublish(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	id := bus.Subscribe(TypeTaskCompleted, func(e Event) {
		c := e.(TaskCompletedEvent)
		got = append(got, c.TaskID)
	})
	if id == "" {
		t.Fatal("Subscribe() returned empty id")
	}

	bus.Publish(NewTaskCompletedEvent("t1", 1.5, ""))
	bus.Publish(NewTaskSpawnedEvent("t2", "cfg", "default", 42, false))

	if diff := cmp.Diff([]string{"t1"}, got); diff != "" {
		t.Errorf("delivered mismatch (-want +got):\n%s", diff)
	}
}

func TestBusOrdering(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeTaskNative, func(Event) { order = append(order, "first") })
	bus.Subscribe(TypeTaskNative, func(Event) { order = append(order, "second") })

	bus.Publish(NewNativeEvent("t", "LOG_INFO", "hi"))

	if diff := cmp.Diff([]string{"first", "second", "wildcard"}, order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	a := bus.Subscribe(TypeTaskTimeout, func(Event) { calls++ })
	b := bus.Subscribe(TypeTaskTimeout, func(Event) { calls += 10 })
	if a == b {
		t.Fatalf("ids not unique: %q", a)
	}

	if !bus.Unsubscribe(a) {
		t.Error("Unsubscribe(known) = false")
	}
	if bus.Unsubscribe(a) {
		t.Error("Unsubscribe(twice) = true")
	}
	bus.Publish(NewTaskTimeoutEvent("t", time.Second))
	if calls != 10 {
		t.Errorf("calls = %d, want only the remaining handler", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}

	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() after Clear = %d", bus.SubscriptionCount())
	}
}

func TestBusRecoversPanics(t *testing.T) {
	var logs bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&logs, logging.LevelDebug))

	reached := false
	bus.Subscribe(TypeTaskFailed, func(Event) { panic("boom") })
	bus.Subscribe(TypeTaskFailed, func(Event) { reached = true })

	bus.Publish(NewTaskFailedEvent("t", "exit status 2", 2))

	if !reached {
		t.Error("handler after the panicking one was not called")
	}
	if !strings.Contains(logs.String(), "event handler panicked") {
		t.Errorf("panic not logged: %q", logs.String())
	}
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)
	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewTaskReleasedEvent("t"))
		}()
	}
	wg.Wait()
	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewTaskSpawnedEvent("t", "c", "default", 1, true), TypeTaskSpawned},
		{NewTaskReleasedEvent("t"), TypeTaskReleased},
		{NewTaskCompletedEvent("t", 0, ""), TypeTaskCompleted},
		{NewTaskFailedEvent("t", "x", 1), TypeTaskFailed},
		{NewTaskTerminatedEvent("t", true), TypeTaskTerminated},
		{NewTaskTimeoutEvent("t", time.Second), TypeTaskTimeout},
		{NewNativeEvent("t", "INPUT", ""), TypeTaskNative},
	}
	for _, tt := range tests {
		if got := tt.event.EventType(); got != tt.want {
			t.Errorf("EventType() = %q, want %q", got, tt.want)
		}
		if tt.event.Timestamp().IsZero() {
			t.Errorf("%s has zero timestamp", tt.want)
		}
	}

	if !NewTaskCompletedEvent("t", 1, "").Success() || NewTaskCompletedEvent("t", 1, "bad").Success() {
		t.Error("Success() wrong")
	}
}
