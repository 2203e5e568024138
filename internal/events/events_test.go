package events

import (
	"errors"
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventColState)

	bus.PublishColState("run-1", "galibier", "Col du Galibier", StatePendingCacheCheck, StateAwaitingQuota)

	select {
	case received := <-ch:
		state, ok := received.(*ColStateEvent)
		if !ok {
			t.Fatal("Expected ColStateEvent")
		}
		if state.ColID != "galibier" || state.NewState != StateAwaitingQuota {
			t.Errorf("unexpected event %+v", state)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventLog)
	ch2 := bus.Subscribe(EventLog)

	bus.PublishLog(InfoLevel, "Test log", "", nil)

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	stateCh := bus.Subscribe(EventColState)
	failCh := bus.Subscribe(EventColFailed)

	bus.PublishColState("run-1", "stelvio", "Stelvio", StateFetching, StateSegmenting)

	select {
	case <-stateCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("State subscriber didn't receive event")
	}

	select {
	case <-failCh:
		t.Error("Failure subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.Publish(&RunStartedEvent{BaseEvent: BaseEvent{EventType: EventRunStarted, Time: time.Now()}, TotalCols: 3})
	bus.Publish(&RunCompleteEvent{BaseEvent: BaseEvent{EventType: EventRunComplete, Time: time.Now()}, Processed: 3})

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
			count++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if count != 2 {
		t.Errorf("Expected to receive 2 events, got %d", count)
	}
}

func TestEventBus_NonBlocking(t *testing.T) {
	bus := NewEventBus(2)
	defer bus.Close()

	ch := bus.Subscribe(EventColState)

	for i := 0; i < 10; i++ {
		bus.PublishColState("run-1", "c", "c", StateFetching, StateSegmenting)
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		case <-time.After(10 * time.Millisecond):
			goto done
		}
	}
done:

	if count != 2 {
		t.Errorf("received %d events, want the 2 that fit the buffer", count)
	}
	if got := bus.GetDroppedEventCount(); got != 8 {
		t.Errorf("dropped = %d, want 8", got)
	}
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)

	ch := bus.Subscribe(EventColState)

	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after bus.Close()")
	}

	// Publishing after close should not panic
	bus.PublishColState("run-1", "c", "c", StateDone, StateDone)

	late := bus.Subscribe(EventLog)
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}
}

func TestEventBus_NilPublish(t *testing.T) {
	var bus *EventBus
	bus.PublishColFailed("run-1", "c", "c", "provider", errors.New("boom"))
}

func TestColStateTerminal(t *testing.T) {
	terminal := map[ColState]bool{
		StatePendingCacheCheck: false,
		StateAwaitingQuota:     false,
		StateFetching:          false,
		StateSegmenting:        false,
		StateValidating:        false,
		StatePersisting:        false,
		StateDone:              true,
		StateFailed:            true,
		StateSkipped:           true,
	}
	for state, want := range terminal {
		if got := state.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level %d: expected %s, got %s", tt.level, tt.expected, got)
		}
	}
}

func TestPublishColFailed(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventColFailed)
	bus.PublishColFailed("run-1", "ventoux", "Mont Ventoux", "validation", errors.New("inconsistent maximum elevation"))

	select {
	case event := <-ch:
		failed, ok := event.(*ColFailedEvent)
		if !ok {
			t.Fatal("Expected ColFailedEvent")
		}
		if failed.Kind != "validation" || failed.Error == nil {
			t.Errorf("unexpected event %+v", failed)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for failure event")
	}
}
