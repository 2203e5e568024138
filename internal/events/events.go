// Package events carries regeneration progress from the orchestrator to
// whatever renders it (progress bar, logs, tests).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/velocols/colprofile/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventColState    EventType = "col_state"
	EventColFailed   EventType = "col_failed"
	EventRunComplete EventType = "run_complete"
	EventLog         EventType = "log"
)

// ColState is the per-col pipeline position.
type ColState string

const (
	StatePendingCacheCheck ColState = "pending_cache_check"
	StateAwaitingQuota     ColState = "awaiting_quota"
	StateFetching          ColState = "fetching_profile"
	StateSegmenting        ColState = "segmenting"
	StateValidating        ColState = "validating"
	StatePersisting        ColState = "persisting"
	StateDone              ColState = "done"
	StateFailed            ColState = "failed"
	StateSkipped           ColState = "skipped"
)

// Terminal reports whether no further transitions follow s.
func (s ColState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkipped
}

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// RunStartedEvent is published once the catalogue is loaded and ordered.
type RunStartedEvent struct {
	BaseEvent
	RunID      string
	TotalCols  int
	BackupName string
}

// ColStateEvent is one pipeline transition of a col.
type ColStateEvent struct {
	BaseEvent
	RunID    string
	ColID    string
	ColName  string
	OldState ColState
	NewState ColState
	CacheHit bool
}

// ColFailedEvent accompanies the transition to StateFailed.
type ColFailedEvent struct {
	BaseEvent
	RunID   string
	ColID   string
	ColName string
	Kind    string
	Error   error
}

// RunCompleteEvent closes a run.
type RunCompleteEvent struct {
	BaseEvent
	RunID     string
	Processed int
	Errored   int
	Skipped   int
	CacheHits int
	APICalls  int
	Duration  time.Duration
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	ColID   string
	Error   error
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Events dropped because a subscriber's buffer was full
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. A nil bus
// discards the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, colID string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{EventType: EventLog, Time: time.Now()},
		Level:     level,
		Message:   message,
		ColID:     colID,
		Error:     err,
	})
}

// PublishColState is a convenience method for publishing a col transition
func (eb *EventBus) PublishColState(runID, colID, colName string, oldState, newState ColState) {
	eb.Publish(&ColStateEvent{
		BaseEvent: BaseEvent{EventType: EventColState, Time: time.Now()},
		RunID:     runID,
		ColID:     colID,
		ColName:   colName,
		OldState:  oldState,
		NewState:  newState,
	})
}

// PublishColFailed is a convenience method for publishing a col failure
func (eb *EventBus) PublishColFailed(runID, colID, colName, kind string, err error) {
	eb.Publish(&ColFailedEvent{
		BaseEvent: BaseEvent{EventType: EventColFailed, Time: time.Now()},
		RunID:     runID,
		ColID:     colID,
		ColName:   colName,
		Kind:      kind,
		Error:     err,
	})
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
