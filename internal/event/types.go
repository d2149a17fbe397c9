package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.began", "task.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers published by the queue.
const (
	TypeTaskBegan     = "task.began"
	TypeTaskProgress  = "task.progress"
	TypeTaskCompleted = "task.completed"
	TypeTaskCancelled = "task.cancelled"
)

// baseEvent provides the fields shared by all queue events.
type baseEvent struct {
	eventType string
	timestamp time.Time
	Queue     string // Name of the queue that emitted the event
	TaskID    int64  // Task the event is about
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType, queue string, taskID int64) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
		Queue:     queue,
		TaskID:    taskID,
	}
}

// TaskBeganEvent is emitted each time the worker dispatches an attempt.
type TaskBeganEvent struct {
	baseEvent
	Kind    string // Task kind
	Attempt int    // 1 for the first attempt, incremented on every retry
}

// NewTaskBeganEvent creates a TaskBeganEvent.
func NewTaskBeganEvent(queue string, taskID int64, kind string, attempt int) TaskBeganEvent {
	return TaskBeganEvent{
		baseEvent: newBaseEvent(TypeTaskBegan, queue, taskID),
		Kind:      kind,
		Attempt:   attempt,
	}
}

// TaskProgressEvent is emitted when a running task reports new progress.
type TaskProgressEvent struct {
	baseEvent
	Progress float64 // In [0,1]
}

// NewTaskProgressEvent creates a TaskProgressEvent.
func NewTaskProgressEvent(queue string, taskID int64, progress float64) TaskProgressEvent {
	return TaskProgressEvent{
		baseEvent: newBaseEvent(TypeTaskProgress, queue, taskID),
		Progress:  progress,
	}
}

// TaskCompletedEvent is emitted when a task reaches succeeded or failed.
type TaskCompletedEvent struct {
	baseEvent
	Success bool
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(queue string, taskID int64, success bool) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted, queue, taskID),
		Success:   success,
	}
}

// TaskCancelledEvent is emitted when a pending or running task is cancelled.
type TaskCancelledEvent struct {
	baseEvent
}

// NewTaskCancelledEvent creates a TaskCancelledEvent.
func NewTaskCancelledEvent(queue string, taskID int64) TaskCancelledEvent {
	return TaskCancelledEvent{
		baseEvent: newBaseEvent(TypeTaskCancelled, queue, taskID),
	}
}
