package taskqueue

import (
	"bytes"
	"time"
)

// TaskState represents the lifecycle state of a task record.
type TaskState string

const (
	// TaskPending indicates the task is waiting for the worker.
	TaskPending TaskState = "pending"

	// TaskRunning indicates the worker has dispatched the task.
	TaskRunning TaskState = "running"

	// TaskSucceeded indicates the task reported success.
	TaskSucceeded TaskState = "succeeded"

	// TaskFailed indicates the task failed without requesting a retry.
	TaskFailed TaskState = "failed"

	// TaskCancelled indicates the task was cancelled before or during execution.
	TaskCancelled TaskState = "cancelled"
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if this state represents a final outcome.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// valid reports whether s is one of the known states.
func (s TaskState) valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskRecord is the persisted representation of one submitted unit of work.
//
// Records handed out by the queue are copies; mutating them has no effect on
// the ledger.
type TaskRecord struct {
	// ID is assigned at submission. IDs increase monotonically and are never
	// reused within a queue, even across restarts.
	ID int64 `json:"id"`

	// Kind selects the work function that executes Payload.
	Kind string `json:"kind"`

	// State is the current lifecycle state.
	State TaskState `json:"state"`

	// RetryRequested is set by the running task to ask for another attempt
	// if the current one fails. Cleared at the start of every attempt.
	RetryRequested bool `json:"retry_requested,omitempty"`

	// Progress is the last reported progress in [0,1] for the current attempt.
	Progress float64 `json:"progress"`

	// Attempts counts how many times the record has been dispatched.
	Attempts int `json:"attempts"`

	// Payload is the opaque, kind-specific input of the task.
	Payload []byte `json:"payload,omitempty"`

	// Error holds the message of the most recent failed attempt.
	Error string `json:"error,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// clone returns a deep copy so callers never share the payload buffer or
// timestamp pointers with the ledger.
func (r *TaskRecord) clone() TaskRecord {
	cp := *r
	if r.Payload != nil {
		cp.Payload = bytes.Clone(r.Payload)
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// QueueStatus is a snapshot of the ledger's state counts.
type QueueStatus struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
}

// Idle reports whether there is nothing left to execute.
func (s QueueStatus) Idle() bool {
	return s.Pending == 0 && s.Running == 0
}
