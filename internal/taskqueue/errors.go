package taskqueue

import "errors"

// Sentinel errors returned by queue operations. Callers match them with
// errors.Is; returned errors wrap them with the offending id or cause.
var (
	// ErrTaskNotFound is returned when an operation references an id that is
	// not in the ledger, or not in a state the operation applies to.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a record is asked to move to a
	// state its current state does not lead to.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidProgress is returned for progress values outside [0,1] or
	// below the value already reported for the current attempt.
	ErrInvalidProgress = errors.New("invalid progress")

	// ErrCorruptRecord marks a persisted ledger entry that could not be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrPersistence is returned when the ledger could not be written durably.
	ErrPersistence = errors.New("persistence failure")

	// ErrUnknownKind is returned when no work function is registered for a kind.
	ErrUnknownKind = errors.New("unknown task kind")

	// ErrKindRegistered is returned when a kind is registered twice.
	ErrKindRegistered = errors.New("task kind already registered")

	// ErrNotLoaded is returned by mutating operations on a ledger whose
	// durable state has not been loaded yet.
	ErrNotLoaded = errors.New("ledger not loaded")

	// ErrInvalidQueueName is returned by the registry for names that cannot
	// be used as a file name.
	ErrInvalidQueueName = errors.New("invalid queue name")

	// ErrQueueStopped is the cancellation cause seen by a running task when
	// the worker is stopped rather than the task cancelled.
	ErrQueueStopped = errors.New("queue stopped")

	// ErrTaskCancelled is the cancellation cause seen by a running task whose
	// cancellation was requested.
	ErrTaskCancelled = errors.New("task cancelled")
)
