package taskqueue

import (
	"fmt"
	"time"
)

// begin moves a pending record into a fresh running attempt. The retry flag
// and progress belong to a single attempt and are cleared here.
func (r *TaskRecord) begin(now time.Time) error {
	if r.State != TaskPending {
		return fmt.Errorf("%w: cannot start task %d in state %s", ErrInvalidTransition, r.ID, r.State)
	}
	r.State = TaskRunning
	r.RetryRequested = false
	r.Progress = 0
	r.Attempts++
	r.StartedAt = &now
	r.FinishedAt = nil
	return nil
}

// retry starts another attempt of a running record whose failed attempt
// asked to be retried.
func (r *TaskRecord) retry(now time.Time, failure string) error {
	if r.State != TaskRunning || !r.RetryRequested {
		return fmt.Errorf("%w: task %d has no pending retry request", ErrInvalidTransition, r.ID)
	}
	r.Error = failure
	r.State = TaskPending
	return r.begin(now)
}

// MarkComplete transitions a running record to succeeded. Progress keeps its
// last reported value.
func (r *TaskRecord) MarkComplete() error {
	if r.State != TaskRunning {
		return fmt.Errorf("%w: cannot complete task %d in state %s", ErrInvalidTransition, r.ID, r.State)
	}
	now := time.Now()
	r.State = TaskSucceeded
	r.RetryRequested = false
	r.FinishedAt = &now
	return nil
}

// MarkFailed transitions a running record to failed and records the reason.
func (r *TaskRecord) MarkFailed(reason string) error {
	if r.State != TaskRunning {
		return fmt.Errorf("%w: cannot fail task %d in state %s", ErrInvalidTransition, r.ID, r.State)
	}
	now := time.Now()
	r.State = TaskFailed
	r.RetryRequested = false
	r.Error = reason
	r.FinishedAt = &now
	return nil
}

// MarkCancelled transitions a pending or running record to cancelled.
func (r *TaskRecord) MarkCancelled() error {
	if r.State != TaskPending && r.State != TaskRunning {
		return fmt.Errorf("%w: cannot cancel task %d in state %s", ErrInvalidTransition, r.ID, r.State)
	}
	now := time.Now()
	r.State = TaskCancelled
	r.RetryRequested = false
	r.FinishedAt = &now
	return nil
}

// RequestRetry asks the scheduler to run the record again if the current
// attempt fails. It does not re-run anything by itself.
func (r *TaskRecord) RequestRetry() error {
	if r.State != TaskRunning {
		return fmt.Errorf("%w: cannot request retry for task %d in state %s", ErrInvalidTransition, r.ID, r.State)
	}
	r.RetryRequested = true
	return nil
}

// UpdateProgress stores a new progress value for the running attempt.
// It reports whether the stored value changed.
func (r *TaskRecord) UpdateProgress(p float64) (bool, error) {
	if r.State != TaskRunning {
		return false, fmt.Errorf("%w: cannot report progress for task %d in state %s", ErrInvalidTransition, r.ID, r.State)
	}
	// NaN fails both comparisons.
	if !(p >= 0 && p <= 1) {
		return false, fmt.Errorf("%w: %v is outside [0,1]", ErrInvalidProgress, p)
	}
	if p < r.Progress {
		return false, fmt.Errorf("%w: %v is below current progress %v", ErrInvalidProgress, p, r.Progress)
	}
	if p == r.Progress {
		return false, nil
	}
	r.Progress = p
	return true, nil
}

// resetToPending returns a record that did not finish its attempt to the
// pending state so it runs again from the start. Progress belongs to the
// abandoned attempt and is cleared with it.
func (r *TaskRecord) resetToPending() {
	r.State = TaskPending
	r.RetryRequested = false
	r.Progress = 0
	r.StartedAt = nil
}
