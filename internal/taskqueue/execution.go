package taskqueue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Execution is the handle a work function uses to talk back to the queue
// during one attempt. It is only valid until the work function returns;
// afterwards every reporting method fails with ErrInvalidTransition.
//
// An Execution may be used from several goroutines spawned by the task.
type Execution struct {
	ctx      context.Context
	rec      TaskRecord
	sched    *Scheduler
	userData any

	mu   sync.Mutex // serializes progress updates
	last float64
	done atomic.Bool
}

func newExecution(ctx context.Context, rec TaskRecord, s *Scheduler, userData any) *Execution {
	return &Execution{
		ctx:      ctx,
		rec:      rec,
		sched:    s,
		userData: userData,
		last:     rec.Progress,
	}
}

// ID returns the id of the task being executed.
func (e *Execution) ID() int64 { return e.rec.ID }

// Kind returns the task's kind.
func (e *Execution) Kind() string { return e.rec.Kind }

// Attempt returns the 1-based attempt number. Task logic uses it to cap
// its own retries.
func (e *Execution) Attempt() int { return e.rec.Attempts }

// Payload returns a copy of the task payload.
func (e *Execution) Payload() []byte { return bytes.Clone(e.rec.Payload) }

// UserData returns the value attached to the queue with SetUserData, or nil.
func (e *Execution) UserData() any { return e.userData }

// Cancelled reports whether cancellation of this task has been requested.
// It is false when the context was cancelled because the queue is stopping.
func (e *Execution) Cancelled() bool {
	return errors.Is(context.Cause(e.ctx), ErrTaskCancelled)
}

// UpdateProgress records progress p in [0,1] for the current attempt,
// persists it and notifies the observer. Repeating the last value is a
// no-op; going backwards fails with ErrInvalidProgress.
func (e *Execution) UpdateProgress(p float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done.Load() {
		return e.finishedErr()
	}
	if p == e.last {
		return nil
	}

	s := e.sched
	var changed bool
	s.mu.Lock()
	_, err := s.ledger.Update(e.rec.ID, func(r *TaskRecord) error {
		var err error
		changed, err = r.UpdateProgress(p)
		return err
	})
	if err == nil && changed {
		s.notify.progress(e.rec.ID, p)
	}
	s.mu.Unlock()
	s.notify.flush()
	if err != nil {
		return err
	}
	e.last = p
	return nil
}

// RequestRetry asks for another attempt should this one return an error.
// A successful return still completes the task.
func (e *Execution) RequestRetry() error {
	if e.done.Load() {
		return e.finishedErr()
	}
	_, err := e.sched.ledger.Update(e.rec.ID, (*TaskRecord).RequestRetry)
	return err
}

func (e *Execution) close() {
	e.mu.Lock()
	e.done.Store(true)
	e.mu.Unlock()
}

func (e *Execution) finishedErr() error {
	return fmt.Errorf("%w: attempt %d of task %d has finished", ErrInvalidTransition, e.rec.Attempts, e.rec.ID)
}
