package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/pqueue/internal/logging"
)

// maxWriteRetryInterval bounds the wait between attempts to persist an
// outcome the worker could not write.
const maxWriteRetryInterval = 5 * time.Second

// activeRun tracks the record currently owned by the worker.
type activeRun struct {
	id              int64
	ctx             context.Context
	cancel          context.CancelCauseFunc
	cancelRequested bool

	// settled is set once the attempt returned with a final outcome that
	// is still being written. The record can no longer be cancelled.
	settled bool
}

// outcome is what finish decided for an attempt that returned.
type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeCancelled
	outcomeRetrying
	outcomeInterrupted
)

func (o outcome) String() string {
	switch o {
	case outcomeSucceeded:
		return "succeeded"
	case outcomeFailed:
		return "failed"
	case outcomeCancelled:
		return "cancelled"
	case outcomeRetrying:
		return "retrying"
	}
	return "interrupted"
}

// Scheduler is the single worker that drains a ledger in id order.
//
// Lock order is s.mu before the ledger's mutex. Every ledger write that
// depends on whether a record is running (dispatch, cancel, finish,
// progress) is committed under s.mu together with the bookkeeping of the
// active run and the queuing of its notification, so observers see
// transitions in commit order. s.mu is never held while waiting to retry a
// failed write.
type Scheduler struct {
	ledger       *Ledger
	kinds        *Kinds
	notify       *notifier
	logger       *logging.Logger
	retainFailed bool
	userData     func() any

	wake chan struct{}

	// lifecycle serializes Start and Stop.
	lifecycle  sync.Mutex
	cancelLoop context.CancelCauseFunc
	done       chan struct{}

	mu     sync.Mutex
	active *activeRun
}

type schedulerConfig struct {
	kinds        *Kinds
	observer     func() Observer
	userData     func() any
	logger       *logging.Logger
	retainFailed bool
}

func newScheduler(ledger *Ledger, cfg schedulerConfig) *Scheduler {
	logger := cfg.logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	observer := cfg.observer
	if observer == nil {
		observer = func() Observer { return nil }
	}
	userData := cfg.userData
	if userData == nil {
		userData = func() any { return nil }
	}
	kinds := cfg.kinds
	if kinds == nil {
		kinds = NewKinds()
	}
	return &Scheduler{
		ledger:       ledger,
		kinds:        kinds,
		notify:       newNotifier(observer, logger),
		logger:       logger,
		retainFailed: cfg.retainFailed,
		userData:     userData,
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the worker goroutine. Calling Start on a running scheduler
// is a no-op. If a previous worker is still finishing after a Stop that
// timed out, Start waits for it to exit first.
func (s *Scheduler) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancelLoop != nil {
		return
	}
	if s.done != nil {
		<-s.done
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})
	s.cancelLoop = cancel
	s.done = done

	var wg conc.WaitGroup
	wg.Go(func() { s.loop(ctx) })
	go func() {
		defer close(done)
		if r := wg.WaitAndRecover(); r != nil {
			s.logger.Error("worker panicked", "error", r.AsError().Error())
		}
	}()

	s.Wake()
}

// Stop cancels the worker and waits for it to exit or for ctx to expire.
// A task interrupted by Stop goes back to pending and runs again on the
// next Start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	cancel, done := s.cancelLoop, s.done
	s.cancelLoop = nil
	s.lifecycle.Unlock()

	if cancel == nil {
		return nil
	}
	cancel(ErrQueueStopped)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop worker: %w", ctx.Err())
	}
}

// Running reports whether the worker is started.
func (s *Scheduler) Running() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.cancelLoop != nil
}

// Wake nudges an idle worker to look for pending work.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel cancels a pending or running task.
//
// A pending task is removed and the cancellation queued for the observer
// before Cancel returns; a ledger write failure is returned as is. A
// running task has its context cancelled; the worker removes it and
// notifies once the work function returns. A task whose work function has
// already returned, or any other id, yields ErrTaskNotFound.
func (s *Scheduler) Cancel(id int64) error {
	s.mu.Lock()

	if run := s.active; run != nil && run.id == id {
		defer s.mu.Unlock()
		if run.settled {
			return fmt.Errorf("%w: %d has already finished", ErrTaskNotFound, id)
		}
		if !run.cancelRequested {
			run.cancelRequested = true
			run.cancel(ErrTaskCancelled)
			s.logger.Info("cancellation requested", "task_id", id)
		}
		return nil
	}

	rec, ok := s.ledger.Get(id)
	if !ok || rec.State != TaskPending {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if _, err := s.ledger.Retire(id, (*TaskRecord).MarkCancelled); err != nil {
		s.mu.Unlock()
		return err
	}
	s.notify.cancel(id)
	s.mu.Unlock()

	s.logger.Info("pending task cancelled", "task_id", id)
	s.notify.flush()
	return nil
}

// Active returns a copy of the record the worker is executing.
func (s *Scheduler) Active() (TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return TaskRecord{}, false
	}
	return s.ledger.Get(s.active.id)
}

func (s *Scheduler) loop(ctx context.Context) {
	s.logger.Info("worker started")
	defer s.logger.Info("worker stopped")

	b := backoff.WithContext(newWriteBackoff(), ctx)
	for ctx.Err() == nil {
		rec, run, err := s.dispatch(ctx)
		s.notify.flush()
		if err != nil {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			s.logger.Warn("could not start task, retrying", "error", err.Error(), "retry_in", wait.String())
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		if run == nil {
			select {
			case <-ctx.Done():
			case <-s.wake:
			}
			continue
		}
		s.execute(ctx, rec, run)
	}
}

// dispatch moves the head pending record to running. It returns a nil run
// when there is nothing to do.
//
// The worker only dispatches while it owns no record, so any record still
// running in the ledger was left behind by an outcome write that was cut
// short by Stop. It goes back to pending first; until that write succeeds
// nothing else is dispatched, which keeps at most one record running and
// execution in id order.
func (s *Scheduler) dispatch(ctx context.Context) (TaskRecord, *activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stale, ok := s.ledger.HeadRunning(); ok {
		if _, err := s.ledger.Update(stale.ID, func(r *TaskRecord) error {
			r.resetToPending()
			return nil
		}); err != nil {
			return TaskRecord{}, nil, fmt.Errorf("reset stale task %d: %w", stale.ID, err)
		}
		s.logger.Info("reset stale running task to pending", "task_id", stale.ID)
	}

	head, ok := s.ledger.HeadPending()
	if !ok {
		return TaskRecord{}, nil, nil
	}
	rec, err := s.ledger.Update(head.ID, func(r *TaskRecord) error {
		return r.begin(time.Now())
	})
	if err != nil {
		return TaskRecord{}, nil, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	s.active = &activeRun{id: rec.ID, ctx: runCtx, cancel: cancel}
	s.notify.begin(rec)
	return rec, s.active, nil
}

// execute runs attempts of one record until it reaches an outcome.
func (s *Scheduler) execute(loopCtx context.Context, rec TaskRecord, run *activeRun) {
	for {
		logger := s.logger.WithTask(rec.ID)
		logger.Info("task started", "kind", rec.Kind, "attempt", rec.Attempts)

		workErr := s.runAttempt(run.ctx, rec, logger)

		next, again := s.finish(loopCtx, run, workErr, logger)
		if !again {
			return
		}
		rec = next
	}
}

func (s *Scheduler) runAttempt(ctx context.Context, rec TaskRecord, logger *logging.Logger) error {
	fn, ok := s.kinds.Lookup(rec.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, rec.Kind)
	}

	exec := newExecution(ctx, rec, s, s.userData())
	defer exec.close()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn(ctx, exec) })
	if r := pc.Recovered(); r != nil {
		logger.Error("task panicked", "panic", fmt.Sprint(r.Value))
		return fmt.Errorf("task panicked: %w", r.AsError())
	}
	return err
}

// decide picks the outcome of the attempt that just returned.
// Must be called with s.mu held.
func (s *Scheduler) decide(loopCtx context.Context, run *activeRun, workErr error) outcome {
	current, _ := s.ledger.Get(run.id)
	switch {
	case run.cancelRequested:
		return outcomeCancelled
	case loopCtx.Err() != nil && workErr != nil:
		return outcomeInterrupted
	case workErr == nil:
		return outcomeSucceeded
	case current.RetryRequested:
		return outcomeRetrying
	}
	return outcomeFailed
}

// finish records the outcome of the attempt that just returned. It reports
// whether the same record should run again, and if so its new state.
//
// The outcome is decided once. Its write is retried with backoff while the
// ledger cannot be persisted, without holding s.mu between tries, so Cancel
// and Active keep answering during an outage.
func (s *Scheduler) finish(loopCtx context.Context, run *activeRun, workErr error, logger *logging.Logger) (TaskRecord, bool) {
	s.mu.Lock()
	result := s.decide(loopCtx, run, workErr)
	run.settled = result != outcomeRetrying
	s.mu.Unlock()

	var final TaskRecord
	err := s.persist(loopCtx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		var err error
		final, err = s.commit(loopCtx, run, result, workErr)
		return err
	})
	s.notify.flush()

	if err != nil {
		s.mu.Lock()
		run.cancel(nil)
		s.active = nil
		s.mu.Unlock()
		// The record stays running in the ledger; the next dispatch resets it.
		logger.Error("could not record task outcome", "outcome", result.String(), "error", err.Error())
		return TaskRecord{}, false
	}

	switch result {
	case outcomeRetrying:
		logger.Warn("task attempt failed, retrying", "error", workErr.Error(), "attempt", final.Attempts-1)
		return final, true
	case outcomeCancelled:
		logger.Info("task cancelled")
	case outcomeInterrupted:
		logger.Info("task interrupted by stop, returned to pending")
	case outcomeSucceeded:
		logger.Info("task succeeded", "attempts", final.Attempts)
	case outcomeFailed:
		logger.Warn("task failed", "error", final.Error, "attempts", final.Attempts)
	}
	return TaskRecord{}, false
}

// commit writes one outcome to the ledger and, if the write succeeded,
// updates the active run and queues the notification.
// Must be called with s.mu held.
func (s *Scheduler) commit(loopCtx context.Context, run *activeRun, result outcome, workErr error) (TaskRecord, error) {
	id := run.id

	var (
		final TaskRecord
		err   error
	)
	switch result {
	case outcomeCancelled:
		final, err = s.ledger.Retire(id, (*TaskRecord).MarkCancelled)
	case outcomeInterrupted:
		final, err = s.ledger.Update(id, func(r *TaskRecord) error {
			r.resetToPending()
			return nil
		})
	case outcomeSucceeded:
		final, err = s.ledger.Retire(id, (*TaskRecord).MarkComplete)
	case outcomeRetrying:
		final, err = s.ledger.Update(id, func(r *TaskRecord) error {
			return r.retry(time.Now(), workErr.Error())
		})
	case outcomeFailed:
		fail := func(r *TaskRecord) error { return r.MarkFailed(workErr.Error()) }
		if s.retainFailed {
			final, err = s.ledger.Update(id, fail)
		} else {
			final, err = s.ledger.Retire(id, fail)
		}
	}
	if err != nil {
		return TaskRecord{}, err
	}

	run.cancel(nil)
	if result == outcomeRetrying {
		run.ctx, run.cancel = context.WithCancelCause(loopCtx)
		if run.cancelRequested {
			// Cancel arrived while the retry was being written.
			run.cancel(ErrTaskCancelled)
		}
		s.notify.begin(final)
		return final, nil
	}
	s.active = nil

	switch result {
	case outcomeCancelled:
		s.notify.cancel(id)
	case outcomeSucceeded:
		s.notify.complete(id, true)
	case outcomeFailed:
		s.notify.complete(id, false)
	}
	return final, nil
}

// persist runs a ledger write, retrying persistence failures with
// exponential backoff until it succeeds or ctx is done. Other errors are
// returned immediately.
func (s *Scheduler) persist(ctx context.Context, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errors.Is(err, ErrPersistence) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newWriteBackoff(), ctx), func(err error, wait time.Duration) {
		s.logger.Warn("ledger write failed, retrying", "error", err.Error(), "retry_in", wait.String())
	})
}

func newWriteBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = maxWriteRetryInterval
	b.MaxElapsedTime = 0
	return b
}
