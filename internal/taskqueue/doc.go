// Package taskqueue provides a durable, single-consumer task queue.
//
// Callers submit units of work identified by a kind and an opaque payload.
// Each submission is written to an on-disk ledger before [Queue.Submit]
// returns, so pending work survives process restarts. A single worker
// goroutine executes tasks one at a time in submission order, and reports
// lifecycle transitions to an optional [Observer].
//
// Work functions are registered per kind in a [Kinds] registry. During an
// attempt a work function receives an [Execution] handle through which it
// reports progress, asks to be retried if it fails, and reads the queue's
// user data. Cancellation is cooperative: cancelling a running task cancels
// the context passed to its work function.
//
// The ledger is a JSON Lines file guarded by an flock(2) lock file, replaced
// atomically on every change. Records found running when a ledger is loaded
// did not survive the previous process and are run again.
//
// Usage:
//
//	kinds := taskqueue.NewKinds()
//	_ = kinds.Register("sleep", sleepTask)
//
//	q, _, err := taskqueue.Open(dir, "default", taskqueue.WithKinds(kinds))
//	if err != nil {
//	    return err
//	}
//	q.Start()
//	defer q.Stop(context.Background())
//
//	id, err := q.Submit("sleep", payload)
package taskqueue
