package taskqueue

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/pqueue/internal/logging"
)

// Observer receives task lifecycle notifications in transition order.
//
// Calls are made one at a time, in the order the transitions were
// committed to the ledger. They usually run on the goroutine that made the
// transition: the worker, or the caller of Cancel for a pending task. If
// another goroutine is already delivering, the notification is handed to
// it instead. Implementations should return quickly: the worker does not
// advance while it is delivering.
type Observer interface {
	// OnTaskBegin is called each time a record starts an attempt, retries
	// included. The record is a copy in the running state.
	OnTaskBegin(rec TaskRecord)

	// OnTaskComplete is called once a task reached a final outcome other
	// than cancellation.
	OnTaskComplete(id int64, success bool)

	// OnTaskCancel is called after a cancelled task has left the ledger.
	OnTaskCancel(id int64)

	// OnTaskProgress is called for every distinct progress value reported
	// by the running attempt.
	OnTaskProgress(id int64, progress float64)
}

// ObserverFuncs adapts plain functions to the Observer interface.
// Nil fields are skipped.
type ObserverFuncs struct {
	Begin    func(rec TaskRecord)
	Complete func(id int64, success bool)
	Cancel   func(id int64)
	Progress func(id int64, progress float64)
}

// OnTaskBegin implements Observer.
func (f ObserverFuncs) OnTaskBegin(rec TaskRecord) {
	if f.Begin != nil {
		f.Begin(rec)
	}
}

// OnTaskComplete implements Observer.
func (f ObserverFuncs) OnTaskComplete(id int64, success bool) {
	if f.Complete != nil {
		f.Complete(id, success)
	}
}

// OnTaskCancel implements Observer.
func (f ObserverFuncs) OnTaskCancel(id int64) {
	if f.Cancel != nil {
		f.Cancel(id)
	}
}

// OnTaskProgress implements Observer.
func (f ObserverFuncs) OnTaskProgress(id int64, progress float64) {
	if f.Progress != nil {
		f.Progress(id, progress)
	}
}

// notification is one queued observer call.
type notification struct {
	callback string
	id       int64
	fn       func(Observer)
}

// notifier queues observer calls in commit order and delivers them one at
// a time, recovering and logging observer panics so a faulty observer
// cannot take down the worker.
//
// The enqueue methods must be called while holding the lock that orders
// the transitions being reported (the scheduler's mutex). flush is called
// after that lock is released.
type notifier struct {
	observer func() Observer
	logger   *logging.Logger

	mu      sync.Mutex
	queue   []notification
	deliver sync.Mutex
}

func newNotifier(observer func() Observer, logger *logging.Logger) *notifier {
	return &notifier{observer: observer, logger: logger}
}

func (n *notifier) begin(rec TaskRecord) {
	n.push("begin", rec.ID, func(o Observer) { o.OnTaskBegin(rec) })
}

func (n *notifier) complete(id int64, success bool) {
	n.push("complete", id, func(o Observer) { o.OnTaskComplete(id, success) })
}

func (n *notifier) cancel(id int64) {
	n.push("cancel", id, func(o Observer) { o.OnTaskCancel(id) })
}

func (n *notifier) progress(id int64, p float64) {
	n.push("progress", id, func(o Observer) { o.OnTaskProgress(id, p) })
}

func (n *notifier) push(callback string, id int64, fn func(Observer)) {
	n.mu.Lock()
	n.queue = append(n.queue, notification{callback: callback, id: id, fn: fn})
	n.mu.Unlock()
}

func (n *notifier) pop() (notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return notification{}, false
	}
	next := n.queue[0]
	n.queue[0] = notification{}
	n.queue = n.queue[1:]
	return next, true
}

func (n *notifier) pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue) > 0
}

// flush delivers queued notifications. If another goroutine is delivering,
// flush returns at once and that goroutine drains the queue, which also
// lets an observer call back into the queue without deadlocking.
func (n *notifier) flush() {
	for {
		if !n.deliver.TryLock() {
			return
		}
		for {
			next, ok := n.pop()
			if !ok {
				break
			}
			n.call(next)
		}
		n.deliver.Unlock()
		// A push that lost the TryLock race after the drain must not be stranded.
		if !n.pending() {
			return
		}
	}
}

func (n *notifier) call(next notification) {
	o := n.observer()
	if o == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("observer panicked",
				"callback", next.callback,
				"task_id", next.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	next.fn(o)
}
