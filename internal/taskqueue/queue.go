package taskqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/pqueue/internal/logging"
)

// Queue is a durable, single-consumer task queue.
//
// Submitted tasks are persisted before Submit returns and execute one at a
// time in submission order once Start has been called. A Queue must be
// loaded (Load or Open) before tasks can be submitted.
// All methods are safe for concurrent use.
type Queue struct {
	name   string
	ledger *Ledger
	sched  *Scheduler
	kinds  *Kinds
	logger *logging.Logger

	mu       sync.RWMutex
	observer Observer
	userData any
}

type options struct {
	fs           afero.Fs
	logger       *logging.Logger
	kinds        *Kinds
	observer     Observer
	retainFailed bool
}

// Option configures a Queue.
type Option func(*options)

// WithFs sets the filesystem holding the ledger. Defaults to the OS
// filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKinds sets the kind registry used to execute tasks.
func WithKinds(k *Kinds) Option {
	return func(o *options) { o.kinds = k }
}

// WithObserver sets the initial lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRetainFailed keeps failed records in the ledger, in state failed,
// until they are dismissed. By default failed records are removed.
func WithRetainFailed(retain bool) Option {
	return func(o *options) { o.retainFailed = retain }
}

// New creates a queue named name whose ledger lives in dir. It does not
// touch storage; call Load before use.
func New(dir, name string, opts ...Option) *Queue {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NopLogger()
	}
	if o.kinds == nil {
		o.kinds = NewKinds()
	}

	logger := o.logger.WithQueue(name)
	q := &Queue{
		name:     name,
		ledger:   NewLedger(NewStore(o.fs, dir, name), logger),
		kinds:    o.kinds,
		logger:   logger,
		observer: o.observer,
	}
	q.sched = newScheduler(q.ledger, schedulerConfig{
		kinds:        o.kinds,
		observer:     q.Observer,
		userData:     q.UserData,
		logger:       logger,
		retainFailed: o.retainFailed,
	})
	return q
}

// Open creates a queue and loads its ledger.
func Open(dir, name string, opts ...Option) (*Queue, LoadReport, error) {
	q := New(dir, name, opts...)
	report, err := q.Load()
	if err != nil {
		return nil, report, err
	}
	return q, report, nil
}

// Load reads the ledger from storage. Corrupt entries are dropped and
// described in the report; records left running by a previous process go
// back to pending. Load must not be called while the worker is running.
func (q *Queue) Load() (LoadReport, error) {
	if q.sched.Running() {
		return LoadReport{}, fmt.Errorf("load queue %s: worker is running", q.name)
	}
	report, err := q.ledger.Load()
	if err != nil {
		return report, err
	}
	q.logger.Info("queue loaded",
		"records", report.Loaded,
		"recovered", len(report.Recovered),
		"corrupt", len(report.Corrupt),
	)
	return report, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Path returns the ledger file path.
func (q *Queue) Path() string { return q.ledger.Path() }

// Kinds returns the kind registry tasks are executed from.
func (q *Queue) Kinds() *Kinds { return q.kinds }

// Start launches the worker. It is idempotent.
func (q *Queue) Start() { q.sched.Start() }

// Stop halts the worker, waiting for the running task to return or ctx to
// expire. The interrupted task is returned to pending.
func (q *Queue) Stop(ctx context.Context) error { return q.sched.Stop(ctx) }

// Running reports whether the worker is started.
func (q *Queue) Running() bool { return q.sched.Running() }

// Submit durably enqueues a task of the given kind and returns its id.
// The kind must be registered. Task failures are never reported here;
// they surface through the observer.
func (q *Queue) Submit(kind string, payload []byte) (int64, error) {
	if _, ok := q.kinds.Lookup(kind); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	rec, err := q.ledger.Append(kind, payload)
	if err != nil {
		return 0, fmt.Errorf("submit %s task: %w", kind, err)
	}
	q.logger.Info("task submitted", "task_id", rec.ID, "kind", kind, "payload_bytes", len(payload))
	q.sched.Wake()
	return rec.ID, nil
}

// Cancel cancels a pending or running task. See Scheduler.Cancel.
func (q *Queue) Cancel(id int64) error {
	return q.sched.Cancel(id)
}

// Dismiss removes a retained failed record. Any other id yields
// ErrTaskNotFound.
func (q *Queue) Dismiss(id int64) error {
	_, err := q.ledger.Retire(id, func(r *TaskRecord) error {
		if r.State != TaskFailed {
			return fmt.Errorf("%w: %d is %s, not failed", ErrTaskNotFound, id, r.State)
		}
		return nil
	})
	if err != nil {
		return err
	}
	q.logger.Info("failed task dismissed", "task_id", id)
	return nil
}

// All returns copies of every record in submission order.
func (q *Queue) All() []TaskRecord { return q.ledger.All() }

// Get returns a copy of the record with the given id.
func (q *Queue) Get(id int64) (TaskRecord, bool) { return q.ledger.Get(id) }

// Active returns a copy of the running record, if any.
func (q *Queue) Active() (TaskRecord, bool) { return q.sched.Active() }

// Status returns the current state counts.
func (q *Queue) Status() QueueStatus { return q.ledger.Status() }

// SetObserver replaces the lifecycle observer. nil disables notifications.
func (q *Queue) SetObserver(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = o
}

// Observer returns the current lifecycle observer.
func (q *Queue) Observer() Observer {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.observer
}

// SetUserData attaches an arbitrary value that work functions can read
// through Execution.UserData.
func (q *Queue) SetUserData(v any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.userData = v
}

// UserData returns the value set with SetUserData.
func (q *Queue) UserData() any {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.userData
}
