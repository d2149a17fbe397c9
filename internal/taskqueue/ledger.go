package taskqueue

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/pqueue/internal/logging"
)

// LoadReport describes what Ledger.Load found in durable storage.
type LoadReport struct {
	// Loaded is the number of records kept.
	Loaded int

	// Recovered lists records found running at load time. They did not
	// survive the previous process and were reset to pending.
	Recovered []int64

	// Corrupt holds one error per dropped entry; each wraps ErrCorruptRecord.
	Corrupt []error
}

// Err joins the corrupt-entry diagnostics, or returns nil if there were none.
func (r LoadReport) Err() error {
	return errors.Join(r.Corrupt...)
}

// Ledger is the durable, ordered store of task records for one queue.
//
// The in-memory sequence is the source of truth while the process runs.
// Every mutation is flushed to the Store before it returns; if the flush
// fails the mutation is rolled back and an error wrapping ErrPersistence is
// returned, so memory never runs ahead of disk.
// All methods are safe for concurrent use via an internal mutex.
type Ledger struct {
	mu      sync.Mutex
	store   *Store
	logger  *logging.Logger
	records []*TaskRecord // submission order
	nextID  int64
	loaded  bool
}

// NewLedger creates a Ledger backed by store. Call Load before mutating it.
func NewLedger(store *Store, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Ledger{
		store:  store,
		logger: logger,
		nextID: 1,
	}
}

// Load reads durable storage and replaces the in-memory sequence with it.
// A missing ledger file yields an empty ledger. Corrupt entries are dropped
// and reported, not fatal. Records left running by a previous process are
// reset to pending. If anything was dropped or reset, the cleaned ledger is
// written back immediately.
func (l *Ledger) Load() (LoadReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.store.read()
	if err != nil {
		return LoadReport{}, fmt.Errorf("load ledger: %w", err)
	}

	report := LoadReport{Corrupt: snap.corrupt}
	for _, cerr := range snap.corrupt {
		l.logger.Warn("dropped corrupt ledger entry",
			"path", l.store.Path(),
			"error", cerr.Error(),
		)
	}
	for _, rec := range snap.records {
		if rec.State == TaskRunning {
			rec.resetToPending()
			report.Recovered = append(report.Recovered, rec.ID)
			l.logger.Info("reset interrupted task to pending", "task_id", rec.ID, "attempts", rec.Attempts)
		}
	}
	report.Loaded = len(snap.records)

	prevRecords, prevNext, prevLoaded := l.records, l.nextID, l.loaded
	l.records = snap.records
	l.nextID = snap.nextID
	l.loaded = true

	if len(report.Corrupt) > 0 || len(report.Recovered) > 0 {
		if err := l.persistLocked(); err != nil {
			l.records, l.nextID, l.loaded = prevRecords, prevNext, prevLoaded
			return report, err
		}
	}

	l.logger.Debug("ledger loaded",
		"path", l.store.Path(),
		"records", report.Loaded,
		"next_id", l.nextID,
	)
	return report, nil
}

// Append assigns the next id to a new pending record, appends it at the
// tail and persists. The id is only consumed if the write succeeds.
func (l *Ledger) Append(kind string, payload []byte) (TaskRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return TaskRecord{}, ErrNotLoaded
	}

	rec := &TaskRecord{
		ID:          l.nextID,
		Kind:        kind,
		State:       TaskPending,
		Payload:     slices.Clone(payload),
		SubmittedAt: time.Now(),
	}
	l.records = append(l.records, rec)
	l.nextID++

	if err := l.persistLocked(); err != nil {
		l.records = l.records[:len(l.records)-1]
		l.nextID--
		return TaskRecord{}, err
	}
	return rec.clone(), nil
}

// Remove deletes the record with the given id and persists.
func (l *Ledger) Remove(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return l.removeLocked(idx)
}

// Update applies mutate to the record with the given id and persists.
// If mutate returns an error the record is left untouched and nothing is
// written. Returns a copy of the updated record.
func (l *Ledger) Update(id int64, mutate func(*TaskRecord) error) (TaskRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return TaskRecord{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	rec := l.records[idx]
	before := rec.clone()

	if err := mutate(rec); err != nil {
		*rec = before
		return TaskRecord{}, err
	}
	if err := l.persistLocked(); err != nil {
		*rec = before
		return TaskRecord{}, err
	}
	return rec.clone(), nil
}

// Retire applies a final mutation to the record and removes it in a single
// write. Returns a copy of the record as it was when removed.
func (l *Ledger) Retire(id int64, mutate func(*TaskRecord) error) (TaskRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return TaskRecord{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	rec := l.records[idx]
	before := rec.clone()

	if err := mutate(rec); err != nil {
		*rec = before
		return TaskRecord{}, err
	}
	final := rec.clone()
	if err := l.removeLocked(idx); err != nil {
		*rec = before
		return TaskRecord{}, err
	}
	return final, nil
}

// HeadPending returns the earliest-submitted pending record.
func (l *Ledger) HeadPending() (TaskRecord, bool) {
	return l.head(TaskPending)
}

// HeadRunning returns the earliest-submitted running record.
func (l *Ledger) HeadRunning() (TaskRecord, bool) {
	return l.head(TaskRunning)
}

func (l *Ledger) head(state TaskState) (TaskRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range l.records {
		if rec.State == state {
			return rec.clone(), true
		}
	}
	return TaskRecord{}, false
}

// Get returns a copy of the record with the given id.
func (l *Ledger) Get(id int64) (TaskRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(id)
	if idx < 0 {
		return TaskRecord{}, false
	}
	return l.records[idx].clone(), true
}

// All returns copies of every record in submission order.
func (l *Ledger) All() []TaskRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TaskRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.clone())
	}
	return out
}

// Len returns the number of records in the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Status returns a snapshot of the current state counts.
func (l *Ledger) Status() QueueStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := QueueStatus{Total: len(l.records)}
	for _, rec := range l.records {
		switch rec.State {
		case TaskPending:
			s.Pending++
		case TaskRunning:
			s.Running++
		case TaskFailed:
			s.Failed++
		}
	}
	return s
}

// NextID returns the id the next appended record will receive.
func (l *Ledger) NextID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.store.Path()
}

// indexLocked returns the position of id in the sequence, or -1.
// Records are kept in increasing id order, so a binary search suffices.
func (l *Ledger) indexLocked(id int64) int {
	idx, found := slices.BinarySearchFunc(l.records, id, func(r *TaskRecord, id int64) int {
		switch {
		case r.ID < id:
			return -1
		case r.ID > id:
			return 1
		}
		return 0
	})
	if !found {
		return -1
	}
	return idx
}

func (l *Ledger) removeLocked(idx int) error {
	if !l.loaded {
		return ErrNotLoaded
	}
	removed := l.records[idx]
	l.records = slices.Delete(l.records, idx, idx+1)
	if err := l.persistLocked(); err != nil {
		l.records = slices.Insert(l.records, idx, removed)
		return err
	}
	return nil
}

func (l *Ledger) persistLocked() error {
	if err := l.store.write(l.nextID, l.records); err != nil {
		l.logger.Error("ledger write failed", "path", l.store.Path(), "error", err.Error())
		return err
	}
	return nil
}
