package taskqueue

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
)

// flakyFs fails every file open while fail is set and counts the failures.
type flakyFs struct {
	afero.Fs
	fail     atomic.Bool
	failures atomic.Int64
}

func (f *flakyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.fail.Load() {
		f.failures.Add(1)
		return nil, errors.New("disk full")
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func newTestLedger(t *testing.T, fsys afero.Fs) *Ledger {
	t.Helper()
	l := NewLedger(NewStore(fsys, "/q", "default"), nil)
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return l
}

func TestLedger_NotLoaded(t *testing.T) {
	l := NewLedger(NewStore(afero.NewMemMapFs(), "/q", "default"), nil)
	if _, err := l.Append("sleep", nil); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Append before Load: err = %v, want ErrNotLoaded", err)
	}
}

func TestLedger_AppendAssignsIncreasingIDs(t *testing.T) {
	l := newTestLedger(t, afero.NewMemMapFs())

	for want := int64(1); want <= 3; want++ {
		rec, err := l.Append("sleep", []byte("x"))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if rec.ID != want {
			t.Errorf("ID = %d, want %d", rec.ID, want)
		}
		if rec.State != TaskPending {
			t.Errorf("State = %s, want pending", rec.State)
		}
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
}

func TestLedger_AppendCopiesPayload(t *testing.T) {
	l := newTestLedger(t, afero.NewMemMapFs())
	payload := []byte("abc")
	rec, _ := l.Append("sleep", payload)
	payload[0] = 'z'

	got, _ := l.Get(rec.ID)
	if string(got.Payload) != "abc" {
		t.Errorf("payload = %q, ledger should own its copy", got.Payload)
	}
}

func TestLedger_ReloadReproducesState(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l := newTestLedger(t, fsys)

	a, _ := l.Append("sleep", []byte("a"))
	b, _ := l.Append("exec", []byte("b"))
	_, _ = l.Append("sleep", nil)
	if _, err := l.Update(b.ID, func(r *TaskRecord) error {
		r.State = TaskFailed
		r.Error = "boom"
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := l.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	reloaded := newTestLedger(t, fsys)
	got := reloaded.All()
	if len(got) != 2 {
		t.Fatalf("reloaded %d records, want 2", len(got))
	}
	if got[0].ID != 2 || got[0].State != TaskFailed || got[0].Error != "boom" {
		t.Errorf("record 0 = %+v", got[0])
	}
	if got[1].ID != 3 || got[1].State != TaskPending {
		t.Errorf("record 1 = %+v", got[1])
	}
}

func TestLedger_IDsNeverReused(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l := newTestLedger(t, fsys)

	_, _ = l.Append("sleep", nil)
	tail, _ := l.Append("sleep", nil)
	if err := l.Remove(tail.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	reloaded := newTestLedger(t, fsys)
	rec, err := reloaded.Append("sleep", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.ID != 3 {
		t.Errorf("ID after removing tail and reloading = %d, want 3", rec.ID)
	}
}

func TestLedger_LoadResetsRunning(t *testing.T) {
	fsys := afero.NewMemMapFs()
	l := newTestLedger(t, fsys)

	rec, _ := l.Append("sleep", nil)
	_, _ = l.Append("sleep", nil)
	if _, err := l.Update(rec.ID, func(r *TaskRecord) error {
		if err := r.begin(r.SubmittedAt); err != nil {
			return err
		}
		_, err := r.UpdateProgress(0.4)
		return err
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded := NewLedger(NewStore(fsys, "/q", "default"), nil)
	report, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(report.Recovered) != 1 || report.Recovered[0] != rec.ID {
		t.Errorf("Recovered = %v, want [%d]", report.Recovered, rec.ID)
	}
	got, _ := reloaded.Get(rec.ID)
	if got.State != TaskPending {
		t.Errorf("State = %s, want pending", got.State)
	}
	if got.Progress != 0 {
		t.Errorf("Progress = %v, want 0 for a reset record", got.Progress)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}

	// The reset was written back.
	again := newTestLedger(t, fsys)
	got, _ = again.Get(rec.ID)
	if got.State != TaskPending {
		t.Errorf("State after second load = %s, want pending", got.State)
	}
}

func TestLedger_LoadDropsCorrupt(t *testing.T) {
	fsys := afero.NewMemMapFs()
	data := "{\"version\":1,\"next_id\":4}\n" +
		"{\"id\":1,\"kind\":\"sleep\",\"state\":\"pending\"}\n" +
		"{\"id\":2,\"kind\":\n" +
		"{\"id\":3,\"kind\":\"sleep\",\"state\":\"pending\"}\n"
	if err := fsys.MkdirAll("/q", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fsys, "/q/default.jsonl", []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(NewStore(fsys, "/q", "default"), nil)
	report, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.Loaded != 2 {
		t.Errorf("Loaded = %d, want 2", report.Loaded)
	}
	if !errors.Is(report.Err(), ErrCorruptRecord) {
		t.Errorf("report.Err() = %v, want ErrCorruptRecord", report.Err())
	}
	if l.NextID() != 4 {
		t.Errorf("NextID() = %d, want 4", l.NextID())
	}

	// The cleaned ledger was written back, so a second load is clean.
	clean := NewLedger(NewStore(fsys, "/q", "default"), nil)
	report, err = clean.Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if report.Err() != nil {
		t.Errorf("second load still reports corruption: %v", report.Err())
	}
}

func TestLedger_RemoveUnknown(t *testing.T) {
	l := newTestLedger(t, afero.NewMemMapFs())
	if err := l.Remove(42); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
	if _, err := l.Update(42, func(*TaskRecord) error { return nil }); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Update err = %v, want ErrTaskNotFound", err)
	}
}

func TestLedger_UpdateMutatorErrorLeavesRecord(t *testing.T) {
	l := newTestLedger(t, afero.NewMemMapFs())
	rec, _ := l.Append("sleep", nil)

	_, err := l.Update(rec.ID, func(r *TaskRecord) error {
		r.Progress = 0.9
		return r.MarkComplete()
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	got, _ := l.Get(rec.ID)
	if got.Progress != 0 || got.State != TaskPending {
		t.Errorf("record changed despite mutator error: %+v", got)
	}
}

func TestLedger_Retire(t *testing.T) {
	l := newTestLedger(t, afero.NewMemMapFs())
	rec, _ := l.Append("sleep", nil)
	_, _ = l.Update(rec.ID, func(r *TaskRecord) error { return r.begin(r.SubmittedAt) })

	final, err := l.Retire(rec.ID, (*TaskRecord).MarkComplete)
	if err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if final.State != TaskSucceeded {
		t.Errorf("final State = %s, want succeeded", final.State)
	}
	if _, ok := l.Get(rec.ID); ok {
		t.Error("retired record should be gone")
	}
}

func TestLedger_PersistFailureRollsBack(t *testing.T) {
	fsys := &flakyFs{Fs: afero.NewMemMapFs()}
	l := newTestLedger(t, fsys)
	rec, err := l.Append("sleep", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	fsys.fail.Store(true)

	if _, err := l.Append("sleep", nil); !errors.Is(err, ErrPersistence) {
		t.Errorf("Append err = %v, want ErrPersistence", err)
	}
	if l.Len() != 1 || l.NextID() != 2 {
		t.Errorf("Len = %d, NextID = %d after failed append; want 1, 2", l.Len(), l.NextID())
	}

	if _, err := l.Update(rec.ID, func(r *TaskRecord) error { return r.begin(r.SubmittedAt) }); !errors.Is(err, ErrPersistence) {
		t.Errorf("Update err = %v, want ErrPersistence", err)
	}
	if got, _ := l.Get(rec.ID); got.State != TaskPending {
		t.Errorf("State = %s after failed update, want pending", got.State)
	}

	if err := l.Remove(rec.ID); !errors.Is(err, ErrPersistence) {
		t.Errorf("Remove err = %v, want ErrPersistence", err)
	}
	if _, ok := l.Get(rec.ID); !ok {
		t.Error("record should survive a failed remove")
	}

	fsys.fail.Store(false)
	next, err := l.Append("sleep", nil)
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if next.ID != 2 {
		t.Errorf("ID = %d, want 2 (failed append must not consume an id)", next.ID)
	}
}

func TestLedger_HeadPendingAndStatus(t *testing.T) {
	l := newTestLedger(t, afero.NewMemMapFs())
	if _, ok := l.HeadPending(); ok {
		t.Error("empty ledger has no head")
	}
	if _, ok := l.HeadRunning(); ok {
		t.Error("empty ledger has no running record")
	}

	a, _ := l.Append("sleep", nil)
	b, _ := l.Append("sleep", nil)
	_, _ = l.Append("sleep", nil)
	_, _ = l.Update(a.ID, func(r *TaskRecord) error { return r.begin(r.SubmittedAt) })

	head, ok := l.HeadPending()
	if !ok || head.ID != b.ID {
		t.Errorf("HeadPending = %d, %v; want %d", head.ID, ok, b.ID)
	}
	running, ok := l.HeadRunning()
	if !ok || running.ID != a.ID {
		t.Errorf("HeadRunning = %d, %v; want %d", running.ID, ok, a.ID)
	}

	s := l.Status()
	if s.Total != 3 || s.Running != 1 || s.Pending != 2 {
		t.Errorf("Status = %+v", s)
	}
}

func TestLedger_ConcurrentAppend(t *testing.T) {
	l := newTestLedger(t, afero.NewMemMapFs())

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			if _, err := l.Append("sleep", nil); err != nil {
				t.Errorf("Append: %v", err)
			}
		})
	}
	wg.Wait()

	all := l.All()
	if len(all) != 20 {
		t.Fatalf("got %d records, want 20", len(all))
	}
	for i, rec := range all {
		if rec.ID != int64(i+1) {
			t.Errorf("all[%d].ID = %d, want %d", i, rec.ID, i+1)
		}
	}
}
