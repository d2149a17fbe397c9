package tasks

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/pqueue/internal/taskqueue"
)

const testTimeout = 10 * time.Second

// run records the notifications of a single task.
type run struct {
	mu       sync.Mutex
	begins   int
	progress []float64
	done     chan string // "succeeded", "failed" or "cancelled"
	began    chan struct{}
}

func (r *run) observer() taskqueue.Observer {
	return taskqueue.ObserverFuncs{
		Begin: func(taskqueue.TaskRecord) {
			r.mu.Lock()
			r.begins++
			r.mu.Unlock()
			select {
			case r.began <- struct{}{}:
			default:
			}
		},
		Progress: func(_ int64, p float64) {
			r.mu.Lock()
			r.progress = append(r.progress, p)
			r.mu.Unlock()
		},
		Complete: func(_ int64, success bool) {
			if success {
				r.done <- "succeeded"
			} else {
				r.done <- "failed"
			}
		},
		Cancel: func(int64) { r.done <- "cancelled" },
	}
}

func (r *run) wait(t *testing.T) string {
	t.Helper()
	select {
	case outcome := <-r.done:
		return outcome
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for task outcome")
		return ""
	}
}

func startQueue(t *testing.T) (*taskqueue.Queue, *run) {
	t.Helper()
	r := &run{done: make(chan string, 1), began: make(chan struct{}, 8)}
	q, _, err := taskqueue.Open("/q", "default",
		taskqueue.WithFs(afero.NewMemMapFs()),
		taskqueue.WithKinds(Kinds(nil)),
		taskqueue.WithObserver(r.observer()),
		taskqueue.WithRetainFailed(true),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q, r
}

func submit(t *testing.T, q *taskqueue.Queue, kind string, payload any) int64 {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	id, err := q.Submit(kind, data)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func TestKinds(t *testing.T) {
	names := Kinds(nil).Names()
	if len(names) != 2 || names[0] != KindExec || names[1] != KindSleep {
		t.Errorf("Names() = %v", names)
	}
	if err := Register(Kinds(nil), nil); err == nil {
		t.Error("registering the built-ins twice should fail")
	}
}

func TestSleep_ReportsProgress(t *testing.T) {
	q, r := startQueue(t)
	submit(t, q, KindSleep, SleepPayload{Duration: "20ms", Steps: 4})

	if got := r.wait(t); got != "succeeded" {
		t.Fatalf("outcome = %s, want succeeded", got)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	want := []float64{0.25, 0.5, 0.75, 1}
	if len(r.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", r.progress, want)
	}
	for i := range want {
		if r.progress[i] != want[i] {
			t.Errorf("progress = %v, want %v", r.progress, want)
		}
	}
}

func TestSleep_Fail(t *testing.T) {
	q, r := startQueue(t)
	id := submit(t, q, KindSleep, SleepPayload{Duration: "1ms", Steps: 1, Fail: "boom"})

	if got := r.wait(t); got != "failed" {
		t.Fatalf("outcome = %s, want failed", got)
	}
	rec, _ := q.Get(id)
	if rec.Error != "boom" {
		t.Errorf("Error = %q, want boom", rec.Error)
	}
}

func TestSleep_InvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"duration":`},
		{"bad duration", `{"duration":"soon"}`},
		{"negative duration", `{"duration":"-1s"}`},
		{"negative steps", `{"steps":-2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, r := startQueue(t)
			id, err := q.Submit(KindSleep, []byte(tt.payload))
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if got := r.wait(t); got != "failed" {
				t.Fatalf("outcome = %s, want failed", got)
			}
			rec, _ := q.Get(id)
			if !strings.Contains(rec.Error, ErrInvalidPayload.Error()) {
				t.Errorf("Error = %q, want it to mention %q", rec.Error, ErrInvalidPayload)
			}
		})
	}
}

func TestSleep_Cancel(t *testing.T) {
	q, r := startQueue(t)
	id := submit(t, q, KindSleep, SleepPayload{Duration: "1h", Steps: 1})

	select {
	case <-r.began:
	case <-time.After(testTimeout):
		t.Fatal("task did not start")
	}
	if err := q.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := r.wait(t); got != "cancelled" {
		t.Errorf("outcome = %s, want cancelled", got)
	}
}

func TestExec_Success(t *testing.T) {
	q, r := startQueue(t)
	submit(t, q, KindExec, ExecPayload{Command: "true"})

	if got := r.wait(t); got != "succeeded" {
		t.Fatalf("outcome = %s, want succeeded", got)
	}
}

func TestExec_RetriesThenFails(t *testing.T) {
	q, r := startQueue(t)
	id := submit(t, q, KindExec, ExecPayload{Command: "sh", Args: []string{"-c", "echo nope; exit 3"}, Retries: 2})

	if got := r.wait(t); got != "failed" {
		t.Fatalf("outcome = %s, want failed", got)
	}
	r.mu.Lock()
	begins := r.begins
	r.mu.Unlock()
	if begins != 3 {
		t.Errorf("begins = %d, want 3 (1 attempt + 2 retries)", begins)
	}
	rec, _ := q.Get(id)
	if rec.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", rec.Attempts)
	}
	if !strings.Contains(rec.Error, "exit status 3") || !strings.Contains(rec.Error, "nope") {
		t.Errorf("Error = %q", rec.Error)
	}
}

func TestExec_MissingBinaryIsNotRetried(t *testing.T) {
	q, r := startQueue(t)
	id := submit(t, q, KindExec, ExecPayload{Command: "pqueue-no-such-binary", Retries: 5})

	if got := r.wait(t); got != "failed" {
		t.Fatalf("outcome = %s, want failed", got)
	}
	rec, _ := q.Get(id)
	if rec.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", rec.Attempts)
	}
}

func TestExec_MissingCommand(t *testing.T) {
	q, r := startQueue(t)
	id := submit(t, q, KindExec, ExecPayload{})

	if got := r.wait(t); got != "failed" {
		t.Fatalf("outcome = %s, want failed", got)
	}
	rec, _ := q.Get(id)
	if !strings.Contains(rec.Error, "missing command") {
		t.Errorf("Error = %q", rec.Error)
	}
}

func TestOutputSuffix(t *testing.T) {
	if got := outputSuffix([]byte("  \n")); got != "" {
		t.Errorf("blank output suffix = %q", got)
	}
	if got := outputSuffix([]byte("oops\n")); got != "\noutput: oops" {
		t.Errorf("suffix = %q", got)
	}
	long := strings.Repeat("x", maxOutputInError+100)
	got := outputSuffix([]byte(long))
	if !strings.HasPrefix(got, "\noutput: ...") || len(got) != len("\noutput: ...")+maxOutputInError {
		t.Errorf("long output not truncated: %d bytes", len(got))
	}
}
