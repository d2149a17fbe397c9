package taskqueue

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// WorkFunc executes one attempt of a task.
//
// ctx is cancelled when the task is cancelled (cause ErrTaskCancelled) or the
// queue is stopped (cause ErrQueueStopped); the function is expected to
// notice and return promptly. Returning nil reports success. Returning an
// error reports failure, which becomes a retry if exec.RequestRetry was
// called during the attempt.
type WorkFunc func(ctx context.Context, exec *Execution) error

// Kinds maps task kind names to the work functions that execute them.
// It is safe for concurrent use.
type Kinds struct {
	mu    sync.RWMutex
	funcs map[string]WorkFunc
}

// NewKinds creates an empty kind registry.
func NewKinds() *Kinds {
	return &Kinds{funcs: make(map[string]WorkFunc)}
}

// Register associates name with fn. Registering a name twice fails with
// ErrKindRegistered.
func (k *Kinds) Register(name string, fn WorkFunc) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownKind)
	}
	if fn == nil {
		return fmt.Errorf("kind %q: nil work function", name)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.funcs[name]; ok {
		return fmt.Errorf("%w: %s", ErrKindRegistered, name)
	}
	k.funcs[name] = fn
	return nil
}

// Lookup returns the work function registered for name.
func (k *Kinds) Lookup(name string) (WorkFunc, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	fn, ok := k.funcs[name]
	return fn, ok
}

// Names returns the registered kind names in sorted order.
func (k *Kinds) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	names := make([]string, 0, len(k.funcs))
	for name := range k.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
