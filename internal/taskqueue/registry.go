package taskqueue

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"
)

// DefaultQueueName is the name of the queue returned by Registry.Default.
const DefaultQueueName = "default"

var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidQueueName reports whether name can be used as a queue name. Names
// become file names, so they are limited to letters, digits, dot,
// underscore and dash, and cannot start with a dot or dash.
func ValidQueueName(name string) bool {
	return len(name) <= 128 && queueNamePattern.MatchString(name)
}

// Registry hands out one Queue per name, all sharing a directory and
// options. Queues are created and loaded on first request and are never
// started automatically.
type Registry struct {
	dir  string
	opts []Option

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewRegistry creates a registry whose queues keep their ledgers in dir.
func NewRegistry(dir string, opts ...Option) *Registry {
	return &Registry{
		dir:    dir,
		opts:   opts,
		queues: make(map[string]*Queue),
	}
}

// Dir returns the ledger directory.
func (r *Registry) Dir() string { return r.dir }

// Default returns the queue named DefaultQueueName.
func (r *Registry) Default() (*Queue, error) {
	return r.Named(DefaultQueueName)
}

// Named returns the queue with the given name, creating and loading it on
// first use. Corrupt ledger entries do not fail the call; they are logged
// by the queue.
func (r *Registry) Named(name string) (*Queue, error) {
	if !ValidQueueName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQueueName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	q, _, err := Open(r.dir, name, r.opts...)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", name, err)
	}
	r.queues[name] = q
	return q, nil
}

// Names returns the names of the queues created so far, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var (
	processMu       sync.Mutex
	processRegistry *Registry
)

// Configure sets up the process-wide registry used by the package-level
// Default and Named. It fails if queues have already been handed out from
// a previous configuration.
func Configure(dir string, opts ...Option) error {
	processMu.Lock()
	defer processMu.Unlock()

	if processRegistry != nil && len(processRegistry.Names()) > 0 {
		return fmt.Errorf("queue registry already in use for %s", processRegistry.Dir())
	}
	processRegistry = NewRegistry(dir, opts...)
	return nil
}

// Default returns the default queue of the process-wide registry.
func Default() (*Queue, error) {
	return Named(DefaultQueueName)
}

// Named returns a queue from the process-wide registry. Configure must have
// been called first.
func Named(name string) (*Queue, error) {
	processMu.Lock()
	reg := processRegistry
	processMu.Unlock()

	if reg == nil {
		return nil, errors.New("queue registry not configured")
	}
	return reg.Named(name)
}
