package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/pqueue/internal/config"
	"github.com/Iron-Ham/pqueue/internal/logging"
	"github.com/Iron-Ham/pqueue/internal/taskqueue"
	"github.com/Iron-Ham/pqueue/internal/tasks"
)

// runLockExt names the lock file held by 'pqueue run' for as long as it
// owns a queue.
const runLockExt = ".run.lock"

// errQueueBusy is returned by commands that modify a queue while a worker
// process owns it.
var errQueueBusy = errors.New("queue is owned by a running 'pqueue run'; stop it first")

// queueEnv bundles what every queue command needs.
type queueEnv struct {
	cfg    *config.Config
	logger *logging.Logger
	dir    string
	name   string
}

func loadQueueEnv() (*queueEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Logging.File, logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return &queueEnv{
		cfg:    cfg,
		logger: logger,
		dir:    cfg.Queue.ResolveDir(),
		name:   cfg.Queue.DefaultName,
	}, nil
}

func (e *queueEnv) close() {
	_ = e.logger.Close()
}

func (e *queueEnv) openQueue() (*taskqueue.Queue, error) {
	reg := taskqueue.NewRegistry(e.dir,
		taskqueue.WithLogger(e.logger),
		taskqueue.WithKinds(tasks.Kinds(e.logger)),
		taskqueue.WithRetainFailed(e.cfg.Queue.RetainFailed),
	)
	return reg.Named(e.name)
}

// ownerLock returns the lock that marks the queue as owned by a worker.
func (e *queueEnv) ownerLock() (*taskqueue.FileLock, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	return taskqueue.NewFileLock(filepath.Join(e.dir, e.name+runLockExt)), nil
}

// withExclusiveQueue opens the queue while holding its owner lock, so no
// worker process can start on it mid-change. It fails with errQueueBusy if
// a worker already owns it.
func (e *queueEnv) withExclusiveQueue(fn func(*taskqueue.Queue) error) error {
	lock, err := e.ownerLock()
	if err != nil {
		return err
	}
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock queue: %w", err)
	}
	if !acquired {
		return errQueueBusy
	}
	defer func() { _ = lock.Unlock() }()

	q, err := e.openQueue()
	if err != nil {
		return err
	}
	return fn(q)
}
