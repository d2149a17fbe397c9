package taskqueue

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock provides cross-process mutual exclusion using flock(2).
// The ledger store holds it while reading or replacing the ledger file, and
// the CLI uses a second one to mark a queue as owned by a running worker.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a FileLock backed by the file at path. The file is
// created on first Lock or TryLock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires an exclusive lock, blocking until it is available.
func (fl *FileLock) Lock() error {
	return fl.acquire(unix.LOCK_EX)
}

// TryLock attempts to acquire the lock without blocking.
// Returns false if another holder has it.
func (fl *FileLock) TryLock() (bool, error) {
	err := fl.acquire(unix.LOCK_EX | unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (fl *FileLock) acquire(how int) error {
	if fl.file != nil {
		return fmt.Errorf("lock %s already held", fl.path)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// Unlock releases the lock and closes the lock file. Unlocking a lock that
// is not held is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}
