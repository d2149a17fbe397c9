// Package tasks provides the task kinds built into the pqueue command.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Iron-Ham/pqueue/internal/logging"
	"github.com/Iron-Ham/pqueue/internal/taskqueue"
)

// Kind names.
const (
	KindSleep = "sleep"
	KindExec  = "exec"
)

// ErrInvalidPayload is returned by work functions for payloads they cannot decode.
var ErrInvalidPayload = errors.New("invalid payload")

// Register adds the built-in kinds to k. logger receives per-task output
// from the exec kind; nil discards it.
func Register(k *taskqueue.Kinds, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := k.Register(KindSleep, Sleep); err != nil {
		return err
	}
	return k.Register(KindExec, NewExec(logger))
}

// Kinds returns a registry holding only the built-in kinds.
func Kinds(logger *logging.Logger) *taskqueue.Kinds {
	k := taskqueue.NewKinds()
	// Registration into an empty registry cannot collide.
	_ = Register(k, logger)
	return k
}

// decode unmarshals a JSON payload. An empty payload leaves v untouched.
func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}
