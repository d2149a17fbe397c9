package tasks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/pqueue/internal/logging"
	"github.com/Iron-Ham/pqueue/internal/taskqueue"
)

// ExecPayload configures the exec kind.
type ExecPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	// Retries is how many extra attempts a failing command gets.
	Retries int `json:"retries,omitempty"`
}

// maxOutputInError caps how much command output is kept in a failure message.
const maxOutputInError = 512

// NewExec returns the exec work function. Command output is logged at
// debug level.
func NewExec(logger *logging.Logger) taskqueue.WorkFunc {
	return func(ctx context.Context, te *taskqueue.Execution) error {
		var p ExecPayload
		if err := decode(te.Payload(), &p); err != nil {
			return err
		}
		if p.Command == "" {
			return fmt.Errorf("%w: missing command", ErrInvalidPayload)
		}

		log := logger.WithTask(te.ID()).With("command", p.Command, "attempt", te.Attempt())

		cmd := exec.CommandContext(ctx, p.Command, p.Args...)
		cmd.Dir = p.Dir
		output, err := cmd.CombinedOutput()
		log.Debug("command finished", "output", string(output))

		if err == nil {
			return te.UpdateProgress(1)
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		var notFound *exec.Error
		if te.Attempt() <= p.Retries && !errors.As(err, &notFound) {
			if rerr := te.RequestRetry(); rerr != nil {
				log.Warn("could not request retry", "error", rerr.Error())
			}
		}
		return fmt.Errorf("%s: %w%s", p.Command, err, outputSuffix(output))
	}
}

func outputSuffix(output []byte) string {
	out := strings.TrimSpace(string(output))
	if out == "" {
		return ""
	}
	if len(out) > maxOutputInError {
		out = "..." + out[len(out)-maxOutputInError:]
	}
	return "\noutput: " + out
}
