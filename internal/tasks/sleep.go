package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Iron-Ham/pqueue/internal/taskqueue"
)

// SleepPayload configures the sleep kind.
type SleepPayload struct {
	// Duration is a time.ParseDuration string. Defaults to 1s.
	Duration string `json:"duration,omitempty"`
	// Steps splits the wait into equal slices, reporting progress after
	// each. Defaults to 10.
	Steps int `json:"steps,omitempty"`
	// Fail makes the task fail with this message once it has waited.
	Fail string `json:"fail,omitempty"`
}

const (
	defaultSleepDuration = time.Second
	defaultSleepSteps    = 10
)

func (p SleepPayload) resolve() (time.Duration, int, error) {
	d := defaultSleepDuration
	if p.Duration != "" {
		var err error
		d, err = time.ParseDuration(p.Duration)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: duration: %w", ErrInvalidPayload, err)
		}
		if d < 0 {
			return 0, 0, fmt.Errorf("%w: negative duration %s", ErrInvalidPayload, d)
		}
	}
	steps := p.Steps
	if steps == 0 {
		steps = defaultSleepSteps
	}
	if steps < 0 {
		return 0, 0, fmt.Errorf("%w: negative steps %d", ErrInvalidPayload, steps)
	}
	return d, steps, nil
}

// Sleep waits for the configured duration, reporting progress as it goes.
// It stops early when ctx is cancelled.
func Sleep(ctx context.Context, exec *taskqueue.Execution) error {
	var p SleepPayload
	if err := decode(exec.Payload(), &p); err != nil {
		return err
	}
	d, steps, err := p.resolve()
	if err != nil {
		return err
	}

	step := d / time.Duration(steps)
	timer := time.NewTimer(step)
	defer timer.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-timer.C:
		}
		if err := exec.UpdateProgress(float64(i) / float64(steps)); err != nil {
			return err
		}
		timer.Reset(step)
	}

	if p.Fail != "" {
		return errors.New(p.Fail)
	}
	return nil
}
