package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/Iron-Ham/pqueue/internal/event"
	"github.com/Iron-Ham/pqueue/internal/taskqueue"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute queued tasks",
	Long: `Start the worker for the queue and execute pending tasks one at a time,
in submission order, printing each lifecycle event.

The worker owns the queue while it runs: submit, cancel and dismiss from
other processes are refused until it exits. On interrupt the running task
is stopped and left pending so the next run starts it again.

With --drain the worker exits once no pending or running tasks remain.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runDrain bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runDrain, "drain", false, "exit when the queue is empty")
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := loadQueueEnv()
	if err != nil {
		return err
	}
	defer env.close()

	lock, err := env.ownerLock()
	if err != nil {
		return err
	}
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock queue: %w", err)
	}
	if !acquired {
		return fmt.Errorf("queue %q is already being run by another process", env.name)
	}
	defer func() { _ = lock.Unlock() }()

	q, err := env.openQueue()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runDrain && q.Status().Idle() {
		_, _ = fmt.Fprintf(out, "Queue %s is empty.\n", q.Name())
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(event.WithLogger(env.logger))
	taskqueue.Observe(q, bus)

	var once sync.Once
	drained := make(chan struct{})
	bus.SubscribeAll(func(e event.Event) {
		printEvent(out, e)
		switch e.(type) {
		case event.TaskCompletedEvent, event.TaskCancelledEvent:
			if runDrain && q.Status().Idle() {
				once.Do(func() { close(drained) })
			}
		}
	})

	env.logger.Info("worker starting", "queue", q.Name(), "path", q.Path(), "pending", q.Status().Pending)
	_, _ = fmt.Fprintf(out, "Running queue %s (%d pending). Press Ctrl+C to stop.\n", q.Name(), q.Status().Pending)
	q.Start()

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(out, "Stopping...")
	case <-drained:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), env.cfg.Queue.StopTimeout())
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		return fmt.Errorf("worker did not stop within %s: %w", env.cfg.Queue.StopTimeout(), err)
	}

	status := q.Status()
	env.logger.Info("worker stopped", "queue", q.Name(), "pending", status.Pending, "failed", status.Failed)
	_, _ = fmt.Fprintf(out, "Stopped. %d pending, %d failed.\n", status.Pending, status.Failed)
	return nil
}

// printEvent writes one line describing a queue event.
func printEvent(w io.Writer, e event.Event) {
	var line string
	switch ev := e.(type) {
	case event.TaskBeganEvent:
		line = fmt.Sprintf("task %d (%s) started, attempt %d", ev.TaskID, ev.Kind, ev.Attempt)
	case event.TaskProgressEvent:
		line = fmt.Sprintf("task %d progress %3.0f%%", ev.TaskID, ev.Progress*100)
	case event.TaskCompletedEvent:
		if ev.Success {
			line = fmt.Sprintf("task %d succeeded", ev.TaskID)
		} else {
			line = fmt.Sprintf("task %d failed", ev.TaskID)
		}
	case event.TaskCancelledEvent:
		line = fmt.Sprintf("task %d cancelled", ev.TaskID)
	default:
		return
	}
	ts := e.Timestamp().Local().Format("15:04:05")
	_, _ = fmt.Fprintln(w, strings.Join([]string{ts, line}, " "))
}
