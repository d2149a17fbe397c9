package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Iron-Ham/pqueue/internal/taskqueue"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>...",
	Short: "Cancel pending tasks",
	Long: `Remove pending tasks from the queue.

Running tasks can only be cancelled by the process executing them, so
cancel refuses to touch a queue that 'pqueue run' currently owns.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCancel,
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <id>...",
	Short: "Remove retained failed tasks",
	Long: `Remove failed tasks kept in the ledger because queue.retain_failed is set.
Only failed tasks can be dismissed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDismiss,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(dismissCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	return forEachTask(cmd, args, "cancelled", (*taskqueue.Queue).Cancel)
}

func runDismiss(cmd *cobra.Command, args []string) error {
	return forEachTask(cmd, args, "dismissed", (*taskqueue.Queue).Dismiss)
}

// forEachTask applies op to every id in args, reporting each success and
// joining the failures.
func forEachTask(cmd *cobra.Command, args []string, verb string, op func(*taskqueue.Queue, int64) error) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	env, err := loadQueueEnv()
	if err != nil {
		return err
	}
	defer env.close()

	return env.withExclusiveQueue(func(q *taskqueue.Queue) error {
		var errs []error
		for _, id := range ids {
			if err := op(q, id); err != nil {
				errs = append(errs, fmt.Errorf("task %d: %w", id, err))
				continue
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", verb, id)
		}
		return errors.Join(errs...)
	})
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid task id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
