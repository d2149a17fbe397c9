package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/Iron-Ham/pqueue/internal/config"
	"github.com/Iron-Ham/pqueue/internal/logging"
	"github.com/Iron-Ham/pqueue/internal/taskqueue"
	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks in the queue",
	Long: `List the tasks recorded in the queue ledger in submission order.

The ledger is read without being modified, so list is safe to run while
'pqueue run' is executing tasks. With --watch the listing is redrawn
whenever the ledger changes.

Examples:
  pqueue list
  pqueue list --state pending,running
  pqueue list --kind 'build-*' -o json
  pqueue list --watch`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listKind   string
	listStates []string
	listWatch  bool
)

// watchDebounce coalesces the bursts of events produced by one atomic
// ledger replacement.
const watchDebounce = 100 * time.Millisecond

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("output", "o", "", "output format: table, json, yaml")
	_ = viper.BindPFlag("output.format", listCmd.Flags().Lookup("output"))

	listCmd.Flags().StringVar(&listKind, "kind", "", "only show kinds matching this glob")
	listCmd.Flags().StringSliceVar(&listStates, "state", nil, "only show tasks in these states")
	listCmd.Flags().BoolVarP(&listWatch, "watch", "w", false, "redraw whenever the ledger changes")
}

// taskFilter selects the records a listing shows.
type taskFilter struct {
	kind   glob.Glob
	states []taskqueue.TaskState
}

func newTaskFilter(kindPattern string, states []string) (*taskFilter, error) {
	f := &taskFilter{}
	if kindPattern != "" {
		g, err := glob.Compile(kindPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid --kind pattern %q: %w", kindPattern, err)
		}
		f.kind = g
	}
	for _, s := range states {
		state := taskqueue.TaskState(strings.ToLower(strings.TrimSpace(s)))
		switch state {
		case taskqueue.TaskPending, taskqueue.TaskRunning, taskqueue.TaskSucceeded,
			taskqueue.TaskFailed, taskqueue.TaskCancelled:
			f.states = append(f.states, state)
		default:
			return nil, fmt.Errorf("invalid --state %q", s)
		}
	}
	return f, nil
}

func (f *taskFilter) apply(records []taskqueue.TaskRecord) []taskqueue.TaskRecord {
	out := records[:0:0]
	for _, rec := range records {
		if f.kind != nil && !f.kind.Match(rec.Kind) {
			continue
		}
		if len(f.states) > 0 && !slices.Contains(f.states, rec.State) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func runList(cmd *cobra.Command, args []string) error {
	env, err := loadQueueEnv()
	if err != nil {
		return err
	}
	defer env.close()

	filter, err := newTaskFilter(listKind, listStates)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printer := newTaskPrinter(out, env.cfg.Output.Format, env.cfg.Output.Color)

	if !listWatch {
		return listOnce(out, env, filter, printer)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchLedger(ctx, env.dir, env.name, env.logger, func() error {
		if printer.format == config.Default().Output.Format {
			_, _ = io.WriteString(out, "\033[H\033[2J")
		}
		return listOnce(out, env, filter, printer)
	})
}

func listOnce(w io.Writer, env *queueEnv, filter *taskFilter, printer *taskPrinter) error {
	records, report, err := taskqueue.ReadSnapshot(nil, env.dir, env.name)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		env.logger.Warn("ledger has corrupt entries", "queue", env.name, "error", err.Error())
	}
	return printer.print(w, filter.apply(records))
}

// watchLedger calls render once, then again after every change to the
// ledger file of queue name in dir, until ctx is done.
func watchLedger(ctx context.Context, dir, name string, logger *logging.Logger, render func() error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// The ledger is replaced by rename, so watch the directory rather than
	// the file.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	ledgerFile := filepath.Base(taskqueue.NewStore(nil, dir, name).Path())

	if err := render(); err != nil {
		return err
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != ledgerFile {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("ledger watch error", "dir", dir, "error", err.Error())
		case <-debounce:
			debounce = nil
			if err := render(); err != nil {
				return err
			}
		}
	}
}
