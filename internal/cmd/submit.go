package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/pqueue/internal/taskqueue"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <kind> [payload]",
	Short: "Add a task to the queue",
	Long: `Add a task of the given kind to the queue and print its id.

The payload is a JSON document interpreted by the task kind. It can be
given inline, or read from a file with --file ('-' reads stdin).

Built-in kinds:
  sleep  {"duration": "5s", "steps": 10, "fail": ""}
  exec   {"command": "make", "args": ["test"], "dir": ".", "retries": 2}

Examples:
  pqueue submit sleep '{"duration":"30s"}'
  pqueue submit exec --file job.json -q builds`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSubmit,
}

var submitPayloadFile string

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&submitPayloadFile, "file", "f", "", "read the payload from a file ('-' for stdin)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	kind := args[0]
	payload, err := readPayload(cmd, args)
	if err != nil {
		return err
	}

	env, err := loadQueueEnv()
	if err != nil {
		return err
	}
	defer env.close()

	return env.withExclusiveQueue(func(q *taskqueue.Queue) error {
		id, err := q.Submit(kind, payload)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	})
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	var payload []byte
	switch {
	case len(args) == 2 && submitPayloadFile != "":
		return nil, fmt.Errorf("give the payload inline or with --file, not both")
	case len(args) == 2:
		payload = []byte(args[1])
	case submitPayloadFile == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		payload = data
	case submitPayloadFile != "":
		data, err := os.ReadFile(submitPayloadFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		payload = data
	}

	if len(payload) > 0 && !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return payload, nil
}
