package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/pqueue/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View pqueue configuration",
	Long: `View pqueue configuration.

Without arguments, displays the current configuration.
Use subcommands to locate or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/pqueue/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// configView is the YAML layout printed by 'config show'.
type configView struct {
	Queue struct {
		Dir                string `yaml:"dir"`
		DefaultName        string `yaml:"default_name"`
		RetainFailed       bool   `yaml:"retain_failed"`
		StopTimeoutSeconds int    `yaml:"stop_timeout_seconds"`
	} `yaml:"queue"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Output struct {
		Format string `yaml:"format"`
		Color  string `yaml:"color"`
	} `yaml:"output"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	_, _ = fmt.Fprintf(out, "# Ledger directory: %s\n", cfg.Queue.ResolveDir())

	var v configView
	v.Queue.Dir = cfg.Queue.Dir
	v.Queue.DefaultName = cfg.Queue.DefaultName
	v.Queue.RetainFailed = cfg.Queue.RetainFailed
	v.Queue.StopTimeoutSeconds = cfg.Queue.StopTimeoutSeconds
	v.Logging.Level = cfg.Logging.Level
	v.Logging.File = cfg.Logging.File
	v.Output.Format = cfg.Output.Format
	v.Output.Color = cfg.Output.Color

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}

const defaultConfigContent = `# pqueue configuration

queue:
  # Directory holding one <name>.jsonl ledger per queue.
  # Empty uses $XDG_DATA_HOME/pqueue/queues (or ~/.local/share/pqueue/queues)
  dir: ""
  # Queue used when --queue is not given
  default_name: default
  # Keep failed tasks in the ledger until 'pqueue dismiss' removes them
  retain_failed: false
  # How long 'pqueue run' waits for the running task after an interrupt
  stop_timeout_seconds: 30

logging:
  # debug, info, warn, error
  level: info
  # Log file path; empty logs to stderr
  file: ""

output:
  # Listing format: table, json, yaml
  format: table
  # auto, always, never
  color: auto
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	_, _ = fmt.Fprintln(out, "\nSearch paths:")
	_, _ = fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	_, _ = fmt.Fprintln(out, "  2. $HOME/.config/pqueue/config.yaml")
	_, _ = fmt.Fprintln(out, "  3. ./config.yaml (current directory)")
	_, _ = fmt.Fprintln(out, "\nEnvironment variables: PQUEUE_* (e.g., PQUEUE_QUEUE_RETAIN_FAILED)")
	return nil
}
