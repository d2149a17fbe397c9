package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete pqueue configuration
type Config struct {
	Queue   QueueConfig   `mapstructure:"queue"`
	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
}

// QueueConfig controls where ledgers live and how queues behave
type QueueConfig struct {
	// Dir is the directory holding one ledger file per queue.
	// Supports ~ expansion. Empty means DataDir().
	Dir string `mapstructure:"dir"`
	// DefaultName is the queue used when --queue is not given (default: "default")
	DefaultName string `mapstructure:"default_name"`
	// RetainFailed keeps failed tasks in the ledger until dismissed (default: false)
	RetainFailed bool `mapstructure:"retain_failed"`
	// StopTimeoutSeconds is how long `pqueue run` waits for the running task
	// to return after an interrupt before giving up (default: 30)
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
}

// LoggingConfig controls the structured log output
type LoggingConfig struct {
	// Level is the minimum level written: debug, info, warn, error (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path. Empty logs to stderr.
	File string `mapstructure:"file"`
}

// OutputConfig controls how commands print results
type OutputConfig struct {
	// Format is the listing format: table, json, yaml (default: "table")
	Format string `mapstructure:"format"`
	// Color controls styling: auto, always, never (default: "auto")
	Color string `mapstructure:"color"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Dir:                "",
			DefaultName:        "default",
			RetainFailed:       false,
			StopTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Output: OutputConfig{
			Format: "table",
			Color:  "auto",
		},
	}
}

// StopTimeout returns the stop timeout as a time.Duration
func (c *QueueConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// ResolveDir returns the ledger directory with ~ expanded.
// An empty Dir resolves to DataDir().
func (c *QueueConfig) ResolveDir() string {
	if c.Dir == "" {
		return DataDir()
	}
	return expandHome(c.Dir)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Queue defaults
	viper.SetDefault("queue.dir", defaults.Queue.Dir)
	viper.SetDefault("queue.default_name", defaults.Queue.DefaultName)
	viper.SetDefault("queue.retain_failed", defaults.Queue.RetainFailed)
	viper.SetDefault("queue.stop_timeout_seconds", defaults.Queue.StopTimeoutSeconds)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)

	// Output defaults
	viper.SetDefault("output.format", defaults.Output.Format)
	viper.SetDefault("output.color", defaults.Output.Color)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pqueue")
	}
	// Fall back to ~/.config/pqueue
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pqueue"
	}
	return filepath.Join(home, ".config", "pqueue")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the default directory for queue ledgers
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pqueue", "queues")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pqueue", "queues")
	}
	return filepath.Join(home, ".local", "share", "pqueue", "queues")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
