package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default queue config
	if cfg.Queue.DefaultName != "default" {
		t.Errorf("Queue.DefaultName = %q, want %q", cfg.Queue.DefaultName, "default")
	}
	if cfg.Queue.RetainFailed {
		t.Error("Queue.RetainFailed should be false by default")
	}
	if cfg.Queue.StopTimeoutSeconds != 30 {
		t.Errorf("Queue.StopTimeoutSeconds = %d, want 30", cfg.Queue.StopTimeoutSeconds)
	}

	// Verify default logging config
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.File != "" {
		t.Errorf("Logging.File = %q, want stderr (empty)", cfg.Logging.File)
	}

	// Verify default output config
	if cfg.Output.Format != "table" {
		t.Errorf("Output.Format = %q, want %q", cfg.Output.Format, "table")
	}
	if cfg.Output.Color != "auto" {
		t.Errorf("Output.Color = %q, want %q", cfg.Output.Color, "auto")
	}
}

func TestQueueConfig_StopTimeout(t *testing.T) {
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{0, 0},
		{30, 30 * time.Second},
		{90, 90 * time.Second},
	}
	for _, tt := range tests {
		cfg := &QueueConfig{StopTimeoutSeconds: tt.seconds}
		if got := cfg.StopTimeout(); got != tt.want {
			t.Errorf("StopTimeout() with %d = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestQueueConfig_ResolveDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{"empty uses data dir", "", "/custom/data/pqueue/queues"},
		{"absolute", "/var/lib/pqueue", "/var/lib/pqueue"},
		{"relative", "queues", "queues"},
		{"tilde", "~/queues", filepath.Join(home, "queues")},
		{"bare tilde", "~", home},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &QueueConfig{Dir: tt.dir}
			if got := cfg.ResolveDir(); got != tt.want {
				t.Errorf("ResolveDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/pqueue"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "pqueue"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigFile(), "/custom/config/pqueue/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := DataDir(), filepath.Join(home, ".local", "share", "pqueue", "queues"); got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
}

func TestLoad(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if *cfg != *Default() {
			t.Errorf("Load() = %+v, want defaults", cfg)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		viper.Set("queue.retain_failed", true)
		viper.Set("output.format", "yaml")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !cfg.Queue.RetainFailed || cfg.Output.Format != "yaml" {
			t.Errorf("overrides not applied: %+v", cfg)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		viper.Set("output.color", "sometimes")

		if _, err := Load(); err == nil {
			t.Error("Load should reject an invalid color mode")
		}
	})

	t.Run("config file", func(t *testing.T) {
		viper.Reset()
		SetDefaults()
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := "queue:\n  default_name: uploads\nlogging:\n  level: debug\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig: %v", err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Queue.DefaultName != "uploads" || cfg.Logging.Level != "debug" {
			t.Errorf("file values not applied: %+v", cfg)
		}
		if cfg.Output.Format != "table" {
			t.Errorf("Output.Format = %q, want default", cfg.Output.Format)
		}
	})
}
