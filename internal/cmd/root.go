package cmd

import (
	"strings"

	"github.com/Iron-Ham/pqueue/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "pqueue",
	Short: "Durable single-consumer task queue",
	Long: `pqueue keeps a durable, ordered queue of tasks on disk and runs them
one at a time. Submitted tasks survive restarts; a single worker started
with 'pqueue run' executes them in submission order.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/pqueue/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentFlags().StringP("queue", "q", "", "queue name (default from queue.default_name)")
	_ = viper.BindPFlag("queue.default_name", rootCmd.PersistentFlags().Lookup("queue"))

	rootCmd.PersistentFlags().String("dir", "", "ledger directory (default from queue.dir)")
	_ = viper.BindPFlag("queue.dir", rootCmd.PersistentFlags().Lookup("dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/pqueue")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PQUEUE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PQUEUE_QUEUE_RETAIN_FAILED for queue.retain_failed
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
