// Command cropguard is the CropGuard field client: it queues crop captures
// and recorded actions while offline and syncs them to the API when
// connectivity allows.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Yheng/CropGuard-sub000/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cropguard",
	Short: "Offline-first sync client for CropGuard",
	Long: `CropGuard keeps field work moving without connectivity.

Captures and treatment actions are queued in a local SQLite database and
replayed against the CropGuard API in prioritized batches when the link
allows. Conflicts with server-side edits are resolved automatically when
safe and surfaced for manual resolution otherwise.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cropguard/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration for a command run.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the process logger. With a log file configured the output
// rotates via lumberjack; otherwise it goes to stderr.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}
