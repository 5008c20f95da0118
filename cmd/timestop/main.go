// Package main is the entry point for the timestop CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jayphen/timestop/internal/config"
	"github.com/Jayphen/timestop/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func main() {
	// Initialize logging from config
	initLogging()

	rootCmd := &cobra.Command{
		Use:   "timestop",
		Short: "Time-box focus sessions",
		Long: `TimeStop is a focus-session timer.

Pick a category and a duration, adjust it while you work, and when the
countdown ends prove you are stopping by drawing, singing, or reading a
passage aloud. Finished sessions are kept in Redis.`,
		SilenceUsage: true,
	}

	// Add subcommands
	rootCmd.AddCommand(
		newStartCmd(),
		newHistoryCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging initializes the logger from config.
func initLogging() {
	cfg, err := config.Get()
	if err != nil {
		// If config fails, use defaults (console output)
		_ = logging.Init(nil)
		return
	}

	if err := logging.InitFromLogConfig(cfg.LogConfig()); err != nil {
		// Fall back to defaults on error
		_ = logging.Init(nil)
	}
}
