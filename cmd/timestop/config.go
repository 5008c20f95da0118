package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Jayphen/timestop/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `Manage timestop configuration files.`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  `Display the current configuration values from all sources.`,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create example configuration file",
		Long: `Create an example configuration file at ~/.config/timestop/config.yaml.

The generated file contains all available options with their default values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file paths",
		Long:  `Display the paths where configuration files are searched.`,
		RunE:  runConfigPath,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Current configuration:")
	fmt.Println()
	fmt.Printf("  default_category:       %s\n", cfg.DefaultCategory)
	fmt.Printf("  default_minutes:        %d\n", cfg.DefaultMinutes)
	fmt.Printf("  tick_interval:          %s\n", cfg.TickInterval)
	fmt.Printf("  warmup:                 %s\n", cfg.Warmup)
	fmt.Printf("  playback_start_timeout: %s\n", cfg.PlaybackStartTimeout)
	fmt.Printf("  min_vocal_capture:      %s\n", cfg.MinVocalCapture)
	fmt.Printf("  strict_transitions:     %t\n", cfg.StrictTransitions)
	fmt.Printf("  redis_url:              %s\n", cfg.RedisURL)
	fmt.Printf("  history_backend:        %s\n", cfg.HistoryBackend)
	fmt.Printf("  notifications:          %t\n", cfg.Notifications)
	fmt.Println()
	fmt.Println("  Devices:")
	fmt.Printf("    recorder:    %s\n", valueOrDefault(cfg.Devices.Recorder, "(platform default)"))
	fmt.Printf("    synthesizer: %s\n", valueOrDefault(cfg.Devices.Synthesizer, "(platform default)"))
	fmt.Printf("    player:      %s\n", valueOrDefault(cfg.Devices.Player, "(platform default)"))
	fmt.Printf("    permission:  %s\n", valueOrDefault(cfg.Devices.Permission, "(probe)"))
	fmt.Println()
	fmt.Println("  Logging:")
	fmt.Printf("    level:     %s\n", cfg.Logging.Level)
	fmt.Printf("    file_path: %s\n", valueOrDefault(cfg.Logging.FilePath, "(stderr)"))

	return nil
}

func runConfigInit(force bool) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".config", "timestop", "config.yaml")

	// Check if file exists
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.WriteExample(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// Logging setup already cached the old config; re-read to check the new file.
	cfg, err := config.Reload()
	if err != nil {
		return fmt.Errorf("written config does not load: %w", err)
	}

	fmt.Printf("Created config file at: %s\n", configPath)
	fmt.Printf("Defaults: %s, %d minutes\n", cfg.DefaultCategory, cfg.DefaultMinutes)
	fmt.Println()
	fmt.Println("Edit this file to customize your settings.")
	fmt.Println("Run 'timestop config show' to see current values.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	fmt.Println("Configuration file search paths (in priority order):")
	fmt.Println()

	paths := config.ConfigPaths()
	for i, p := range paths {
		exists := "not found"
		if _, err := os.Stat(p); err == nil {
			exists = "found"
		}
		fmt.Printf("  %d. %s (%s)\n", i+1, p, exists)
	}

	fmt.Println()
	fmt.Println("Environment variables can override file settings.")
	fmt.Println("Supported env vars:")
	for _, key := range envKeys {
		fmt.Printf("  %s\n", key)
	}

	return nil
}

var envKeys = []string{
	"TIMESTOP_DEFAULT_CATEGORY",
	"TIMESTOP_DEFAULT_MINUTES",
	"TIMESTOP_TICK_INTERVAL",
	"TIMESTOP_WARMUP",
	"TIMESTOP_PLAYBACK_START_TIMEOUT",
	"TIMESTOP_MIN_VOCAL_CAPTURE",
	"TIMESTOP_STRICT_TRANSITIONS",
	"TIMESTOP_REDIS_URL (or REDIS_URL)",
	"TIMESTOP_HISTORY_BACKEND",
	"TIMESTOP_NOTIFICATIONS",
	"TIMESTOP_RECORDER",
	"TIMESTOP_SYNTHESIZER",
	"TIMESTOP_PLAYER",
	"TIMESTOP_CAPTURE_PERMISSION",
	"TIMESTOP_LOG_LEVEL",
	"TIMESTOP_LOG_FILE",
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
