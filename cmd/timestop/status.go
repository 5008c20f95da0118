package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jayphen/timestop/internal/config"
	"github.com/Jayphen/timestop/internal/store"
	"github.com/Jayphen/timestop/internal/task"
)

var statusJSON bool

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session in progress",
		Long:  `Show the session currently running in another terminal, as published to Redis.`,
		RunE:  runStatus,
	}

	cmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := store.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	active, err := client.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to read active session: %w", err)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(active)
	}

	if active == nil {
		fmt.Println("No session in progress")
		return nil
	}
	fmt.Print(formatStatus(*active, time.Now()))
	return nil
}

func formatStatus(s task.Snapshot, now time.Time) string {
	out := fmt.Sprintf("%s, %d min", s.Category, s.CurrentMinutes)
	if adj := s.AdjustmentTotal(); adj != 0 {
		out += fmt.Sprintf(" (planned %d, %+d)", s.PlannedMinutes, adj)
	}
	out += "\n"
	if s.Note != "" {
		out += "  note:    " + s.Note + "\n"
	}
	if s.StartedAt != nil {
		out += "  started: " + s.StartedAt.Local().Format("15:04") +
			fmt.Sprintf(" (%s ago)", now.Sub(*s.StartedAt).Truncate(time.Second)) + "\n"
	}
	if s.Method != "" {
		out += "  check:   " + string(s.Method) + "\n"
	}
	return out
}
