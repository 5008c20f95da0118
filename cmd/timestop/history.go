package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jayphen/timestop/internal/config"
	"github.com/Jayphen/timestop/internal/store"
	"github.com/Jayphen/timestop/internal/tui"
)

var (
	historySince string
	historyUntil string
	historyJSON  bool
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished sessions",
		Long: `List finished sessions stored in Redis, oldest first.

--since and --until accept a date (2006-01-02), an RFC 3339 time, "today",
or an age such as 90m, 12h or 7d.`,
		Example: `  timestop history --since today
  timestop history --since 7d --json`,
		RunE: runHistory,
	}

	cmd.Flags().StringVar(&historySince, "since", "", "Only sessions finished at or after this time")
	cmd.Flags().StringVar(&historyUntil, "until", "", "Only sessions finished at or before this time")
	cmd.Flags().BoolVar(&historyJSON, "json", false, "Output in JSON format")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	now := time.Now()
	from, err := parseWhen(historySince, now)
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	to, err := parseWhen(historyUntil, now)
	if err != nil {
		return fmt.Errorf("invalid --until: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("--until is before --since")
	}

	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := store.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := client.History(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	if historyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Println(tui.RenderHistory(rows, 100))
	return nil
}

// parseWhen reads a history bound relative to now. Empty means open.
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return time.Time{}, nil
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
