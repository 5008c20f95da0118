package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Jayphen/timestop/internal/config"
	"github.com/Jayphen/timestop/internal/countdown"
	"github.com/Jayphen/timestop/internal/device"
	"github.com/Jayphen/timestop/internal/lifecycle"
	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/notify"
	"github.com/Jayphen/timestop/internal/store"
	"github.com/Jayphen/timestop/internal/task"
	"github.com/Jayphen/timestop/internal/tui"
	"github.com/Jayphen/timestop/internal/verify"
)

var (
	startCategory string
	startMinutes  int
	startMethod   string
	startNote     string
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a focus session",
		Long: `Start a focus session in the terminal UI.

With --minutes the countdown starts immediately; otherwise a setup screen
lets you pick the category, duration and stop check.`,
		Example: `  timestop start --category reading --minutes 45
  timestop start -c work -m 25 --method drawing --note "quarterly report"`,
		RunE: runStart,
	}

	cmd.Flags().StringVarP(&startCategory, "category", "c", "", "Task category (default from config)")
	cmd.Flags().IntVarP(&startMinutes, "minutes", "m", 0, "Planned duration in minutes")
	cmd.Flags().StringVar(&startMethod, "method", "", "Stop check: drawing, vocal, read-aloud (default random)")
	cmd.Flags().StringVarP(&startNote, "note", "n", "", "What you are focusing on")

	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Get()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	req, err := buildRequest(cfg, startCategory, startMinutes, startMethod, startNote)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Get()

	history, client := openHistory(ctx, cfg, log)
	if client != nil {
		defer client.Close()
	}

	devs, err := device.New(cfg.Devices, log)
	if err != nil {
		return fmt.Errorf("invalid device config: %w", err)
	}

	orch := verify.New(verify.Options{
		Devices:              devs,
		Warmup:               cfg.Warmup,
		PlaybackStartTimeout: cfg.PlaybackStartTimeout,
		MinVocalCapture:      cfg.MinVocalCapture,
		Logger:               log,
	})

	opts := lifecycle.Options{
		Countdown: countdown.New(countdown.Options{Interval: cfg.TickInterval, Logger: log}),
		Verifier:  orch,
		History:   history,
		Cue:       notify.New(cfg.Notifications, log),
		Strict:    cfg.StrictTransitions,
		Logger:    log,
	}
	// Assigning a nil *store.Client would make the interfaces non-nil.
	if client != nil {
		opts.Sink = client
		opts.Publisher = client
	}
	ctrl := lifecycle.New(opts)

	go func() {
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("lifecycle loop stopped")
		}
	}()

	model := tui.NewModel(ctx, ctrl, orch, tui.Options{
		Version:        Version,
		Request:        req,
		DefaultMinutes: cfg.DefaultMinutes,
		Logger:         log,
	})
	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseAllMotion(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)

	_, runErr := p.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown did not release everything")
	}

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("error running TUI: %w", runErr)
	}
	return nil
}

// buildRequest validates the start flags. Minutes stays zero when not given
// so the TUI shows its setup screen.
func buildRequest(cfg *config.Config, category string, minutes int, method, note string) (lifecycle.Request, error) {
	if category == "" {
		category = cfg.DefaultCategory
	}
	cat, err := task.ParseCategory(category)
	if err != nil {
		return lifecycle.Request{}, err
	}

	if minutes < 0 {
		return lifecycle.Request{}, task.ErrInvalidDuration
	}

	var m task.Method
	if method != "" && method != "random" {
		if m, err = task.ParseMethod(method); err != nil {
			return lifecycle.Request{}, err
		}
	}

	return lifecycle.Request{Category: cat, Minutes: minutes, Method: m, Note: note}, nil
}

// openHistory seeds the in-memory history from Redis when the redis
// backend is configured and reachable. A nil client means memory only.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*task.History, *store.Client) {
	if cfg.HistoryBackend != "redis" {
		return task.NewHistory(), nil
	}

	client, err := store.NewClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, history kept in memory")
		return task.NewHistory(), nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	seed, err := client.History(loadCtx, time.Time{}, time.Time{})
	if err != nil {
		log.WithError(err).Warn("could not load history")
	}
	return task.NewHistory(seed...), client
}
