package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"standin/internal/bridge"
	"standin/internal/bus"
	"standin/internal/classify"
	"standin/internal/clock"
	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/engine"
	"standin/internal/executor"
	"standin/internal/metrics"
	"standin/internal/notify"
	"standin/internal/provider"
	"standin/internal/ratelimit"
	"standin/internal/state"
	"standin/internal/template"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the auto-reply daemon",
		Long:  "Starts the webhook server and the decision engine. Press Ctrl+C to stop.",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	logger, closeLog, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	apiKey, err := cfg.APIKey()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.NewStore(cfg.State.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// A corrupt state file is fatal: silently resetting counters would
	// bypass the rate ceilings.
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if snap.Disabled {
		logger.Warn("auto-reply is disabled in persisted state; run 'standin enable' to resume",
			"reason", snap.DisabledReason)
	}

	hours, err := clock.ParseWindow(cfg.AllowedHours.Start, cfg.AllowedHours.End, cfg.AllowedHours.Timezone)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(cfg.RateLimiting.MaxRepliesPerHour, cfg.RateLimiting.MaxRepliesPerDay, hours.Location())

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	wa := bridge.NewWhatsApp(cfg.WhatsApp, messageBus, logger)

	prov := provider.NewAnthropic(cfg.AI, apiKey, logger)
	if err := prov.Healthy(ctx); err != nil {
		return err
	}

	classifier := classify.New(classify.Config{
		EmergencyKeywords: cfg.EmergencyWords,
		Provider:          prov,
		Timeout:           time.Duration(cfg.AI.ClassifyTimeoutS) * time.Second,
		Logger:            logger,
	})

	var notifier domain.Notifier
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram, logger)
		if err != nil {
			return err
		}
		notifier = tg
	}

	exec := executor.New(executor.Config{
		Provider:     prov,
		Sender:       wa,
		Notifier:     notifier,
		Templates:    template.NewSelector(cfg.Templates, nil),
		ReplyTimeout: time.Duration(cfg.AI.ReplyTimeoutS) * time.Second,
		DryRun:       cfg.DryRun,
		Logger:       logger,
	})

	loop := engine.NewLoop(engine.LoopConfig{
		Config:   *cfg,
		Router:   engine.NewRouter(*cfg, hours, limiter, classifier, logger),
		Executor: exec,
		Store:    store,
		Messages: messageBus.Subscribe(),
		Snapshot: snap,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", wa.Handler())
	if cfg.Metrics.Enabled {
		mux.HandleFunc("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
		logger.Info("metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WhatsApp.Host, cfg.WhatsApp.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("webhook server listening", "addr", srv.Addr, "path", cfg.WhatsApp.WebhookPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()
	go func() {
		errCh <- loop.Run(ctx)
	}()

	if cfg.DryRun {
		logger.Warn("dry run: decisions are computed but nothing is transmitted")
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("fatal component error", "error", err)
			stop()
			srv.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("webhook server shutdown", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildLogger creates the daemon logger from the log section: configured
// level, stderr by default, optional file.
func buildLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, nil, fmt.Errorf("log.level: %w", err)
	}

	out := os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}
