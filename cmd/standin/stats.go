package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"standin/internal/clock"
	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/ratelimit"
	"standin/internal/state"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and current rate-limit usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			store, err := state.NewStore(cfg.State.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Load(context.Background())
			if err != nil {
				return err
			}

			hours, err := clock.ParseWindow(cfg.AllowedHours.Start, cfg.AllowedHours.End, cfg.AllowedHours.Timezone)
			if err != nil {
				return err
			}
			limiter := ratelimit.New(cfg.RateLimiting.MaxRepliesPerHour, cfg.RateLimiting.MaxRepliesPerDay, hours.Location())

			now := time.Now()
			usage := limiter.Usage(snap.Windows, now)

			fmt.Printf("standin v%s\n\n", version)
			fmt.Printf("  busy_mode:        %v\n", cfg.BusyMode)
			fmt.Printf("  auto_reply:       %v\n", cfg.EnableAutoReply)
			fmt.Printf("  dry_run:          %v\n", cfg.DryRun)
			if snap.Disabled {
				fmt.Printf("  kill_switch:      ON (%s, since %s)\n",
					snap.DisabledReason, snap.DisabledAt.Format(time.RFC3339))
			} else {
				fmt.Printf("  kill_switch:      off\n")
			}
			fmt.Printf("  within_hours:     %v (%s-%s %s)\n",
				hours.Contains(now), cfg.AllowedHours.Start, cfg.AllowedHours.End, cfg.AllowedHours.Timezone)
			fmt.Printf("  hourly quota:     %d/%d used, %d remaining\n",
				usage.HourlyCount, usage.HourlyLimit, usage.HourlyRemaining)
			fmt.Printf("  daily quota:      %d/%d used, %d remaining\n",
				usage.DailyCount, usage.DailyLimit, usage.DailyRemaining)
			if snap.LastProcessedID != "" {
				fmt.Printf("  last processed:   %s at %s\n",
					snap.LastProcessedID, snap.LastProcessedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cumulative reply statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			store, err := state.NewStore(cfg.State.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Load(context.Background())
			if err != nil {
				return err
			}
			s := snap.Stats

			fmt.Printf("Statistics\n\n")
			fmt.Printf("  messages processed:  %d\n", s.MessagesProcessed)
			fmt.Printf("  replies sent:        %d\n", s.RepliesSent)
			fmt.Printf("  emergencies flagged: %d\n", s.EmergenciesFlagged)
			fmt.Printf("  failed sends:        %d\n", s.FailedSends)

			if len(s.SkipsByReason) > 0 {
				fmt.Printf("\n  skips by reason:\n")
				for _, line := range skipLines(s) {
					fmt.Println(line)
				}
			}
			return nil
		},
	}
}

// skipLines renders the skips-by-reason block in stable order.
func skipLines(s state.Stats) []string {
	reasons := make([]string, 0, len(s.SkipsByReason))
	for r := range s.SkipsByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)

	lines := make([]string, 0, len(reasons))
	for _, r := range reasons {
		lines = append(lines, fmt.Sprintf("    %-15s %d", r, s.SkipsByReason[domain.SkipReason(r)]))
	}
	return lines
}

// exportedState is the JSON shape written by `standin export`.
type exportedState struct {
	ExportedAt time.Time            `json:"exported_at"`
	Snapshot   *state.Snapshot      `json:"snapshot"`
	History    []state.HistoryEntry `json:"history,omitempty"`
}

func exportCmd() *cobra.Command {
	var withHistory bool
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			store, err := state.NewStore(cfg.State.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			snap, err := store.Load(ctx)
			if err != nil {
				return err
			}

			out := exportedState{ExportedAt: time.Now(), Snapshot: snap}
			if withHistory {
				history, err := store.History(ctx, cfg.State.MaxHistory)
				if err != nil {
					return err
				}
				out.History = history
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Exported to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withHistory, "history", false, "include conversation history")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to file instead of stdout")
	return cmd
}
