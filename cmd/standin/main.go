package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"standin/internal/config"
	"standin/internal/state"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "standin",
		Short: "standin: WhatsApp auto-reply stand-in for when you're busy",
		Long: "standin watches one WhatsApp chat and answers on your behalf while you're busy:\n" +
			"logistical questions get a short AI reply, sensitive messages get a safe canned\n" +
			"template, and emergencies always get flagged to you immediately.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.standin/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(enableCmd())
	root.AddCommand(disableCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Edit %s and set target_chat_id, whatsapp credentials, and busy_mode.\n", cfgPath)
			return nil
		},
	}
}

func enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Re-enable auto-reply after a stop keyword or manual disable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setDisabled(false, "")
		},
	}
}

func disableCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable auto-reply until explicitly re-enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				reason = "disabled via CLI"
			}
			return setDisabled(true, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why auto-reply is being disabled")
	return cmd
}

// setDisabled flips the persisted kill-switch. A running daemon picks the
// change up on its next restart; the flag mainly guards unattended starts.
func setDisabled(disabled bool, reason string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	store, err := state.NewStore(cfg.State.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetDisabled(context.Background(), disabled, reason); err != nil {
		return err
	}
	if disabled {
		fmt.Printf("Auto-reply disabled: %s\n", reason)
	} else {
		fmt.Println("Auto-reply enabled.")
	}
	return nil
}
