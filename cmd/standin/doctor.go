package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"standin/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your standin installation",
		Long: `Verifies that standin's configuration, API key, state database, and
webhook port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("standin doctor v%s\n", version)
			fmt.Printf("----------------------------------------\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'standin init' to create a default configuration.\n")
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\nResults: %d passed, 1 failed\n", passed)
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. API key resolvable
			if _, err := cfg.APIKey(); err != nil {
				printFail("API key", err.Error())
				failed++
			} else {
				printPass("API key", "$"+cfg.AI.APIKeyEnv+" set")
				passed++
			}

			// 4. State database writable
			if err := checkDatabase(cfg.State.DBPath); err != nil {
				printFail("State database", err.Error())
				failed++
			} else {
				printPass("State database", cfg.State.DBPath)
				passed++
			}

			// 5. Webhook port available
			if err := checkPort(cfg.WhatsApp.Port); err != nil {
				printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.WhatsApp.Port, err))
				warned++
			} else {
				printPass("Webhook port", fmt.Sprintf(":%d available", cfg.WhatsApp.Port))
				passed++
			}

			// 6. WhatsApp credentials present
			if cfg.WhatsApp.AccessToken == "" || cfg.WhatsApp.PhoneNumberID == "" {
				printWarn("WhatsApp", "access_token or phone_number_id not configured")
				warned++
			} else {
				printPass("WhatsApp", "credentials configured")
				passed++
			}
			if cfg.WhatsApp.AppSecret == "" {
				printWarn("Webhook signing", "app_secret empty, payload signatures will not be verified")
				warned++
			} else {
				printPass("Webhook signing", "app_secret configured")
				passed++
			}

			// 7. Busy mode sanity
			if !cfg.BusyMode {
				printWarn("Busy mode", "off; the daemon will skip every non-emergency message")
				warned++
			} else {
				printPass("Busy mode", "on")
				passed++
			}

			fmt.Printf("\n----------------------------------------\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running standin.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nstandin should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! standin is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
