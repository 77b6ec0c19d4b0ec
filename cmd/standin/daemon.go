package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"standin/internal/config"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.standin.daemon"

// serviceParams fills the launchd and systemd service templates. KeyValue is
// the API key resolved at install time; when empty the env block is omitted
// and the operator has to provide KeyEnv to the service manager themselves.
type serviceParams struct {
	Label    string
	Exec     string
	Config   string
	LogDir   string
	KeyEnv   string
	KeyValue string
}

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install standin as a system daemon (launchd/systemd)",
		Long:  "Generates and installs a service file so the run daemon starts on login and restarts on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("install needs a valid config (run `standin init` first): %w", err)
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}

			p := serviceParams{
				Label:    launchdLabel,
				Exec:     execPath,
				Config:   resolveConfigPath(),
				LogDir:   filepath.Join(home, ".standin", "logs"),
				KeyEnv:   cfg.AI.APIKeyEnv,
				KeyValue: os.Getenv(cfg.AI.APIKeyEnv),
			}
			if p.KeyValue == "" {
				fmt.Printf("Warning: %s is not set; the service file will not carry the API key.\n", p.KeyEnv)
				fmt.Printf("Set it in the service manager's environment before starting the daemon.\n")
			}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(home, p)
			case "linux":
				return installSystemd(home, p)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the standin system daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			switch runtime.GOOS {
			case "darwin":
				return removeServiceFile(launchdPath(home))
			case "linux":
				return removeServiceFile(systemdPath(home))
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
		},
	}
}

func launchdPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", "standin.service")
}

// renderService executes one of the service templates against p.
func renderService(name, tmpl string, p serviceParams) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// writeServiceFile writes the rendered service definition. Mode 0600 because
// the file may carry the API key.
func writeServiceFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func removeServiceFile(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove service file: %w", err)
	}
	fmt.Printf("Daemon uninstalled: %s\n", path)
	return nil
}

func installLaunchd(home string, p serviceParams) error {
	plist, err := renderService("launchd", launchdTemplate, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.LogDir, 0o755); err != nil {
		return err
	}
	path := launchdPath(home)
	if err := writeServiceFile(path, plist); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", path)
	fmt.Printf("To start: launchctl load %s\n", path)
	fmt.Printf("To stop:  launchctl unload %s\n", path)
	return nil
}

func installSystemd(home string, p serviceParams) error {
	unit, err := renderService("systemd", systemdTemplate, p)
	if err != nil {
		return err
	}
	path := systemdPath(home)
	if err := writeServiceFile(path, unit); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", path)
	fmt.Printf("To start:  systemctl --user start standin\n")
	fmt.Printf("To enable: systemctl --user enable standin\n")
	fmt.Printf("To stop:   systemctl --user stop standin\n")
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
{{- if .KeyValue}}
    <key>EnvironmentVariables</key>
    <dict>
        <key>{{.KeyEnv}}</key>
        <string>{{.KeyValue}}</string>
    </dict>
{{- end}}
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogDir}}/standin.log</string>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/standin-error.log</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=standin WhatsApp auto-reply daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} run --config {{.Config}}
{{- if .KeyValue}}
Environment={{.KeyEnv}}={{.KeyValue}}
{{- end}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
