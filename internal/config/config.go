package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for standin. The engine treats a loaded
// Config as an immutable snapshot; toggling flags requires a restart.
type Config struct {
	TargetChatID    string            `yaml:"target_chat_id"`
	EnableAutoReply bool              `yaml:"enable_auto_reply"`
	BusyMode        bool              `yaml:"busy_mode"`
	DryRun          bool              `yaml:"dry_run"`
	AllowedHours    AllowedHours      `yaml:"allowed_hours"`
	RateLimiting    RateLimiting      `yaml:"rate_limiting"`
	EmergencyWords  []string          `yaml:"emergency_keywords"`
	StopWords       []string          `yaml:"stop_keywords"`
	AI              AIConfig          `yaml:"ai"`
	Templates       TemplatesConfig   `yaml:"templates"`
	WhatsApp        WhatsAppConfig    `yaml:"whatsapp"`
	Notify          NotifyConfig      `yaml:"notify"`
	State           StateConfig       `yaml:"state"`
	Log             LogConfig         `yaml:"log"`
	Metrics         MetricsConfig     `yaml:"metrics"`
}

type AllowedHours struct {
	Start    string `yaml:"start"`    // HH:MM local time
	End      string `yaml:"end"`      // HH:MM; end < start wraps midnight
	Timezone string `yaml:"timezone"` // IANA zone name
}

type RateLimiting struct {
	MaxRepliesPerHour int `yaml:"max_replies_per_hour"`
	MaxRepliesPerDay  int `yaml:"max_replies_per_day"`
}

type AIConfig struct {
	APIKeyEnv         string  `yaml:"api_key_env"`
	ClassifyModel     string  `yaml:"classify_model"`
	ReplyModel        string  `yaml:"reply_model"`
	ReplyMaxTokens    int     `yaml:"reply_max_tokens"`
	ReplyTemperature  float64 `yaml:"reply_temperature"`
	ContextMessages   int     `yaml:"context_messages"`
	ClassifyTimeoutS  int     `yaml:"classify_timeout_seconds"`
	ReplyTimeoutS     int     `yaml:"reply_timeout_seconds"`
	ClassifyPrompt    string  `yaml:"classify_prompt,omitempty"`
	ReplyPrompt       string  `yaml:"reply_prompt,omitempty"`
}

type TemplatesConfig struct {
	Emotional []string            `yaml:"emotional"`
	Conflict  []string            `yaml:"conflict"`
	Emergency []string            `yaml:"emergency"`
	Media     map[string][]string `yaml:"media"`
	Fallback  string              `yaml:"fallback"`
}

type WhatsAppConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	WebhookPath   string `yaml:"webhook_path"`
	VerifyToken   string `yaml:"verify_token"`
	AppSecret     string `yaml:"app_secret"`
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
}

type NotifyConfig struct {
	Telegram TelegramNotifyConfig `yaml:"telegram"`
}

type TelegramNotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type StateConfig struct {
	DBPath         string `yaml:"db_path"`
	MaxHistory     int    `yaml:"max_history"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.standin).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".standin"
	}
	return filepath.Join(home, ".standin")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.State.DBPath = ExpandPath(cfg.State.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets BUSY_MODE and DRY_RUN flip the corresponding flags
// without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("BUSY_MODE"); ok {
		cfg.BusyMode = isTruthy(v)
	}
	if v, ok := os.LookupEnv("DRY_RUN"); ok {
		cfg.DryRun = isTruthy(v)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// hhmmPattern matches a HH:MM time of day.
var hhmmPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Validate checks the config at startup. A bad value here is fatal; nothing
// is re-validated per message.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.TargetChatID == "" {
		errs = append(errs, "target_chat_id is required")
	}

	if !hhmmPattern.MatchString(cfg.AllowedHours.Start) {
		errs = append(errs, fmt.Sprintf("allowed_hours.start must be HH:MM, got %q", cfg.AllowedHours.Start))
	}
	if !hhmmPattern.MatchString(cfg.AllowedHours.End) {
		errs = append(errs, fmt.Sprintf("allowed_hours.end must be HH:MM, got %q", cfg.AllowedHours.End))
	}
	if _, err := time.LoadLocation(cfg.AllowedHours.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("allowed_hours.timezone is not a valid IANA zone: %q", cfg.AllowedHours.Timezone))
	}

	if cfg.RateLimiting.MaxRepliesPerHour < 1 {
		errs = append(errs, "rate_limiting.max_replies_per_hour must be >= 1")
	}
	if cfg.RateLimiting.MaxRepliesPerDay < 1 {
		errs = append(errs, "rate_limiting.max_replies_per_day must be >= 1")
	}
	if cfg.RateLimiting.MaxRepliesPerDay < cfg.RateLimiting.MaxRepliesPerHour {
		errs = append(errs, "rate_limiting.max_replies_per_day must be >= max_replies_per_hour")
	}

	if cfg.AI.APIKeyEnv == "" {
		errs = append(errs, "ai.api_key_env is required")
	}
	if cfg.AI.ClassifyTimeoutS < 1 {
		errs = append(errs, "ai.classify_timeout_seconds must be >= 1")
	}
	if cfg.AI.ReplyTimeoutS < 1 {
		errs = append(errs, "ai.reply_timeout_seconds must be >= 1")
	}
	if cfg.AI.ContextMessages < 0 {
		errs = append(errs, "ai.context_messages must be >= 0")
	}

	if cfg.WhatsApp.Port < 0 || cfg.WhatsApp.Port > 65535 {
		errs = append(errs, "whatsapp.port must be between 0 and 65535")
	}

	if cfg.State.MaxHistory < 1 {
		errs = append(errs, "state.max_history must be >= 1")
	}

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			errs = append(errs, "notify.telegram.token is required when telegram notify is enabled")
		}
		if cfg.Notify.Telegram.ChatID == 0 {
			errs = append(errs, "notify.telegram.chat_id is required when telegram notify is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// APIKey resolves the AI API key from the configured environment variable.
func (c *Config) APIKey() (string, error) {
	key := os.Getenv(c.AI.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s not set", c.AI.APIKeyEnv)
	}
	return key, nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
