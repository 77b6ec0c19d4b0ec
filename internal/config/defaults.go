package config

func Defaults() *Config {
	return &Config{
		EnableAutoReply: true,
		BusyMode:        false,
		DryRun:          false,
		AllowedHours: AllowedHours{
			Start:    "08:00",
			End:      "23:00",
			Timezone: "Asia/Kolkata",
		},
		RateLimiting: RateLimiting{
			MaxRepliesPerHour: 10,
			MaxRepliesPerDay:  50,
		},
		EmergencyWords: defaultEmergencyKeywords(),
		StopWords:      defaultStopKeywords(),
		AI: AIConfig{
			APIKeyEnv:        "ANTHROPIC_API_KEY",
			ClassifyModel:    "claude-3-5-haiku-20241022",
			ReplyModel:       "claude-sonnet-4-20250514",
			ReplyMaxTokens:   200,
			ReplyTemperature: 0.7,
			ContextMessages:  10,
			ClassifyTimeoutS: 15,
			ReplyTimeoutS:    60,
		},
		Templates: TemplatesConfig{
			Emotional: []string{
				"Sorry, a bit tied up right now. I'll call you soon.",
				"Saw this — thinking of you. Will reply properly in a bit.",
			},
			Conflict: []string{
				"I can see this is important. Let me respond properly when I'm free.",
			},
			Emergency: []string{
				"Saw your message — calling you in 2 minutes.",
			},
			Media: map[string][]string{
				"audio": {"Got your voice note, will listen soon."},
				"image": {"Nice! Saw the photo, will look properly later."},
			},
			Fallback: "I'll reply to this myself in a bit.",
		},
		WhatsApp: WhatsAppConfig{
			Host:        "127.0.0.1",
			Port:        8090,
			WebhookPath: "/webhook/whatsapp",
		},
		State: StateConfig{
			DBPath:     "~/.standin/state.db",
			MaxHistory: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

func defaultEmergencyKeywords() []string {
	return []string{
		"urgent", "emergency", "asap", "call me now",
		"hospital", "accident", "help",
	}
}

func defaultStopKeywords() []string {
	return []string{
		"stop texting", "stop replying", "is this a bot",
		"are you a bot", "turn it off",
	}
}
