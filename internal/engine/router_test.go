package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"standin/internal/clock"
	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/ratelimit"
	"standin/internal/state"
)

// fixedClassifier returns a canned category and records whether it was asked.
type fixedClassifier struct {
	category domain.Category
	calls    int
}

func (c *fixedClassifier) Classify(ctx context.Context, msg domain.InboundMessage) domain.Classification {
	c.calls++
	return domain.Classification{Category: c.category, Confidence: 0.9}
}

func testConfig() config.Config {
	cfg := *config.Defaults()
	cfg.TargetChatID = "919900000000"
	cfg.EnableAutoReply = true
	cfg.BusyMode = true
	cfg.AllowedHours = config.AllowedHours{Start: "08:00", End: "23:00", Timezone: "UTC"}
	cfg.RateLimiting = config.RateLimiting{MaxRepliesPerHour: 10, MaxRepliesPerDay: 50}
	cfg.EmergencyWords = []string{"urgent", "emergency", "call me now", "hospital"}
	cfg.StopWords = []string{"stop replying"}
	return cfg
}

func newTestRouter(t *testing.T, cfg config.Config, cat domain.Category) (*Router, *fixedClassifier) {
	t.Helper()
	hours, err := clock.ParseWindow(cfg.AllowedHours.Start, cfg.AllowedHours.End, cfg.AllowedHours.Timezone)
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	limiter := ratelimit.New(cfg.RateLimiting.MaxRepliesPerHour, cfg.RateLimiting.MaxRepliesPerDay, hours.Location())
	cls := &fixedClassifier{category: cat}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(cfg, hours, limiter, cls, logger), cls
}

func inbound(text string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "wamid.test",
		ChatID:    "919900000000",
		SenderID:  "919900000000",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func insideHours() time.Time {
	return time.Date(2026, 8, 23, 14, 0, 0, 0, time.UTC)
}

func outsideHours() time.Time {
	return time.Date(2026, 8, 23, 2, 0, 0, 0, time.UTC)
}

func TestDecide_LogisticalRoutesToAI(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), domain.CategoryLogistical)
	snap := &state.Snapshot{}
	snap.Windows.HourlyCount = 3
	snap.Windows.HourlyStart = time.Date(2026, 8, 23, 14, 0, 0, 0, time.UTC)
	snap.Windows.DailyCount = 3
	snap.Windows.DailyStart = time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)

	action := r.Decide(context.Background(), inbound("When are you coming home?"), snap, insideHours())
	if action.Kind != domain.ActionSendAIReply {
		t.Fatalf("expected send_ai_reply, got %+v", action)
	}
	if snap.Windows.HourlyCount != 4 {
		t.Fatalf("allowed send should consume quota, hourly count = %d", snap.Windows.HourlyCount)
	}
}

func TestDecide_EmergencyBypassesEverything(t *testing.T) {
	cfg := testConfig()
	cfg.BusyMode = false
	cfg.EnableAutoReply = false
	r, cls := newTestRouter(t, cfg, domain.CategoryLogistical)

	snap := &state.Snapshot{}
	snap.Windows.HourlyCount = 10 // at ceiling
	snap.Windows.HourlyStart = outsideHours().Truncate(time.Hour)

	action := r.Decide(context.Background(), inbound("URGENT call me now"), snap, outsideHours())
	if action.Kind != domain.ActionFlagEmergency {
		t.Fatalf("expected flag_emergency, got %+v", action)
	}
	if snap.Windows.HourlyCount != 10 {
		t.Fatalf("emergency must not consume quota, got %d", snap.Windows.HourlyCount)
	}
	if cls.calls != 0 {
		t.Fatal("emergency keyword match should not consult the semantic classifier")
	}
}

func TestDecide_DisabledSwitches(t *testing.T) {
	for _, tc := range []struct{ name string; mutate func(*config.Config) }{
		{"auto reply off", func(c *config.Config) { c.EnableAutoReply = false }},
		{"busy mode off", func(c *config.Config) { c.BusyMode = false }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			r, _ := newTestRouter(t, cfg, domain.CategoryLogistical)
			snap := &state.Snapshot{}

			action := r.Decide(context.Background(), inbound("hello"), snap, insideHours())
			if action.Kind != domain.ActionSkip || action.Reason != domain.SkipDisabled {
				t.Fatalf("expected skip(disabled), got %+v", action)
			}
			if snap.Windows.HourlyCount != 0 {
				t.Fatal("skip must not consume quota")
			}
		})
	}
}

func TestDecide_OutsideHoursDoesNotConsume(t *testing.T) {
	r, cls := newTestRouter(t, testConfig(), domain.CategoryLogistical)
	snap := &state.Snapshot{}

	action := r.Decide(context.Background(), inbound("are you awake?"), snap, outsideHours())
	if action.Kind != domain.ActionSkip || action.Reason != domain.SkipOutsideHours {
		t.Fatalf("expected skip(outside_hours), got %+v", action)
	}
	if snap.Windows.HourlyCount != 0 || snap.Windows.DailyCount != 0 {
		t.Fatalf("outside-hours skip must not consume quota: %+v", snap.Windows)
	}
	if cls.calls != 0 {
		t.Fatal("outside-hours skip should not classify")
	}
}

func TestDecide_RateLimitPrecedesRouting(t *testing.T) {
	// At the hourly ceiling even a would-be CONFLICT template is denied:
	// the quota gates all sends, and the limit check runs before routing.
	r, cls := newTestRouter(t, testConfig(), domain.CategoryConflict)
	snap := &state.Snapshot{}
	snap.Windows.HourlyCount = 10
	snap.Windows.HourlyStart = insideHours().Truncate(time.Hour)
	snap.Windows.DailyCount = 10
	snap.Windows.DailyStart = time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)

	action := r.Decide(context.Background(), inbound("You never have time for me"), snap, insideHours())
	if action.Kind != domain.ActionSkip || action.Reason != domain.SkipHourlyLimit {
		t.Fatalf("expected skip(hourly_limit), got %+v", action)
	}
	if cls.calls != 0 {
		t.Fatal("rate-limit denial should short-circuit before classification")
	}
}

func TestDecide_SensitiveCategoriesNeverReachAI(t *testing.T) {
	for _, cat := range []domain.Category{
		domain.CategoryEmotional,
		domain.CategoryConflict,
		domain.CategoryMedia,
		domain.CategoryOther,
	} {
		r, _ := newTestRouter(t, testConfig(), cat)
		snap := &state.Snapshot{}

		action := r.Decide(context.Background(), inbound("some message"), snap, insideHours())
		if action.Kind != domain.ActionSendTemplate {
			t.Fatalf("category %s: expected send_template, got %+v", cat, action)
		}
		if action.Category != cat {
			t.Fatalf("category %s: template action should carry the category, got %s", cat, action.Category)
		}
	}
}

func TestDecide_StopKeywordDisablesPersistently(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), domain.CategoryLogistical)
	snap := &state.Snapshot{}

	action := r.Decide(context.Background(), inbound("please stop replying for me"), snap, insideHours())
	if action.Kind != domain.ActionSkip || action.Reason != domain.SkipStopped {
		t.Fatalf("expected skip(stopped), got %+v", action)
	}
	if !snap.Disabled {
		t.Fatal("stop keyword should flip the kill-switch in the snapshot")
	}

	// Every later message skips, including ones with emergency keywords absent.
	action = r.Decide(context.Background(), inbound("hello again"), snap, insideHours())
	if action.Reason != domain.SkipStopped {
		t.Fatalf("expected skip(stopped) while disabled, got %+v", action)
	}
}

func TestDecide_DryRunComputesIdenticalAction(t *testing.T) {
	msgText := "When are you coming home?"
	now := insideHours()

	run := func(dry bool) domain.Action {
		cfg := testConfig()
		cfg.DryRun = dry
		r, _ := newTestRouter(t, cfg, domain.CategoryLogistical)
		snap := &state.Snapshot{}
		snap.Windows.HourlyCount = 3
		snap.Windows.HourlyStart = now.Truncate(time.Hour)
		return r.Decide(context.Background(), inbound(msgText), snap, now)
	}

	wet, dry := run(false), run(true)
	if wet != dry {
		t.Fatalf("dry run must not change the decision: %+v vs %+v", wet, dry)
	}
}

func TestDecide_SemanticEmergencyStillFlags(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(), domain.CategoryEmergency)
	snap := &state.Snapshot{}

	action := r.Decide(context.Background(), inbound("something terrible happened"), snap, insideHours())
	if action.Kind != domain.ActionFlagEmergency {
		t.Fatalf("expected flag_emergency from semantic verdict, got %+v", action)
	}
}
