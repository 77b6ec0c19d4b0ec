package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"standin/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(filepath.Join(t.TempDir(), "state.db"), logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoad_FreshDatabase(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Windows.HourlyCount != 0 || snap.Windows.DailyCount != 0 {
		t.Fatalf("fresh store should have zero counts: %+v", snap.Windows)
	}
	if snap.Disabled {
		t.Fatal("fresh store should not be disabled")
	}
	if snap.Stats.MessagesProcessed != 0 {
		t.Fatalf("fresh store should have zero stats, got %d", snap.Stats.MessagesProcessed)
	}
}

func TestCommit_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 23, 14, 0, 0, 0, time.UTC)
	snap := &Snapshot{}
	snap.Windows.HourlyCount = 7
	snap.Windows.HourlyStart = now
	snap.Windows.DailyCount = 23
	snap.Windows.DailyStart = now.Add(-14 * time.Hour)
	snap.Stats.MessagesProcessed = 40
	snap.Stats.RepliesSent = 30
	snap.Stats.EmergenciesFlagged = 1
	snap.Stats.FailedSends = 2
	snap.Stats.Skip(domain.SkipOutsideHours)
	snap.Stats.Skip(domain.SkipOutsideHours)
	snap.Stats.Skip(domain.SkipHourlyLimit)
	snap.LastProcessedID = "wamid.abc"
	snap.LastProcessedAt = now

	if err := s.Commit(ctx, snap, "wamid.abc"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load after commit: %v", err)
	}
	if got.Windows.HourlyCount != 7 || got.Windows.DailyCount != 23 {
		t.Fatalf("window counts lost: %+v", got.Windows)
	}
	if !got.Windows.HourlyStart.Equal(now) {
		t.Fatalf("hourly start lost: %v", got.Windows.HourlyStart)
	}
	if got.Stats.RepliesSent != 30 || got.Stats.FailedSends != 2 {
		t.Fatalf("stats lost: %+v", got.Stats)
	}
	if got.Stats.SkipsByReason[domain.SkipOutsideHours] != 2 {
		t.Fatalf("skip counters lost: %+v", got.Stats.SkipsByReason)
	}
	if got.LastProcessedID != "wamid.abc" {
		t.Fatalf("last processed id lost: %q", got.LastProcessedID)
	}
}

func TestCommit_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := NewStore(dbPath, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snap := &Snapshot{}
	snap.Windows.HourlyCount = 4
	snap.Windows.HourlyStart = time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	snap.Stats.RepliesSent = 4
	if err := s.Commit(ctx, snap, "m1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	s.Close()

	// Mid-window counters must survive a restart.
	s2, err := NewStore(dbPath, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Load(ctx)
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got.Windows.HourlyCount != 4 {
		t.Fatalf("hourly count lost across restart: %d", got.Windows.HourlyCount)
	}
	if got.Stats.RepliesSent != 4 {
		t.Fatalf("stats lost across restart: %d", got.Stats.RepliesSent)
	}
}

func TestLoad_CorruptStateFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec(`UPDATE rate_windows SET hourly_count = -3 WHERE id = 1`); err != nil {
		t.Fatalf("corrupt setup: %v", err)
	}

	_, err := s.Load(ctx)
	if err == nil {
		t.Fatal("Load should fail on negative counter")
	}
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}

func TestSeen_Dedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "wamid.new")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatal("unknown message should not be seen")
	}

	snap := &Snapshot{}
	if err := s.Commit(ctx, snap, "wamid.new"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	seen, err = s.Seen(ctx, "wamid.new")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Fatal("committed message should be seen")
	}

	// Recommitting the same id must not error.
	if err := s.Commit(ctx, snap, "wamid.new"); err != nil {
		t.Fatalf("recommit same id: %v", err)
	}
}

func TestHistory_BoundedAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		text := string(rune('a' + i))
		if err := s.AppendHistory(ctx, i%2 == 0, text, base.Add(time.Duration(i)*time.Minute), 4); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	entries, err := s.History(ctx, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("history should be trimmed to 4, got %d", len(entries))
	}
	if entries[0].Text != "c" || entries[3].Text != "f" {
		t.Fatalf("history should be chronological, got %+v", entries)
	}
}

func TestSetDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetDisabled(ctx, true, "stop keyword"); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}
	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.Disabled || snap.DisabledReason != "stop keyword" {
		t.Fatalf("disable not persisted: %+v", snap)
	}

	if err := s.SetDisabled(ctx, false, ""); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	snap, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Disabled {
		t.Fatal("re-enable not persisted")
	}
}
