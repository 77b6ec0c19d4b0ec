package clock

import (
	"testing"
	"time"
)

func mustWindow(t *testing.T, start, end, tz string) *Window {
	t.Helper()
	w, err := ParseWindow(start, end, tz)
	if err != nil {
		t.Fatalf("ParseWindow(%s, %s, %s): %v", start, end, tz, err)
	}
	return w
}

func at(t *testing.T, loc *time.Location, hour, min int) time.Time {
	t.Helper()
	return time.Date(2026, 8, 23, hour, min, 0, 0, loc)
}

func TestParseWindow_Invalid(t *testing.T) {
	cases := []struct{ start, end, tz string }{
		{"8am", "23:00", "UTC"},
		{"08:00", "24:00", "UTC"},
		{"08:00", "23:61", "UTC"},
		{"08:00", "23:00", "Nowhere/Nope"},
		{"", "23:00", "UTC"},
	}
	for _, c := range cases {
		if _, err := ParseWindow(c.start, c.end, c.tz); err == nil {
			t.Fatalf("expected error for (%q, %q, %q)", c.start, c.end, c.tz)
		}
	}
}

func TestContains_NormalWindow(t *testing.T) {
	w := mustWindow(t, "08:00", "23:00", "UTC")
	loc := w.Location()

	if !w.Contains(at(t, loc, 14, 0)) {
		t.Fatal("14:00 should be inside 08:00-23:00")
	}
	if !w.Contains(at(t, loc, 8, 0)) {
		t.Fatal("start boundary should be inside")
	}
	if !w.Contains(at(t, loc, 23, 0)) {
		t.Fatal("end boundary should be inside")
	}
	if w.Contains(at(t, loc, 2, 0)) {
		t.Fatal("02:00 should be outside 08:00-23:00")
	}
	if w.Contains(at(t, loc, 23, 1)) {
		t.Fatal("23:01 should be outside 08:00-23:00")
	}
}

func TestContains_WrapsMidnight(t *testing.T) {
	w := mustWindow(t, "23:00", "02:00", "UTC")
	loc := w.Location()

	if !w.Contains(at(t, loc, 23, 30)) {
		t.Fatal("23:30 should be inside 23:00-02:00")
	}
	if !w.Contains(at(t, loc, 1, 0)) {
		t.Fatal("01:00 should be inside 23:00-02:00")
	}
	if w.Contains(at(t, loc, 12, 0)) {
		t.Fatal("12:00 should be outside 23:00-02:00")
	}
}

func TestContains_EqualStartEndCoversDay(t *testing.T) {
	w := mustWindow(t, "09:00", "09:00", "UTC")
	if !w.Contains(at(t, w.Location(), 3, 0)) {
		t.Fatal("start==end should cover the whole day")
	}
}

func TestContains_ConvertsZone(t *testing.T) {
	// 20:30 UTC is 02:00 in Asia/Kolkata (+05:30), outside 08:00-23:00 local.
	w := mustWindow(t, "08:00", "23:00", "Asia/Kolkata")
	utc := time.Date(2026, 8, 23, 20, 30, 0, 0, time.UTC)
	if w.Contains(utc) {
		t.Fatal("20:30 UTC should be outside Kolkata allowed hours")
	}

	// 09:00 UTC is 14:30 in Kolkata, inside the window.
	utc = time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	if !w.Contains(utc) {
		t.Fatal("09:00 UTC should be inside Kolkata allowed hours")
	}
}
