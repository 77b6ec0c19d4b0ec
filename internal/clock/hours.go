// Package clock decides whether "now" falls inside the configured allowed
// hours, in the configured time zone.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is an allowed time-of-day interval. Start and End are minutes since
// local midnight; End < Start means the window wraps across 00:00.
type Window struct {
	start int
	end   int
	loc   *time.Location
}

// ParseWindow validates the configured hours at startup. Invalid values are a
// configuration error, never a per-message failure.
func ParseWindow(start, end, tz string) (*Window, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	s, err := parseHHMM(start)
	if err != nil {
		return nil, fmt.Errorf("invalid start time %q: %w", start, err)
	}
	e, err := parseHHMM(end)
	if err != nil {
		return nil, fmt.Errorf("invalid end time %q: %w", end, err)
	}
	return &Window{start: s, end: e, loc: loc}, nil
}

func parseHHMM(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", parts[1])
	}
	return h*60 + m, nil
}

// Location returns the window's time zone.
func (w *Window) Location() *time.Location { return w.loc }

// Now returns the current time in the window's zone.
func (w *Window) Now() time.Time { return time.Now().In(w.loc) }

// Contains reports whether t falls inside the allowed window, inclusive on
// both ends. A window with start == end covers the whole day.
func (w *Window) Contains(t time.Time) bool {
	local := t.In(w.loc)
	minute := local.Hour()*60 + local.Minute()

	if w.start == w.end {
		return true
	}
	if w.end < w.start {
		// Wraps midnight, e.g. 23:00-02:00.
		return minute >= w.start || minute <= w.end
	}
	return minute >= w.start && minute <= w.end
}
