// Package ratelimit enforces hourly and daily reply ceilings with fixed,
// non-overlapping windows truncated to the hour and day in the configured
// time zone.
package ratelimit

import (
	"time"

	"standin/internal/domain"
)

// Windows holds the persisted fixed-window counters. Starts advance
// monotonically; counts reset to zero exactly when time crosses into a new
// window and are never negative.
type Windows struct {
	HourlyCount int       `json:"hourly_count"`
	HourlyStart time.Time `json:"hourly_start"`
	DailyCount  int       `json:"daily_count"`
	DailyStart  time.Time `json:"daily_start"`
}

// Result is the outcome of one consumption attempt.
type Result struct {
	Allowed bool
	Reason  domain.SkipReason // hourly_limit or daily_limit when denied
}

// Usage reports current window occupancy for status output.
type Usage struct {
	HourlyCount     int
	HourlyLimit     int
	HourlyRemaining int
	DailyCount      int
	DailyLimit      int
	DailyRemaining  int
}

// Limiter checks and consumes reply quota against a Windows value owned by
// the caller. It holds no state of its own, so the engine stays testable
// without a real store.
type Limiter struct {
	maxHourly int
	maxDaily  int
	loc       *time.Location
}

func New(maxHourly, maxDaily int, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{maxHourly: maxHourly, maxDaily: maxDaily, loc: loc}
}

// TryConsume rolls stale windows forward, then either consumes one reply slot
// from both windows or denies without mutating any count. Consumption is
// atomic: a denial never partially increments.
func (l *Limiter) TryConsume(w *Windows, now time.Time) Result {
	l.roll(w, now)

	if w.HourlyCount >= l.maxHourly {
		return Result{Reason: domain.SkipHourlyLimit}
	}
	if w.DailyCount >= l.maxDaily {
		return Result{Reason: domain.SkipDailyLimit}
	}

	w.HourlyCount++
	w.DailyCount++
	return Result{Allowed: true}
}

// Usage rolls a copy of the windows forward and reports occupancy. The
// caller's counters are not mutated.
func (l *Limiter) Usage(w Windows, now time.Time) Usage {
	l.roll(&w, now)
	return Usage{
		HourlyCount:     w.HourlyCount,
		HourlyLimit:     l.maxHourly,
		HourlyRemaining: max(0, l.maxHourly-w.HourlyCount),
		DailyCount:      w.DailyCount,
		DailyLimit:      l.maxDaily,
		DailyRemaining:  max(0, l.maxDaily-w.DailyCount),
	}
}

// roll resets a counter when now has crossed into a new hour or day. Window
// starts only ever move forward.
func (l *Limiter) roll(w *Windows, now time.Time) {
	local := now.In(l.loc)
	hourStart := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, l.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)

	if hourStart.After(w.HourlyStart) {
		w.HourlyCount = 0
		w.HourlyStart = hourStart
	}
	if dayStart.After(w.DailyStart) {
		w.DailyCount = 0
		w.DailyStart = dayStart
	}
}
