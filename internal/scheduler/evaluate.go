package scheduler

import (
	"log/slog"
	"time"

	"github.com/podweave/podweave/internal/canvas"
)

// ShouldFire decides whether a cadence fires at now given its last fire.
//
// Interval kinds fire once the interval has elapsed since last, and always
// when last is nil. Calendar kinds fire only on the exact matching minute at
// second zero, at most once per calendar day (cron: once per minute).
func ShouldFire(f canvas.Frequency, last *time.Time, now time.Time) bool {
	if interval, ok := f.IntervalDuration(); ok {
		if last == nil {
			return true
		}
		return now.Sub(*last) >= interval
	}

	if now.Second() != 0 {
		return false
	}
	switch f.Kind {
	case canvas.EveryDay, canvas.EveryWeek:
		if now.Hour() != f.Hour || now.Minute() != f.Minute {
			return false
		}
		if f.Kind == canvas.EveryWeek && !f.HasWeekday(now.Weekday()) {
			return false
		}
		return last == nil || !sameDay(*last, now)
	case canvas.EveryCron:
		expr, err := cachedCron(f.Expr)
		if err != nil {
			slog.Warn("Invalid cron expression", "expr", f.Expr, "error", err)
			return false
		}
		if !expr.Matches(now) {
			return false
		}
		return last == nil || !last.In(now.Location()).Truncate(time.Minute).Equal(now.Truncate(time.Minute))
	}
	return false
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
