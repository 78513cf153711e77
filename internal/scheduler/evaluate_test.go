package scheduler

import (
	"testing"
	"time"

	"github.com/podweave/podweave/internal/canvas"
)

func at(t time.Time) *time.Time { return &t }

func TestShouldFireIntervalNeverFired(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 17, 23, 0, time.UTC)
	for _, f := range []canvas.Frequency{
		{Kind: canvas.EverySecond, Interval: 1},
		{Kind: canvas.EverySecond, Interval: 30},
		{Kind: canvas.EveryXMinute, Interval: 5},
		{Kind: canvas.EveryXHour, Interval: 12},
	} {
		if !ShouldFire(f, nil, now) {
			t.Errorf("%s with no previous fire should fire", f)
		}
	}
}

func TestShouldFireEveryFiveMinutes(t *testing.T) {
	f := canvas.Frequency{Kind: canvas.EveryXMinute, Interval: 5}
	now := time.Date(2026, 3, 4, 10, 17, 23, 0, time.UTC)

	if ShouldFire(f, at(now.Add(-4*time.Minute)), now) {
		t.Error("4 minutes elapsed should not fire")
	}
	if !ShouldFire(f, at(now.Add(-5*time.Minute)), now) {
		t.Error("5 minutes elapsed should fire")
	}
	if !ShouldFire(f, at(now.Add(-2*time.Hour)), now) {
		t.Error("2 hours elapsed should fire")
	}
}

func TestShouldFireCalendarOncePerDay(t *testing.T) {
	tests := []struct {
		name string
		freq canvas.Frequency
		fire time.Time
	}{
		{
			name: "daily",
			freq: canvas.Frequency{Kind: canvas.EveryDay, Hour: 9, Minute: 30},
			fire: time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "weekly",
			freq: canvas.Frequency{Kind: canvas.EveryWeek, Hour: 7, Minute: 5, Weekdays: []time.Weekday{time.Wednesday, time.Thursday}},
			fire: time.Date(2026, 3, 4, 7, 5, 0, 0, time.UTC),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !ShouldFire(tc.freq, nil, tc.fire) {
				t.Fatal("first matching minute should fire")
			}
			last := at(tc.fire)
			if ShouldFire(tc.freq, last, tc.fire.Add(time.Second)) {
				t.Error("T+1s should not fire")
			}
			if ShouldFire(tc.freq, last, tc.fire) {
				t.Error("re-observing T should not fire again the same day")
			}
			if !ShouldFire(tc.freq, last, tc.fire.AddDate(0, 0, 1)) {
				t.Error("same time next day should fire")
			}
		})
	}
}

func TestShouldFireCalendarNeedsExactMinute(t *testing.T) {
	f := canvas.Frequency{Kind: canvas.EveryDay, Hour: 9, Minute: 30}
	if ShouldFire(f, nil, time.Date(2026, 3, 4, 9, 31, 0, 0, time.UTC)) {
		t.Error("wrong minute should not fire")
	}
	if ShouldFire(f, nil, time.Date(2026, 3, 4, 9, 30, 5, 0, time.UTC)) {
		t.Error("non-zero second should not fire")
	}
}

func TestShouldFireWeeklySkipsOtherDays(t *testing.T) {
	f := canvas.Frequency{Kind: canvas.EveryWeek, Hour: 7, Minute: 5, Weekdays: []time.Weekday{time.Monday}}
	wednesday := time.Date(2026, 3, 4, 7, 5, 0, 0, time.UTC)
	if ShouldFire(f, nil, wednesday) {
		t.Error("weekly Monday should not fire on Wednesday")
	}
	if !ShouldFire(f, nil, wednesday.AddDate(0, 0, 5)) {
		t.Error("weekly Monday should fire on Monday")
	}
}

func TestShouldFireCron(t *testing.T) {
	f := canvas.Frequency{Kind: canvas.EveryCron, Expr: "*/15 * * * *"}
	fire := time.Date(2026, 3, 4, 10, 45, 0, 0, time.UTC)
	if !ShouldFire(f, nil, fire) {
		t.Fatal("matching minute should fire")
	}
	if ShouldFire(f, at(fire), fire) {
		t.Error("same minute should not fire twice")
	}
	if !ShouldFire(f, at(fire), fire.Add(15*time.Minute)) {
		t.Error("next matching minute should fire")
	}
	if ShouldFire(canvas.Frequency{Kind: canvas.EveryCron, Expr: "bogus"}, nil, fire) {
		t.Error("invalid cron should never fire")
	}
}
