package canvas

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FrequencyKind tags the Frequency union.
type FrequencyKind string

const (
	EverySecond  FrequencyKind = "every-second"
	EveryXMinute FrequencyKind = "every-x-minute"
	EveryXHour   FrequencyKind = "every-x-hour"
	EveryDay     FrequencyKind = "every-day"
	EveryWeek    FrequencyKind = "every-week"
	EveryCron    FrequencyKind = "cron"
)

// Frequency is the cadence of a pod schedule or trigger.
//
// Interval kinds (every-second, every-x-minute, every-x-hour) use Interval.
// Calendar kinds (every-day, every-week) use Hour, Minute and Weekdays.
// The cron kind uses a 5-field Expr.
type Frequency struct {
	Kind     FrequencyKind  `json:"kind" yaml:"kind" toml:"kind"`
	Interval int            `json:"interval,omitempty" yaml:"interval,omitempty" toml:"interval,omitempty"`
	Hour     int            `json:"hour,omitempty" yaml:"hour,omitempty" toml:"hour,omitempty"`
	Minute   int            `json:"minute,omitempty" yaml:"minute,omitempty" toml:"minute,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty" toml:"weekdays,omitempty"`
	Expr     string         `json:"expr,omitempty" yaml:"expr,omitempty" toml:"expr,omitempty"`
}

// IsCalendar reports whether the kind is aligned to wall-clock minutes.
func (f Frequency) IsCalendar() bool {
	switch f.Kind {
	case EveryDay, EveryWeek, EveryCron:
		return true
	}
	return false
}

// IntervalDuration returns the firing interval for interval kinds.
func (f Frequency) IntervalDuration() (time.Duration, bool) {
	n := time.Duration(f.Interval)
	switch f.Kind {
	case EverySecond:
		return n * time.Second, true
	case EveryXMinute:
		return n * time.Minute, true
	case EveryXHour:
		return n * time.Hour, true
	}
	return 0, false
}

// HasWeekday reports whether d is in the configured weekday set.
func (f Frequency) HasWeekday(d time.Weekday) bool {
	for _, w := range f.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// Validate checks the fields required by the kind.
func (f Frequency) Validate() error {
	switch f.Kind {
	case EverySecond, EveryXMinute, EveryXHour:
		if f.Interval <= 0 {
			return fmt.Errorf("frequency %s: interval must be > 0, got %d", f.Kind, f.Interval)
		}
	case EveryDay, EveryWeek:
		if f.Hour < 0 || f.Hour > 23 {
			return fmt.Errorf("frequency %s: hour %d out of range [0,23]", f.Kind, f.Hour)
		}
		if f.Minute < 0 || f.Minute > 59 {
			return fmt.Errorf("frequency %s: minute %d out of range [0,59]", f.Kind, f.Minute)
		}
		if f.Kind == EveryWeek {
			if len(f.Weekdays) == 0 {
				return fmt.Errorf("frequency %s: at least one weekday is required", f.Kind)
			}
			for _, d := range f.Weekdays {
				if d < time.Sunday || d > time.Saturday {
					return fmt.Errorf("frequency %s: weekday %d out of range [0,6]", f.Kind, d)
				}
			}
		}
	case EveryCron:
		if strings.TrimSpace(f.Expr) == "" {
			return fmt.Errorf("frequency cron: expr is required")
		}
	default:
		return fmt.Errorf("unknown frequency kind %q", f.Kind)
	}
	return nil
}

// String renders the frequency for logs and CLI output.
func (f Frequency) String() string {
	switch f.Kind {
	case EverySecond:
		return fmt.Sprintf("every %ds", f.Interval)
	case EveryXMinute:
		return fmt.Sprintf("every %dm", f.Interval)
	case EveryXHour:
		return fmt.Sprintf("every %dh", f.Interval)
	case EveryDay:
		return fmt.Sprintf("daily at %02d:%02d", f.Hour, f.Minute)
	case EveryWeek:
		days := make([]string, 0, len(f.Weekdays))
		sorted := append([]time.Weekday(nil), f.Weekdays...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, d := range sorted {
			days = append(days, d.String()[:3])
		}
		return fmt.Sprintf("weekly %s at %02d:%02d", strings.Join(days, ","), f.Hour, f.Minute)
	case EveryCron:
		return "cron " + f.Expr
	}
	return string(f.Kind)
}
