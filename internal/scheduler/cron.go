package scheduler

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/podweave/podweave/internal/canvas"
)

// CronExpr is a parsed 5-field cron expression stored as bit sets.
// Fields: minute, hour, day-of-month, month, day-of-week.
type CronExpr struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
	// Restricted day fields combine with OR, as in classic cron.
	domAny bool
	dowAny bool
}

var cronMacros = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses a 5-field expression or one of the @hourly style macros.
// Fields accept *, N, N-M, */S, N-M/S and comma lists. Day-of-week 7 is Sunday.
func ParseCron(expr string) (*CronExpr, error) {
	expr = strings.TrimSpace(expr)
	if macro, ok := cronMacros[strings.ToLower(expr)]; ok {
		expr = macro
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	var sets [5]uint64
	for i, f := range cronFields {
		max := f.max
		if i == 4 {
			max = 7
		}
		set, err := parseCronField(fields[i], f.min, max)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", f.name, err)
		}
		sets[i] = set
	}
	if sets[4]&(1<<7) != 0 {
		sets[4] = sets[4]&^(1<<7) | 1
	}

	return &CronExpr{
		minute: sets[0],
		hour:   sets[1],
		dom:    sets[2],
		month:  sets[3],
		dow:    sets[4],
		domAny: fields[2] == "*",
		dowAny: fields[4] == "*",
	}, nil
}

// Matches reports whether t's minute satisfies the expression.
func (c *CronExpr) Matches(t time.Time) bool {
	if !has(c.minute, t.Minute()) || !has(c.hour, t.Hour()) || !has(c.month, int(t.Month())) {
		return false
	}
	domOK := has(c.dom, t.Day())
	dowOK := has(c.dow, int(t.Weekday()))
	switch {
	case c.domAny && c.dowAny:
		return true
	case c.domAny:
		return dowOK
	case c.dowAny:
		return domOK
	}
	return domOK || dowOK
}

// Next returns the first matching minute strictly after t, searching up to
// four years ahead. It returns the zero time when nothing matches.
func (c *CronExpr) Next(t time.Time) time.Time {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)
	for candidate.Before(limit) {
		switch {
		case !has(c.month, int(candidate.Month())):
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, candidate.Location())
		case !c.dayMatches(candidate):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, candidate.Location())
		case !has(c.hour, candidate.Hour()):
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour()+1, 0, 0, 0, candidate.Location())
		case !has(c.minute, candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate
		}
	}
	return time.Time{}
}

func (c *CronExpr) dayMatches(t time.Time) bool {
	day := *c
	day.minute, day.hour = ^uint64(0), ^uint64(0)
	return day.Matches(t)
}

// Fields returns the number of distinct values per field, for display.
func (c *CronExpr) Fields() [5]int {
	return [5]int{
		bits.OnesCount64(c.minute),
		bits.OnesCount64(c.hour),
		bits.OnesCount64(c.dom),
		bits.OnesCount64(c.month),
		bits.OnesCount64(c.dow),
	}
}

func parseCronField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1
		rangePart := part
		if i := strings.IndexByte(part, '/'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("invalid step in %q", part)
			}
			step = s
			rangePart = part[:i]
		}
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			var err error
			if lo, err = strconv.Atoi(bounds[0]); err != nil {
				return 0, fmt.Errorf("invalid range start %q", bounds[0])
			}
			if hi, err = strconv.Atoi(bounds[1]); err != nil {
				return 0, fmt.Errorf("invalid range end %q", bounds[1])
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rangePart)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}
		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("%d-%d out of bounds [%d,%d]", lo, hi, min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

// cronCache keeps parsed expressions across ticks.
var cronCache sync.Map // string -> *CronExpr

func cachedCron(expr string) (*CronExpr, error) {
	if c, ok := cronCache.Load(expr); ok {
		return c.(*CronExpr), nil
	}
	c, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	cronCache.Store(expr, c)
	return c, nil
}

// ValidateFrequency checks a frequency including its cron expression.
func ValidateFrequency(f canvas.Frequency) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Kind == canvas.EveryCron {
		if _, err := ParseCron(f.Expr); err != nil {
			return err
		}
	}
	return nil
}
