package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the 6 fields (seconds, minute, hour, day-of-month,
// month, day-of-week) every normalized expression carries after
// normalizeCronExpr runs. Seconds are always explicit at this point, so
// there is nothing optional left to parse.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// normalizeCronExpr expands a 5, 6, or 7 field cron expression into its
// full "sec min hour dom month dow year" form:
//
//   - 5 fields (min hour dom month dow): prefix sec=0, suffix year=*.
//   - 6 fields (min hour dom month dow year): prefix sec=0 only.
//   - 7 fields: used as-is.
//
// The year field is accepted for round-trip fidelity with configs written
// against the 7-field form, but is not itself filtered on — no cron library
// in the pack supports year matching, and every entry tested against this
// scheduler uses the wildcard.
func normalizeCronExpr(expr string) (string, error) {
	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		return "0 " + expr + " *", nil
	case 6:
		return "0 " + expr, nil
	case 7:
		return expr, nil
	default:
		return "", fmt.Errorf("scheduler: invalid cron expression (expected 5-7 fields): %q", expr)
	}
}

// Schedule wraps a parsed cron expression.
type Schedule struct {
	expr     string
	schedule cron.Schedule
}

// ParseCron normalizes and parses a cron expression in 5/6/7-field form.
func ParseCron(expr string) (Schedule, error) {
	normalized, err := normalizeCronExpr(expr)
	if err != nil {
		return Schedule{}, err
	}

	// cronParser only understands 6 fields; drop the trailing year field
	// normalizeCronExpr may have added or preserved.
	sixField := strings.Join(strings.Fields(normalized)[:6], " ")

	parsed, err := cronParser.Parse(sixField)
	if err != nil {
		return Schedule{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return Schedule{expr: expr, schedule: parsed}, nil
}

// Next returns the next fire time strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	return s.schedule.Next(now)
}
