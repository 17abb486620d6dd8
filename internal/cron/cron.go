// Package cron validates the 5-field schedule expressions scripts register
// and computes fire times from them. It sits below both the script SDK and
// the scheduler so each can check expressions without depending on the other.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes successive fire times for a parsed expression.
type Schedule = cron.Schedule

// parser accepts standard 5-field expressions (minute hour day month
// day-of-week). Seconds and descriptors like @daily are rejected so that the
// stored expression is always the canonical 5-field form.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Parse validates a 5-field cron expression and returns its schedule.
func Parse(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields (minute hour day month day_of_week), got %d", len(fields))
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Next returns the next fire time strictly after the given instant, in UTC.
func Next(expr string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.UTC()), nil
}
