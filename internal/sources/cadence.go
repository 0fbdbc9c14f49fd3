package sources

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/robfig/cron/v3"
)

// ErrManualCadence is returned for sources that are only crawled on demand.
var ErrManualCadence = errors.New("manual cadence has no schedule")

// cadenceSpecs are the standard cron expressions for each automatic cadence.
var cadenceSpecs = map[domain.Cadence]string{
	domain.CadenceHourly:  "0 * * * *",
	domain.CadenceDaily:   "0 2 * * *",
	domain.CadenceWeekly:  "0 2 * * 1",
	domain.CadenceMonthly: "0 2 1 * *",
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CadenceSchedule returns the cron schedule for c.
func CadenceSchedule(c domain.Cadence) (cron.Schedule, error) {
	if c == domain.CadenceManual {
		return nil, ErrManualCadence
	}
	spec, ok := cadenceSpecs[c]
	if !ok {
		return nil, fmt.Errorf("unknown cadence %q", c)
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cadence %q: %w", c, err)
	}
	return sched, nil
}

// NextRun returns when src is next due, evaluated in loc. The second result is
// false for manual or inactive sources. A never-crawled source is due at the
// zero time, i.e. immediately.
func NextRun(src *domain.Source, loc *time.Location) (time.Time, bool) {
	if !src.IsActive {
		return time.Time{}, false
	}
	sched, err := CadenceSchedule(src.Schedule)
	if err != nil {
		return time.Time{}, false
	}
	if src.LastCrawledAt == nil {
		return time.Time{}, true
	}
	if loc == nil {
		loc = time.UTC
	}
	return sched.Next(src.LastCrawledAt.In(loc)), true
}

// IsDue reports whether the cadence window for src has elapsed at now.
func IsDue(src *domain.Source, now time.Time, loc *time.Location) bool {
	next, ok := NextRun(src, loc)
	if !ok {
		return false
	}
	return !next.After(now)
}
