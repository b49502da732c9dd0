package trigger

import (
	"fmt"
	"strings"
	"time"
)

// searchHorizon bounds the cron forward search. A spec with no matching
// instant within this window is treated as unsatisfiable instead of looping
// forever (e.g. year constraints entirely in the past, or day=30 month=2).
const searchHorizon = 8 * 365 * 24 * time.Hour

// Cron fires at the next timestamp satisfying all constrained fields.
//
// Each field is either unconstrained ("any") or an allowed-value set. The
// reference boundary is exclusive: a spec matching the reference instant
// itself schedules the next matching instant, so a job is never fired twice
// at the same timestamp.
type Cron struct {
	year, month, day, week, dayOfWeek *fieldSet
	hour, minute, second              *fieldSet

	expr string // original field expressions, for String()
}

// CronFields holds the caller-facing field expressions. Empty means "any".
type CronFields struct {
	Year      string
	Month     string
	Day       string
	Week      string // ISO week of year
	DayOfWeek string // 0-6, 0 = Sunday; names sun..sat accepted
	Hour      string
	Minute    string
	Second    string
}

func NewCron(f CronFields) (*Cron, error) {
	c := &Cron{}
	var err error
	if c.year, err = parseField("year", f.Year, 1970, 9999, nil); err != nil {
		return nil, err
	}
	if c.month, err = parseField("month", f.Month, 1, 12, nil); err != nil {
		return nil, err
	}
	if c.day, err = parseField("day", f.Day, 1, 31, nil); err != nil {
		return nil, err
	}
	if c.week, err = parseField("week", f.Week, 1, 53, nil); err != nil {
		return nil, err
	}
	if c.dayOfWeek, err = parseField("day_of_week", f.DayOfWeek, 0, 6, dowNames); err != nil {
		return nil, err
	}
	if c.hour, err = parseField("hour", f.Hour, 0, 23, nil); err != nil {
		return nil, err
	}
	if c.minute, err = parseField("minute", f.Minute, 0, 59, nil); err != nil {
		return nil, err
	}
	if c.second, err = parseField("second", f.Second, 0, 59, nil); err != nil {
		return nil, err
	}
	c.expr = cronExpr(f)
	return c, nil
}

// Next performs a forward search from the second after ref, advancing by the
// coarsest non-matching field so large invalid ranges are skipped in one step
// instead of second-by-second.
func (c *Cron) Next(ref time.Time) (time.Time, bool) {
	loc := ref.Location()
	t := ref.Truncate(time.Second).Add(time.Second)
	horizon := ref.Add(searchHorizon)

	for !t.After(horizon) {
		if c.year != nil && !c.year.contains(t.Year()) {
			y, ok := c.year.ceil(t.Year() + 1)
			if !ok {
				return time.Time{}, false
			}
			t = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.month.contains(int(t.Month())) {
			// First instant of the next month; year rolls over naturally.
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !c.hour.contains(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !c.minute.contains(t.Minute()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, loc)
			continue
		}
		if !c.second.contains(t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// dayMatches checks the three date-level constraints that share day
// granularity: day of month, ISO week of year, and day of week.
func (c *Cron) dayMatches(t time.Time) bool {
	if !c.day.contains(t.Day()) {
		return false
	}
	if c.week != nil {
		_, wk := t.ISOWeek()
		if !c.week.contains(wk) {
			return false
		}
	}
	return c.dayOfWeek.contains(int(t.Weekday()))
}

func (c *Cron) String() string { return fmt.Sprintf("cron[%s]", c.expr) }

func cronExpr(f CronFields) string {
	var parts []string
	add := func(name, v string) {
		if strings.TrimSpace(v) != "" && v != "*" {
			parts = append(parts, name+"="+v)
		}
	}
	add("year", f.Year)
	add("month", f.Month)
	add("day", f.Day)
	add("week", f.Week)
	add("day_of_week", f.DayOfWeek)
	add("hour", f.Hour)
	add("minute", f.Minute)
	add("second", f.Second)
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}
