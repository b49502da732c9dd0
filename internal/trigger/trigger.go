package trigger

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is returned for malformed or unsatisfiable trigger specs.
var ErrInvalid = errors.New("invalid trigger")

// Trigger computes when a job should next fire.
//
// Next is a pure function of the reference time: the scheduler passes "now"
// (or the configured start) at registration time and the just-consumed fire
// time after each dispatch. The returned time is always strictly after ref.
// ok=false means the trigger is exhausted and the job will not fire again.
type Trigger interface {
	Next(ref time.Time) (next time.Time, ok bool)
	String() string
}

// Date fires exactly once at RunDate.
type Date struct {
	RunDate time.Time
}

func NewDate(runDate time.Time) (Date, error) {
	if runDate.IsZero() {
		return Date{}, fmt.Errorf("%w: date trigger requires run_date", ErrInvalid)
	}
	return Date{RunDate: runDate}, nil
}

func (d Date) Next(ref time.Time) (time.Time, bool) {
	if d.RunDate.After(ref) {
		return d.RunDate, true
	}
	return time.Time{}, false
}

func (d Date) String() string {
	return fmt.Sprintf("date[%s]", d.RunDate.Format(time.RFC3339))
}

// Interval fires every Period, optionally anchored at Start.
//
// The next fire time is always computed from the reference time (the last
// fire for a recurring job), never from wall-clock "now". That keeps the
// sequence strictly increasing and drift-free even when dispatch runs late.
type Interval struct {
	Period time.Duration
	Start  time.Time
}

func NewInterval(period time.Duration, start time.Time) (Interval, error) {
	if period <= 0 {
		return Interval{}, fmt.Errorf("%w: interval period must be positive, got %s", ErrInvalid, period)
	}
	return Interval{Period: period, Start: start}, nil
}

func (i Interval) Next(ref time.Time) (time.Time, bool) {
	base := ref
	if !i.Start.IsZero() && i.Start.After(ref) {
		base = i.Start
	}
	return base.Add(i.Period), true
}

func (i Interval) String() string {
	if i.Start.IsZero() {
		return fmt.Sprintf("interval[%s]", i.Period)
	}
	return fmt.Sprintf("interval[%s from %s]", i.Period, i.Start.Format(time.RFC3339))
}
