package trigger

import (
	"fmt"
	"time"
)

// Kind enumerates the supported trigger variants.
type Kind string

const (
	KindDate     Kind = "date"
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
	KindExpr     Kind = "expr"
)

// Spec is the caller-facing trigger description. Exactly one variant's
// fields apply, selected by Kind; New rejects anything else up front so
// invalid combinations never reach the scheduler.
type Spec struct {
	Kind Kind `json:"kind"`

	// date
	RunDate time.Time `json:"run_date,omitzero"`

	// interval
	Weeks     int       `json:"weeks,omitempty"`
	Days      int       `json:"days,omitempty"`
	Hours     int       `json:"hours,omitempty"`
	Minutes   int       `json:"minutes,omitempty"`
	Seconds   int       `json:"seconds,omitempty"`
	StartDate time.Time `json:"start_date,omitzero"`

	// cron (empty field = any value)
	Year      string `json:"year,omitempty"`
	Month     string `json:"month,omitempty"`
	Day       string `json:"day,omitempty"`
	Week      string `json:"week,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	Hour      string `json:"hour,omitempty"`
	Minute    string `json:"minute,omitempty"`
	Second    string `json:"second,omitempty"`

	// expr
	Expr string `json:"expr,omitempty"`
}

// Period folds the interval component fields into a single duration.
func (s Spec) Period() time.Duration {
	const week = 7 * 24 * time.Hour
	return time.Duration(s.Weeks)*week +
		time.Duration(s.Days)*24*time.Hour +
		time.Duration(s.Hours)*time.Hour +
		time.Duration(s.Minutes)*time.Minute +
		time.Duration(s.Seconds)*time.Second
}

// New builds the concrete trigger for a spec.
func New(s Spec) (Trigger, error) {
	switch s.Kind {
	case KindDate:
		d, err := NewDate(s.RunDate)
		if err != nil {
			return nil, err
		}
		return d, nil
	case KindInterval:
		iv, err := NewInterval(s.Period(), s.StartDate)
		if err != nil {
			return nil, err
		}
		return iv, nil
	case KindCron:
		return NewCron(CronFields{
			Year:      s.Year,
			Month:     s.Month,
			Day:       s.Day,
			Week:      s.Week,
			DayOfWeek: s.DayOfWeek,
			Hour:      s.Hour,
			Minute:    s.Minute,
			Second:    s.Second,
		})
	case KindExpr:
		return NewExpr(s.Expr)
	default:
		return nil, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalid, s.Kind)
	}
}
