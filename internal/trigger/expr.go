package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// exprParser accepts both 5-field and 6-field (with seconds) crontab specs,
// plus descriptors like "@hourly" and "@every 55m".
var exprParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Expr adapts a standard crontab expression to the Trigger interface.
//
// This is the convenient front door for configs that already speak crontab
// ("*/5 * * * *", "@daily"). The field-set Cron trigger remains the richer
// option: the crontab grammar has no year or week-of-year fields.
type Expr struct {
	spec  string
	sched cron.Schedule
}

func NewExpr(spec string) (*Expr, error) {
	sched, err := exprParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %v", ErrInvalid, spec, err)
	}
	return &Expr{spec: spec, sched: sched}, nil
}

func (e *Expr) Next(ref time.Time) (time.Time, bool) {
	next := e.sched.Next(ref)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func (e *Expr) String() string { return fmt.Sprintf("expr[%s]", e.spec) }
