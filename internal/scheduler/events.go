package scheduler

import (
	"time"

	"schedkit/internal/eventbus"
)

// Event types published to the bus. Management events carry JobEvent,
// execution events carry RunEvent.
const (
	EventJobAdded   = "job.added"
	EventJobRemoved = "job.removed"
	EventJobPaused  = "job.paused"
	EventJobResumed = "job.resumed"

	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
	EventRunFailed   = "run.failed"
)

type JobEvent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	NextFire time.Time `json:"next_fire,omitzero"`
	// Reason distinguishes explicit removal from trigger exhaustion on
	// job.removed events.
	Reason string `json:"reason,omitempty"`
}

type RunEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	FireAt   time.Time     `json:"fire_at"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
	}
}
