package scheduler

import (
	"context"
	"fmt"
	"time"

	"schedkit/internal/trigger"
)

// State is a job's lifecycle state.
type State int

const (
	StatePending State = iota
	StateRunning
	StatePaused
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// JobFunc is the opaque unit of work a job invokes. The scheduler never
// inspects it; arguments travel inside the closure.
type JobFunc func(ctx context.Context) error

// JobOptions carries per-job execution knobs.
type JobOptions struct {
	// Timeout bounds a single run via context cancellation. 0 means the
	// scheduler imposes no deadline of its own.
	Timeout time.Duration
}

// JobRequest describes a job to register.
type JobRequest struct {
	ID      string // optional; generated when empty
	Name    string // optional; defaults to ID
	Trigger trigger.Spec
	// RawTrigger, when set, is used directly instead of compiling Trigger.
	// Lets callers plug in custom trigger implementations.
	RawTrigger trigger.Trigger
	Run        JobFunc
	Options    JobOptions
}

// Job is the scheduler's internal record for one registered job.
// All fields are guarded by the scheduler mutex.
type Job struct {
	id   string
	name string
	trig trigger.Trigger
	run  JobFunc
	opt  JobOptions

	state State
	// removeRequested defers removal of an in-flight job: the job keeps
	// running, and the removal is finalized when the run completes.
	removeRequested bool

	next    time.Time
	hasNext bool
	last    time.Time
	hasLast bool

	runCount uint64

	// entrySeq identifies the live heap entry for this job. Pausing or
	// removing a job bumps it, turning any queued heap entry stale; the
	// store discards stale entries on pop instead of deleting in place.
	entrySeq uint64
}

// transition validates and applies a state change. Every state mutation in
// the scheduler funnels through here so an invalid transition can never
// silently corrupt the lifecycle.
func (j *Job) transition(to State) error {
	allowed := false
	switch to {
	case StateRunning:
		allowed = j.state == StatePending
	case StatePending:
		allowed = j.state == StatePaused
	case StatePaused:
		allowed = j.state == StatePending
	case StateRemoved:
		// Removing an in-flight job is deferred via removeRequested, so a
		// direct transition is only valid outside execution.
		allowed = j.state != StateRunning
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.state, to, j.id)
	}
	j.state = to
	return nil
}

// completeRun moves a job out of execution back to pending. Kept separate
// from transition so ResumeJob cannot pull a still-running job back onto the
// schedule; only the goroutine that owns the run makes this move.
func (j *Job) completeRun() error {
	if j.state != StateRunning {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.state, StatePending, j.id)
	}
	j.state = StatePending
	return nil
}

// clearNext marks the job as having no scheduled fire time and invalidates
// any heap entry that still references it.
func (j *Job) clearNext() {
	j.next = time.Time{}
	j.hasNext = false
	j.entrySeq++
}
