package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"schedkit/internal/history"
	"schedkit/pkg/logx"
)

// worker executes dispatched jobs until the queue is closed. Closing rather
// than signalling lets a worker drain the batch that was already handed off,
// which is the Shutdown(wait=false) drain guarantee.
func (s *Scheduler) worker(ctx context.Context, queue <-chan dispatch, idx int) {
	s.log.Debug("worker started", logx.Int("worker", idx))
	for d := range queue {
		if s.limiter != nil {
			// The only Wait error is a dead context; the job body will
			// observe the same context and can bail out itself.
			_ = s.limiter.Wait(ctx)
		}
		s.execute(ctx, d)
	}
	s.log.Debug("worker stopped", logx.Int("worker", idx))
}

// execute runs one job occurrence and reschedules the job afterwards.
func (s *Scheduler) execute(ctx context.Context, d dispatch) {
	j := d.job
	started := s.now()

	s.mu.Lock()
	j.last = d.fireAt
	j.hasLast = true
	j.runCount++
	s.mu.Unlock()

	s.publish(EventRunStarted, RunEvent{ID: j.id, Name: j.name, FireAt: d.fireAt, Started: started})

	runCtx := ctx
	var cancel context.CancelFunc
	if j.opt.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, j.opt.Timeout)
	}
	err := s.safeRun(runCtx, j)
	if cancel != nil {
		cancel()
	}
	dur := s.now().Sub(started)

	item := history.Item{JobID: j.id, JobName: j.name, FireAt: d.fireAt, Started: started, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("job run failed", logx.String("job", j.id), logx.Err(err), logx.Duration("dur", dur))
		s.publish(EventRunFailed, RunEvent{ID: j.id, Name: j.name, FireAt: d.fireAt, Started: started, Duration: dur, Error: item.Error})
	} else {
		s.log.Debug("job run completed", logx.String("job", j.id), logx.Duration("dur", dur))
		s.publish(EventRunFinished, RunEvent{ID: j.id, Name: j.name, FireAt: d.fireAt, Started: started, Duration: dur})
	}
	if recErr := s.rec.Record(ctx, item); recErr != nil {
		s.log.Warn("history record failed", logx.String("job", j.id), logx.Err(recErr))
	}

	s.reschedule(j, d.fireAt)
}

// safeRun invokes the job body, converting both returned errors and panics
// into an ExecutionError so nothing escapes into the pool.
func (s *Scheduler) safeRun(ctx context.Context, j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{
				JobID:   j.id,
				JobName: j.name,
				Err:     fmt.Errorf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	if runErr := j.run(ctx); runErr != nil {
		return &ExecutionError{JobID: j.id, JobName: j.name, Err: runErr}
	}
	return nil
}

// reschedule finishes a run: it finalizes a deferred removal, or computes
// the next occurrence from the consumed fire time and re-inserts the job.
// Run failures do not affect the schedule.
func (s *Scheduler) reschedule(j *Job, fireAt time.Time) {
	s.mu.Lock()
	if j.removeRequested {
		j.removeRequested = false
		j.state = StateRemoved
		j.clearNext()
		delete(s.jobs, j.id)
		s.mu.Unlock()
		s.publish(EventJobRemoved, JobEvent{ID: j.id, Name: j.name, Reason: "removed"})
		s.log.Debug("deferred removal finalized", logx.String("job", j.id))
		return
	}
	if err := j.completeRun(); err != nil {
		// Unreachable: only this goroutine moves a running job onward.
		s.mu.Unlock()
		s.log.Error("reschedule transition failed", logx.String("job", j.id), logx.Err(err))
		return
	}

	// Skip-and-reschedule misfire policy: occurrences that elapsed while
	// the run (or a stoppage) was in progress are dropped, not queued for
	// catch-up; only the next future occurrence is scheduled.
	now := s.now()
	next, ok := j.trig.Next(fireAt)
	for ok && !next.After(now) {
		next, ok = j.trig.Next(next)
	}
	if !ok {
		j.state = StateRemoved
		j.clearNext()
		delete(s.jobs, j.id)
		s.mu.Unlock()
		s.publish(EventJobRemoved, JobEvent{ID: j.id, Name: j.name, Reason: "exhausted"})
		s.log.Debug("job exhausted", logx.String("job", j.id))
		return
	}
	j.next = next
	j.hasNext = true
	s.store.insert(j, s.nextSeqLocked())
	s.mu.Unlock()
	s.signalWake()
}
