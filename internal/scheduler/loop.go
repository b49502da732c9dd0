package scheduler

import (
	"context"
	"time"

	"schedkit/pkg/logx"
)

// loop is the single timing goroutine. It sleeps until the earliest valid
// deadline, wakes early whenever a mutation signals it, collects everything
// due, and hands it to the worker pool. It never executes job bodies itself.
func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, queue chan<- dispatch) {
	// Closing the queue lets workers drain the in-flight batch and exit.
	defer close(queue)

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)

	for {
		s.mu.Lock()
		deadline, ok := s.store.peek()
		s.mu.Unlock()

		var timerC <-chan time.Time
		if ok {
			d := deadline.Sub(s.now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			// Context cancellation stops the scheduler as a whole; record
			// that so Running reports false and a later Start works.
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-stopCh:
			stopTimer(timer)
			return
		case <-s.wake:
			// A mutation may have changed the earliest deadline;
			// re-evaluate. Anything already due is caught below.
			stopTimer(timer)
		case <-timerC:
		}

		if !s.dispatchDue(stopCh, queue) {
			return
		}
	}
}

// dispatchDue pops all due jobs under the lock, transitions them to running,
// then feeds them to the pool without holding the lock. Returns false when
// shutdown interrupted the hand-off.
func (s *Scheduler) dispatchDue(stopCh <-chan struct{}, queue chan<- dispatch) bool {
	s.mu.Lock()
	due := s.store.popDue(s.now())

	// Heap/registry consistency check: a popped pending job must still be
	// registered. This cannot happen under correct locking; if it does,
	// drop the orphan and rebuild the heap from the registry rather than
	// tearing the process down.
	valid := due[:0]
	rebuilt := false
	for _, d := range due {
		if s.jobs[d.job.id] != d.job {
			s.log.Error("heap entry for unregistered job; rebuilding store",
				logx.String("job", d.job.id))
			s.store.rebuild(s.jobs, s.nextSeqLocked)
			rebuilt = true
			continue
		}
		valid = append(valid, d)
	}
	if rebuilt {
		due = valid
	}

	for _, d := range due {
		// Popping only yields pending entries, so this cannot fail.
		if err := d.job.transition(StateRunning); err != nil {
			s.log.Error("due job in unexpected state", logx.String("job", d.job.id), logx.Err(err))
			continue
		}
		d.job.next = time.Time{}
		d.job.hasNext = false
	}
	s.mu.Unlock()

	for _, d := range due {
		select {
		case queue <- d:
		case <-stopCh:
			// Shutdown hit while the queue was full: put the job back so
			// it is not lost, then let the loop exit.
			s.requeue(d)
			return false
		}
	}
	return true
}

// requeue reverts a job that was popped but never handed to the pool.
func (s *Scheduler) requeue(d dispatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.job.completeRun() != nil {
		return
	}
	if d.job.removeRequested {
		d.job.removeRequested = false
		d.job.state = StateRemoved
		delete(s.jobs, d.job.id)
		return
	}
	d.job.next = d.fireAt
	d.job.hasNext = true
	s.store.insert(d.job, s.nextSeqLocked())
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
