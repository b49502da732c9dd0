package scheduler

import (
	"context"
	"sort"
	"time"

	"schedkit/internal/history"
)

// JobSnapshot is a read-only view of one job, safe to hand out to callers
// and monitoring collaborators while the scheduler keeps mutating.
type JobSnapshot struct {
	ID       string
	Name     string
	Trigger  string
	State    State
	NextFire time.Time // zero when paused or exhausted
	LastFire time.Time // zero before the first run
	RunCount uint64
	Timeout  time.Duration
}

// Snapshot is a scheduler-wide diagnostic view.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	Jobs     []JobSnapshot
	History  []history.Item
}

// snapshotLocked copies the observable job fields. Call with the scheduler
// mutex held.
func (j *Job) snapshotLocked() JobSnapshot {
	snap := JobSnapshot{
		ID:       j.id,
		Name:     j.name,
		Trigger:  j.trig.String(),
		State:    j.state,
		RunCount: j.runCount,
		Timeout:  j.opt.Timeout,
	}
	if j.hasNext {
		snap.NextFire = j.next
	}
	if j.hasLast {
		snap.LastFire = j.last
	}
	return snap
}

// Jobs returns snapshots of all registered jobs, ordered by id.
func (s *Scheduler) Jobs() []JobSnapshot {
	s.mu.Lock()
	out := make([]JobSnapshot, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshotLocked())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Snapshot assembles the diagnostic view, including recent run history.
func (s *Scheduler) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:  s.running,
		Workers:  s.cfg.Workers,
		QueueCap: s.cfg.QueueSize,
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	s.mu.Unlock()

	snap.Jobs = s.Jobs()
	if items, err := s.rec.Recent(ctx, 50); err == nil {
		snap.History = items
	}
	return snap
}
