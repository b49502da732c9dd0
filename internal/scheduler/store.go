package scheduler

import (
	"container/heap"
	"time"
)

// jobStore is a binary min-heap of scheduled fire times ordered by
// (fireAt, seq). The sequence number breaks exact-time ties in insertion
// order, which makes dispatch order reproducible for equal-time jobs.
//
// Entries are invalidated lazily: pause/remove flips job state and bumps
// the job's entrySeq, and the stale entry is discarded the next time it
// surfaces at the top. Arbitrary deletion on a binary heap would be O(n);
// this keeps every mutation O(log n) at the cost of a little heap churn.
//
// Not safe for concurrent use; the scheduler mutex guards it.
type jobStore struct {
	h entryHeap
}

type entry struct {
	job    *Job
	fireAt time.Time
	seq    uint64
}

func (e *entry) stale() bool {
	return e.job.state != StatePending || !e.job.hasNext || e.seq != e.job.entrySeq
}

// insert schedules the job's current next fire time under the given
// sequence number and marks it as the job's live entry.
func (s *jobStore) insert(j *Job, seq uint64) {
	j.entrySeq = seq
	heap.Push(&s.h, &entry{job: j, fireAt: j.next, seq: seq})
}

// peek returns the earliest valid fire time. Stale entries at the top are
// pruned on the way, so the result always equals the minimum next fire time
// among pending jobs.
func (s *jobStore) peek() (time.Time, bool) {
	for len(s.h) > 0 {
		top := s.h[0]
		if top.stale() {
			heap.Pop(&s.h)
			continue
		}
		return top.fireAt, true
	}
	return time.Time{}, false
}

// popDue pops every entry with fireAt <= now, discarding stale ones, and
// returns the due jobs paired with the fire time being consumed.
func (s *jobStore) popDue(now time.Time) []dispatch {
	var due []dispatch
	for len(s.h) > 0 {
		top := s.h[0]
		if top.fireAt.After(now) {
			break
		}
		heap.Pop(&s.h)
		if top.stale() {
			continue
		}
		due = append(due, dispatch{job: top.job, fireAt: top.fireAt})
	}
	return due
}

func (s *jobStore) len() int { return len(s.h) }

// rebuild reconstructs the heap from the registry. This is the recovery
// path for a detected heap/registry inconsistency; under correct locking it
// never runs.
func (s *jobStore) rebuild(jobs map[string]*Job, nextSeq func() uint64) {
	s.h = s.h[:0]
	for _, j := range jobs {
		if j.state == StatePending && j.hasNext {
			seq := nextSeq()
			j.entrySeq = seq
			s.h = append(s.h, &entry{job: j, fireAt: j.next, seq: seq})
		}
	}
	heap.Init(&s.h)
}

// dispatch pairs a job with the fire time popped for it.
type dispatch struct {
	job    *Job
	fireAt time.Time
}

// ---- heap.Interface ----

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, k int) bool {
	if h[i].fireAt.Equal(h[k].fireAt) {
		return h[i].seq < h[k].seq
	}
	return h[i].fireAt.Before(h[k].fireAt)
}

func (h entryHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
