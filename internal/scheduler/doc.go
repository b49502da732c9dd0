// Package scheduler implements an in-process background job scheduler.
//
// # Overview
//
// Jobs are registered with a trigger (one-shot date, fixed interval, cron
// field sets, or a crontab expression) and an opaque run function. A single
// timing goroutine keeps jobs in a min-heap ordered by next fire time,
// sleeps until the earliest deadline, and hands due jobs to a bounded worker
// pool. Every mutating call wakes the loop, so a newly added job with an
// earlier deadline is never slept past.
//
// # Lifecycle
//
// A job moves Pending -> Running -> Pending on each fire. PauseJob and
// ResumeJob toggle Pending <-> Paused; resuming recomputes the next fire
// from the resume instant, never from the missed window. RemoveJob takes
// effect immediately for idle jobs and is deferred to run completion for a
// job that is currently executing. Invalid transitions are rejected with
// ErrInvalidTransition and change nothing.
//
// # Concurrency
//
// One coarse mutex guards the heap and the registry together; it is held
// only for O(log n) bookkeeping and never across a job body. At most one
// execution per job is in flight at a time: a job is re-inserted into the
// heap only after its run completes.
//
// # Misfires
//
// Occurrences that elapse while the scheduler is stopped or a run is still
// in progress are skipped, not replayed: after each run only the next
// future occurrence is scheduled.
package scheduler
