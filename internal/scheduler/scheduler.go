package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"schedkit/internal/eventbus"
	"schedkit/internal/history"
	"schedkit/internal/trigger"
	"schedkit/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	// Workers is the execution pool size. Job bodies run on these workers,
	// never on the timing loop, so one slow job cannot delay dispatch of
	// unrelated jobs.
	Workers int
	// QueueSize bounds the dispatch queue between the loop and the pool.
	QueueSize int
	// DispatchRate caps job dispatches per second across all jobs.
	// 0 disables rate limiting.
	DispatchRate float64
	// HistorySize is the in-memory run-history ring size, used when no
	// recorder is configured explicitly.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

type Option func(*Scheduler)

// WithBus publishes job and run lifecycle events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithRecorder replaces the default in-memory run-history ring.
func WithRecorder(rec history.Recorder) Option {
	return func(s *Scheduler) { s.rec = rec }
}

// WithClock overrides the time source. Tests use this; the timing loop's
// timers still run on the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler accepts jobs annotated with a firing policy and dispatches their
// work when it comes due. One background goroutine owns all timing; mutation
// calls (AddJob, RemoveJob, PauseJob, ResumeJob) are safe from any goroutine
// and wake the loop whenever they may have changed the earliest deadline.
type Scheduler struct {
	log logx.Logger
	cfg Config

	bus     eventbus.Bus
	rec     history.Recorder
	limiter *rate.Limiter
	now     func() time.Time

	// wake is signalled by every store mutation so the loop never sleeps
	// past a newly added earlier deadline. Buffered: signalling is always
	// non-blocking and signals coalesce.
	wake chan struct{}

	mu      sync.Mutex
	jobs    map[string]*Job // registry: id -> job, live jobs only
	store   jobStore
	seq     uint64
	running bool
	stopCh  chan struct{}
	queue   chan dispatch

	loopWG   sync.WaitGroup
	workerWG sync.WaitGroup
}

func New(cfg Config, log logx.Logger, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		log:  log,
		cfg:  cfg,
		now:  time.Now,
		wake: make(chan struct{}, 1),
		jobs: map[string]*Job{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rec == nil {
		s.rec = history.NewRing(cfg.HistorySize)
	}
	if cfg.DispatchRate > 0 {
		burst := int(cfg.DispatchRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}
	return s
}

// signalWake nudges the loop to re-evaluate its deadline. Never blocks.
func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// AddJob registers a job, computes its first fire time, and wakes the loop.
// The job starts firing whether or not Start has been called yet; jobs added
// while stopped are picked up on the next Start.
func (s *Scheduler) AddJob(req JobRequest) (JobSnapshot, error) {
	if req.Run == nil {
		return JobSnapshot{}, fmt.Errorf("%w: job requires a run function", trigger.ErrInvalid)
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = id
	}

	trig := req.RawTrigger
	if trig == nil {
		var err error
		if trig, err = trigger.New(req.Trigger); err != nil {
			return JobSnapshot{}, err
		}
	}

	s.mu.Lock()
	if _, exists := s.jobs[id]; exists {
		s.mu.Unlock()
		return JobSnapshot{}, fmt.Errorf("%w: %q", ErrDuplicateJobID, id)
	}

	next, ok := trig.Next(s.now())
	if !ok {
		s.mu.Unlock()
		return JobSnapshot{}, fmt.Errorf("%w: %s produces no future fire time", trigger.ErrInvalid, trig)
	}

	j := &Job{
		id:      id,
		name:    name,
		trig:    trig,
		run:     req.Run,
		opt:     req.Options,
		state:   StatePending,
		next:    next,
		hasNext: true,
	}
	s.jobs[id] = j
	s.store.insert(j, s.nextSeqLocked())
	snap := j.snapshotLocked()
	s.mu.Unlock()

	s.signalWake()
	s.publish(EventJobAdded, JobEvent{ID: id, Name: name, NextFire: next})
	s.log.Debug("job added",
		logx.String("job", id), logx.String("trigger", trig.String()), logx.Time("next", next))
	return snap, nil
}

// RemoveJob unregisters a job. A job that is mid-execution keeps running;
// its removal is finalized when the run completes, and calling RemoveJob
// again during that window is a no-op. The job never fires again once the
// call returns.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	if j.state == StateRunning {
		j.removeRequested = true
		s.mu.Unlock()
		s.log.Debug("job removal deferred until run completes", logx.String("job", id))
		return nil
	}
	if err := j.transition(StateRemoved); err != nil {
		s.mu.Unlock()
		return err
	}
	j.clearNext()
	delete(s.jobs, id)
	s.mu.Unlock()

	s.signalWake()
	s.publish(EventJobRemoved, JobEvent{ID: id, Name: j.name, Reason: "removed"})
	s.log.Debug("job removed", logx.String("job", id))
	return nil
}

// PauseJob takes a pending job off the schedule. Its stale heap entry is
// discarded lazily; no heap surgery happens here.
func (s *Scheduler) PauseJob(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	if err := j.transition(StatePaused); err != nil {
		s.mu.Unlock()
		return err
	}
	j.clearNext()
	s.mu.Unlock()

	s.signalWake()
	s.publish(EventJobPaused, JobEvent{ID: id, Name: j.name})
	s.log.Debug("job paused", logx.String("job", id))
	return nil
}

// ResumeJob puts a paused job back on the schedule. The next fire time is
// recomputed from the resume instant: occurrences that fell inside the
// paused window are not made up.
func (s *Scheduler) ResumeJob(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	if err := j.transition(StatePending); err != nil {
		s.mu.Unlock()
		return err
	}

	next, ok := j.trig.Next(s.now())
	if !ok {
		// The trigger exhausted while paused (e.g. a one-shot date that
		// went by). Nothing left to schedule; the job is finalized.
		j.state = StateRemoved
		j.clearNext()
		delete(s.jobs, id)
		s.mu.Unlock()
		s.publish(EventJobRemoved, JobEvent{ID: id, Name: j.name, Reason: "exhausted"})
		s.log.Debug("job exhausted on resume", logx.String("job", id))
		return nil
	}
	j.next = next
	j.hasNext = true
	s.store.insert(j, s.nextSeqLocked())
	s.mu.Unlock()

	s.signalWake()
	s.publish(EventJobResumed, JobEvent{ID: id, Name: j.name, NextFire: next})
	s.log.Debug("job resumed", logx.String("job", id), logx.Time("next", next))
	return nil
}

// GetJob returns a read-only snapshot of one job.
func (s *Scheduler) GetJob(id string) (JobSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return JobSnapshot{}, fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	return j.snapshotLocked(), nil
}

// History returns up to n recent run records, newest first.
func (s *Scheduler) History(ctx context.Context, n int) ([]history.Item, error) {
	return s.rec.Recent(ctx, n)
}

// Start spawns the timing loop and the worker pool. Calling Start on a
// running scheduler is a no-op. Start after Shutdown brings the scheduler
// back up with the registry intact.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	// Fresh queue per run so a stop/start cycle never dispatches into a
	// closed channel.
	s.queue = make(chan dispatch, s.cfg.QueueSize)
	stopCh := s.stopCh
	queue := s.queue
	s.mu.Unlock()

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		s.loop(ctx, stopCh, queue)
	}()

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(ctx, queue, idx)
		}()
	}

	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers), logx.Int("queue_cap", s.cfg.QueueSize))
}

// Shutdown stops the timing loop. Jobs already handed to the pool drain
// regardless; wait controls whether Shutdown blocks until the loop has
// exited and every in-flight execution has completed.
func (s *Scheduler) Shutdown(wait bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.log.Info("scheduler stopping", logx.Bool("wait", wait))
	if wait {
		s.loopWG.Wait()
		s.workerWG.Wait()
		s.log.Info("scheduler stopped")
	}
}

// Running reports whether the timing loop is up.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
