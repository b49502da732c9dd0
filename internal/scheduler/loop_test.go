package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedkit/internal/eventbus"
	"schedkit/internal/trigger"
	"schedkit/pkg/logx"
)

// These tests run the real timing loop against the wall clock, so triggers
// use short sub-second periods via RawTrigger. Deadlines are generous to
// stay reliable on loaded CI machines.

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startScheduler(t *testing.T, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	s := New(cfg, logx.Nop(), opts...)
	s.Start(context.Background())
	t.Cleanup(func() { s.Shutdown(true) })
	return s
}

func mustInterval(t *testing.T, period time.Duration) trigger.Interval {
	t.Helper()
	iv, err := trigger.NewInterval(period, time.Time{})
	if err != nil {
		t.Fatalf("NewInterval error: %v", err)
	}
	return iv
}

func TestDateJobFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	var runs atomic.Int32
	trig, err := trigger.NewDate(time.Now().Add(30 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewDate error: %v", err)
	}
	if _, err := s.AddJob(JobRequest{
		ID:         "once",
		RawTrigger: trig,
		Run:        func(context.Context) error { runs.Add(1); return nil },
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 }, "date job never fired")

	// The exhausted job retires itself from the registry.
	waitFor(t, 2*time.Second, func() bool {
		_, err := s.GetJob("once")
		return errors.Is(err, ErrJobNotFound)
	}, "exhausted date job still registered")

	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("date job ran %d times, want exactly 1", got)
	}
}

func TestIntervalJobFiresRepeatedly(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	var runs atomic.Int32
	if _, err := s.AddJob(JobRequest{
		ID:         "tick",
		RawTrigger: mustInterval(t, 20*time.Millisecond),
		Run:        func(context.Context) error { runs.Add(1); return nil },
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 3 }, "interval job did not keep firing")

	snap, err := s.GetJob("tick")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if snap.RunCount < 3 {
		t.Fatalf("RunCount = %d, want >= 3", snap.RunCount)
	}
	if snap.LastFire.IsZero() {
		t.Fatal("LastFire not recorded")
	}
}

func TestAddEarlierJobWakesLoop(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	// The loop is already asleep on a deadline an hour out; adding a nearer
	// job must cut that sleep short.
	if _, err := s.AddJob(JobRequest{
		ID:         "far",
		RawTrigger: mustInterval(t, time.Hour),
		Run:        func(context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("AddJob(far) error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	var fired atomic.Bool
	trig, err := trigger.NewDate(time.Now().Add(30 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewDate error: %v", err)
	}
	if _, err := s.AddJob(JobRequest{
		ID:         "near",
		RawTrigger: trig,
		Run:        func(context.Context) error { fired.Store(true); return nil },
	}); err != nil {
		t.Fatalf("AddJob(near) error: %v", err)
	}

	waitFor(t, time.Second, fired.Load, "near job did not preempt the far deadline")
}

func TestEqualTimeJobsRunInAddOrder(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{Workers: 1})

	at := time.Now().Add(60 * time.Millisecond)
	var mu sync.Mutex
	var order []string
	for _, id := range []string{"first", "second", "third"} {
		id := id
		trig, err := trigger.NewDate(at)
		if err != nil {
			t.Fatalf("NewDate error: %v", err)
		}
		if _, err := s.AddJob(JobRequest{
			ID:         id,
			RawTrigger: trig,
			Run: func(context.Context) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			},
		}); err != nil {
			t.Fatalf("AddJob(%s) error: %v", id, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, "equal-time jobs did not all fire")

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"first", "second", "third"} {
		if order[i] != want {
			t.Fatalf("execution order = %v, want registration order", order)
		}
	}
}

func TestRemovedJobNeverFires(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	var runs atomic.Int32
	trig, err := trigger.NewDate(time.Now().Add(80 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewDate error: %v", err)
	}
	if _, err := s.AddJob(JobRequest{
		ID:         "doomed",
		RawTrigger: trig,
		Run:        func(context.Context) error { runs.Add(1); return nil },
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.RemoveJob("doomed"); err != nil {
		t.Fatalf("RemoveJob error: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("removed job ran %d times, want 0", got)
	}
}

func TestPausedJobDoesNotFire(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	var runs atomic.Int32
	if _, err := s.AddJob(JobRequest{
		ID:         "nap",
		RawTrigger: mustInterval(t, 150*time.Millisecond),
		Run:        func(context.Context) error { runs.Add(1); return nil },
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.PauseJob("nap"); err != nil {
		t.Fatalf("PauseJob error: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("paused job ran %d times, want 0", got)
	}

	if err := s.ResumeJob("nap"); err != nil {
		t.Fatalf("ResumeJob error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 1 }, "resumed job never fired")
}

func TestFailingJobKeepsItsSchedule(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	var runs atomic.Int32
	boom := errors.New("boom")
	if _, err := s.AddJob(JobRequest{
		ID:         "flaky",
		RawTrigger: mustInterval(t, 20*time.Millisecond),
		Run:        func(context.Context) error { runs.Add(1); return boom },
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return runs.Load() >= 2 }, "failing job stopped firing")

	items, err := s.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("no history recorded")
	}
	if items[0].Error == "" || !strings.Contains(items[0].Error, "boom") {
		t.Fatalf("history error = %q, want the run failure", items[0].Error)
	}
}

func TestPanickingJobIsIsolated(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	var panics atomic.Int32
	if _, err := s.AddJob(JobRequest{
		ID:         "bad",
		RawTrigger: mustInterval(t, 20*time.Millisecond),
		Run:        func(context.Context) error { panics.Add(1); panic("kaboom") },
	}); err != nil {
		t.Fatalf("AddJob(bad) error: %v", err)
	}

	var healthy atomic.Int32
	if _, err := s.AddJob(JobRequest{
		ID:         "good",
		RawTrigger: mustInterval(t, 20*time.Millisecond),
		Run:        func(context.Context) error { healthy.Add(1); return nil },
	}); err != nil {
		t.Fatalf("AddJob(good) error: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return panics.Load() >= 2 && healthy.Load() >= 2
	}, "panicking job took the pool down")

	if !s.Running() {
		t.Fatal("scheduler stopped running after a job panic")
	}

	items, err := s.History(context.Background(), 20)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	found := false
	for _, it := range items {
		if it.JobID == "bad" && strings.Contains(it.Error, "panic") {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("panic not surfaced in run history")
	}
}

func TestJobTimeoutCancelsRun(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	ctxErr := make(chan error, 1)
	trig, err := trigger.NewDate(time.Now().Add(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewDate error: %v", err)
	}
	if _, err := s.AddJob(JobRequest{
		ID:         "slow",
		RawTrigger: trig,
		Options:    JobOptions{Timeout: 30 * time.Millisecond},
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			ctxErr <- ctx.Err()
			return ctx.Err()
		},
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	select {
	case err := <-ctxErr:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx.Err() = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never cancelled the run context")
	}
}

func TestShutdownWaitDrainsInFlightRuns(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())
	s.Start(context.Background())

	started := make(chan struct{})
	var finished atomic.Bool
	trig, err := trigger.NewDate(time.Now().Add(10 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewDate error: %v", err)
	}
	if _, err := s.AddJob(JobRequest{
		ID:         "drain",
		RawTrigger: trig,
		Run: func(context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	s.Shutdown(true)
	if !finished.Load() {
		t.Fatal("Shutdown(wait=true) returned before the in-flight run completed")
	}
	if s.Running() {
		t.Fatal("scheduler still reports running after Shutdown")
	}
}

func TestRemoveInFlightJobIsDeferred(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	if _, err := s.AddJob(JobRequest{
		ID:         "busy",
		RawTrigger: mustInterval(t, 10*time.Millisecond),
		Run: func(context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	// The run is in flight: removal is accepted but deferred, and repeating
	// it during the window is a no-op.
	if err := s.RemoveJob("busy"); err != nil {
		t.Fatalf("RemoveJob error: %v", err)
	}
	if err := s.RemoveJob("busy"); err != nil {
		t.Fatalf("repeat RemoveJob during deferral err = %v, want nil", err)
	}
	snap, err := s.GetJob("busy")
	if err != nil {
		t.Fatalf("GetJob during run error: %v", err)
	}
	if snap.State != StateRunning {
		t.Fatalf("state = %s, want running while deferred", snap.State)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		_, err := s.GetJob("busy")
		return errors.Is(err, ErrJobNotFound)
	}, "deferred removal never finalized")
}

func TestInFlightJobRejectsPauseAndResume(t *testing.T) {
	t.Parallel()
	s := startScheduler(t, Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	var inFlight atomic.Int32
	var overlap atomic.Bool
	if _, err := s.AddJob(JobRequest{
		ID:         "live",
		RawTrigger: mustInterval(t, 10*time.Millisecond),
		Run: func(context.Context) error {
			if inFlight.Add(1) > 1 {
				overlap.Store(true)
			}
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			inFlight.Add(-1)
			return nil
		},
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	// Neither call may touch a job that is mid-execution. Resume in
	// particular must not hand the loop a second schedulable entry while the
	// first run is still live.
	if err := s.ResumeJob("live"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resume running err = %v, want ErrInvalidTransition", err)
	}
	if err := s.PauseJob("live"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pause running err = %v, want ErrInvalidTransition", err)
	}
	snap, err := s.GetJob("live")
	if err != nil {
		t.Fatalf("GetJob during run error: %v", err)
	}
	if snap.State != StateRunning {
		t.Fatalf("state = %s, want running after rejected pause/resume", snap.State)
	}

	time.Sleep(100 * time.Millisecond)
	if overlap.Load() {
		t.Fatal("observed overlapping executions of one job")
	}
	close(release)
}

func TestContextCancelStopsScheduler(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	if !s.Running() {
		t.Fatal("scheduler not running after Start")
	}

	cancel()
	waitFor(t, 2*time.Second, func() bool { return !s.Running() },
		"Running still true after context cancellation")

	// A fresh Start brings the scheduler back up with the registry intact.
	var runs atomic.Int32
	if _, err := s.AddJob(JobRequest{
		ID:         "again",
		RawTrigger: mustInterval(t, 20*time.Millisecond),
		Run:        func(context.Context) error { runs.Add(1); return nil },
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	s.Start(context.Background())
	defer s.Shutdown(true)
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 1 }, "job did not fire after restart")
}

func TestRestartPicksUpJobsAddedWhileStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	// Start is idempotent.
	s.Start(context.Background())
	s.Start(context.Background())
	s.Shutdown(true)

	var runs atomic.Int32
	if _, err := s.AddJob(JobRequest{
		ID:         "later",
		RawTrigger: mustInterval(t, 20*time.Millisecond),
		Run:        func(context.Context) error { runs.Add(1); return nil },
	}); err != nil {
		t.Fatalf("AddJob while stopped error: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("job fired while the scheduler was stopped")
	}

	s.Start(context.Background())
	defer s.Shutdown(true)
	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 1 }, "job did not fire after restart")
}

func TestLifecycleEventsPublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	s := startScheduler(t, Config{}, WithBus(bus))

	trig, err := trigger.NewDate(time.Now().Add(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewDate error: %v", err)
	}
	if _, err := s.AddJob(JobRequest{
		ID:         "observed",
		RawTrigger: trig,
		Run:        func(context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	want := map[string]bool{
		EventJobAdded:    false,
		EventRunStarted:  false,
		EventRunFinished: false,
		EventJobRemoved:  false, // exhaustion after the one-shot run
	}
	deadline := time.After(3 * time.Second)
	for {
		remaining := 0
		for _, seen := range want {
			if !seen {
				remaining++
			}
		}
		if remaining == 0 {
			return
		}
		select {
		case e := <-ch:
			if _, tracked := want[e.Type]; tracked {
				want[e.Type] = true
			}
		case <-deadline:
			t.Fatalf("missing lifecycle events: %+v", want)
		}
	}
}
