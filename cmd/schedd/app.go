package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"schedkit/internal/config"
	"schedkit/internal/eventbus"
	"schedkit/internal/history"
	"schedkit/internal/scheduler"
	"schedkit/pkg/logx"
)

// App wires the daemon: config manager, logging service, history recorder,
// event bus, and the scheduler, plus the declarative job lifecycle.
type App struct {
	cfgm *config.Manager

	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	rec   history.Recorder
	sched *scheduler.Scheduler

	// jobSigs tracks the declaration hash per managed job id so hot reload
	// only reschedules jobs whose declaration actually changed.
	jobSigs map[string]uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "schedd"))

	rec, err := buildRecorder(cfg, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		DispatchRate: cfg.Scheduler.DispatchRate,
		HistorySize:  cfg.Scheduler.HistorySize,
	}, log.With(logx.String("comp", "scheduler")),
		scheduler.WithBus(bus), scheduler.WithRecorder(rec))

	return &App{
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log,
		bus:     bus,
		rec:     rec,
		sched:   sched,
		jobSigs: map[string]uint64{},
	}, nil
}

func buildRecorder(cfg *config.Config, log logx.Logger) (history.Recorder, error) {
	h := cfg.History
	if h == nil || strings.TrimSpace(h.Driver) == "" || h.Driver == "memory" {
		return history.NewRing(cfg.Scheduler.HistorySize), nil
	}
	busy, err := config.ParseDurationField("history.busy_timeout", h.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return history.OpenSQLite(history.SQLiteConfig{
		Path:        h.Path,
		Keep:        h.Keep,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "history")))
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	a.sched.Start(runCtx)
	if err := a.applyJobs(a.cfgm.Get()); err != nil {
		return err
	}

	a.watchEvents(runCtx)
	a.watchConfig(runCtx)
	a.notifySystemd(runCtx)

	a.log.Info("schedd started", logx.Int("jobs", len(a.jobSigs)))
	return nil
}

func (a *App) Stop(ctx context.Context) {
	a.log.Info("schedd stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Shutdown(true)
	a.wg.Wait()

	if err := a.rec.Close(); err != nil {
		a.log.Warn("history close failed", logx.Err(err))
	}
	a.log.Info("schedd stopped")
	a.logSvc.Close()
}

// applyJobs reconciles the scheduler with the declared jobs: removes managed
// jobs that disappeared, leaves unchanged declarations alone, and
// reschedules added or edited ones. Jobs registered through other means are
// untouched.
func (a *App) applyJobs(cfg *config.Config) error {
	desired := map[string]config.JobConfig{}
	if cfg != nil {
		for _, jc := range cfg.Jobs {
			if !jc.Disabled {
				desired[jc.ID] = jc
			}
		}
	}

	for id := range a.jobSigs {
		if _, keep := desired[id]; keep {
			continue
		}
		if err := a.sched.RemoveJob(id); err != nil && !isNotFound(err) {
			a.log.Warn("job remove failed", logx.String("job", id), logx.Err(err))
		}
		delete(a.jobSigs, id)
	}

	for id, jc := range desired {
		sig := jc.Signature()
		if prev, known := a.jobSigs[id]; known && prev == sig {
			if _, err := a.sched.GetJob(id); err == nil {
				continue
			}
			// A one-shot job may have exhausted since the last apply; fall
			// through and let the trigger decide whether it still fires.
		}

		if err := a.sched.RemoveJob(id); err != nil && !isNotFound(err) {
			a.log.Warn("job replace failed", logx.String("job", id), logx.Err(err))
			continue
		}
		timeout, err := config.ParseDurationField("job "+id+": timeout", jc.Timeout)
		if err != nil {
			return err
		}
		snap, err := a.sched.AddJob(scheduler.JobRequest{
			ID:      id,
			Name:    jc.Name,
			Trigger: jc.Schedule,
			Run:     commandRunner(jc),
			Options: scheduler.JobOptions{Timeout: timeout},
		})
		if err != nil {
			a.log.Warn("job add failed", logx.String("job", id), logx.Err(err))
			delete(a.jobSigs, id)
			continue
		}
		a.jobSigs[id] = sig
		a.log.Info("job scheduled",
			logx.String("job", id), logx.String("trigger", snap.Trigger), logx.Time("next", snap.NextFire))
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, scheduler.ErrJobNotFound)
}

// commandRunner wraps a declared argv as a job body. The run context carries
// the per-job timeout; a killed command surfaces as a run failure.
func commandRunner(jc config.JobConfig) scheduler.JobFunc {
	argv := append([]string(nil), jc.Command...)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", argv[0], err, truncateOutput(out))
		}
		return nil
	}
}

func truncateOutput(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + " (truncated)"
	}
	return s
}

// watchEvents logs run outcomes from the bus. The scheduler publishes these
// regardless; the daemon turns failures into operator-visible log lines.
func (a *App) watchEvents(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				switch e.Type {
				case scheduler.EventRunFailed:
					if re, ok := e.Data.(scheduler.RunEvent); ok {
						a.log.Warn("run failed",
							logx.String("job", re.ID), logx.String("name", re.Name),
							logx.Duration("dur", re.Duration), logx.String("err", re.Error))
					}
				case scheduler.EventRunFinished:
					if re, ok := e.Data.(scheduler.RunEvent); ok {
						a.log.Debug("run finished",
							logx.String("job", re.ID), logx.Duration("dur", re.Duration))
					}
				case scheduler.EventJobRemoved:
					if je, ok := e.Data.(scheduler.JobEvent); ok && je.Reason == "exhausted" {
						a.log.Info("job exhausted", logx.String("job", je.ID))
					}
				}
			}
		}
	}()
}

// watchConfig runs the file watcher and applies published reloads.
func (a *App) watchConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs, jobIDs := config.SummarizeChange(lastApplied, newCfg)
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					lastApplied = newCfg
					continue
				}
				lastApplied = newCfg

				a.logSvc.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				if len(jobIDs) > 0 {
					if err := a.applyJobs(newCfg); err != nil {
						a.log.Warn("job reconcile failed", logx.Err(err))
					}
				}

				// Worker pool and queue sizing bind at Start; flag the
				// restart-only sections so the operator isn't left guessing.
				for _, s := range sections {
					if s == "scheduler" || s == "history" {
						a.log.Warn("section change applies on restart", logx.String("section", s))
					}
				}

				a.log.Info("config reloaded",
					append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()
}

// notifySystemd signals readiness and keeps the watchdog fed when running
// under systemd. Outside systemd both calls are no-ops.
func (a *App) notifySystemd(ctx context.Context) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
