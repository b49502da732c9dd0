package config

import (
	"fmt"
	"strings"

	"schedkit/internal/trigger"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// History controls run-history persistence. If omitted, runs are kept
	// in a bounded in-memory ring only.
	History *HistoryConfig `json:"history,omitempty"`

	// Jobs declares the schedule. Jobs are upserted by id on hot reload.
	Jobs []JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the execution side of the scheduler.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - dispatch_rate: 0 (unlimited)
//   - history_size: 200
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DispatchRate caps job dispatches per second across all jobs.
	DispatchRate float64 `json:"dispatch_rate,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// HistoryConfig selects the run-history recorder.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./schedd_history.db" }
type HistoryConfig struct {
	Driver string `json:"driver"` // "memory" or "sqlite"
	Path   string `json:"path,omitempty"`
	// Keep bounds retained rows for the sqlite driver.
	Keep        int    `json:"keep,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// JobConfig declares one scheduled command.
//
// Schedule is a structured trigger spec: {"kind": "interval", "minutes": 5},
// {"kind": "cron", "hour": "3", "minute": "0"}, {"kind": "date", ...} or
// {"kind": "expr", "expr": "*/5 * * * *"}.
type JobConfig struct {
	ID       string       `json:"id"`
	Name     string       `json:"name,omitempty"`
	Schedule trigger.Spec `json:"schedule"`

	// Command is the argv to execute when the job fires.
	Command []string `json:"command"`

	// Timeout is a Go duration string (e.g. "10s", "1m"). Empty or "0s"
	// means no per-run deadline.
	Timeout string `json:"timeout,omitempty"`

	// Disabled keeps the declaration in the file without scheduling it.
	Disabled bool `json:"disabled,omitempty"`
}

// Validate rejects configs that cannot be applied. Called before commit so a
// bad edit never tears down the running schedule.
func (c *Config) Validate() error {
	seen := map[string]struct{}{}
	for i, j := range c.Jobs {
		id := strings.TrimSpace(j.ID)
		if id == "" {
			return fmt.Errorf("jobs[%d]: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("jobs[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
			return fmt.Errorf("job %q: command is required", id)
		}
		if _, err := trigger.New(j.Schedule); err != nil {
			return fmt.Errorf("job %q: schedule: %w", id, err)
		}
		if _, err := ParseDurationField("job "+id+": timeout", j.Timeout); err != nil {
			return err
		}
	}
	if c.History != nil {
		switch strings.TrimSpace(c.History.Driver) {
		case "", "memory":
		case "sqlite":
			if strings.TrimSpace(c.History.Path) == "" {
				return fmt.Errorf("history: sqlite driver requires path")
			}
		default:
			return fmt.Errorf("history: unknown driver %q", c.History.Driver)
		}
		if _, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
