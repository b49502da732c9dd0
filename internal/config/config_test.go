package config

import (
	"strings"
	"testing"
	"time"

	"schedkit/internal/trigger"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
scheduler:
  workers: 2
  queue_size: 16
  dispatch_rate: 5
  history_size: 100
history:
  driver: sqlite
  path: ./history.db
  keep: 500
jobs:
  - id: backup
    name: nightly backup
    schedule:
      kind: cron
      hour: "3"
      minute: "0"
    command: ["/usr/local/bin/backup", "--full"]
    timeout: 10m
  - id: heartbeat
    schedule:
      kind: interval
      seconds: 30
    command: ["/bin/true"]
`

func TestParseBytesYAML(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v, want debug console", cfg.Logging)
	}
	if cfg.Scheduler.Workers != 2 || cfg.Scheduler.QueueSize != 16 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.History == nil || cfg.History.Driver != "sqlite" || cfg.History.Keep != 500 {
		t.Fatalf("history = %+v", cfg.History)
	}
	if len(cfg.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(cfg.Jobs))
	}
	j := cfg.Jobs[0]
	if j.ID != "backup" || j.Schedule.Kind != trigger.KindCron || j.Schedule.Hour != "3" {
		t.Fatalf("jobs[0] = %+v", j)
	}
	if len(j.Command) != 2 || j.Command[0] != "/usr/local/bin/backup" {
		t.Fatalf("command = %v", j.Command)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseBytesRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "schedular": {}}`
	if _, err := ParseBytes("config.json", []byte(bad)); err == nil {
		t.Fatal("unknown top-level field accepted")
	}

	badJob := strings.Replace(sampleYAML, "timeout: 10m", "timout: 10m", 1)
	if _, err := ParseBytes("config.yaml", []byte(badJob)); err == nil {
		t.Fatal("unknown job field accepted")
	}
}

func TestParseBytesRejectsTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := ParseBytes("config.json", []byte(`{"jobs": []}{"jobs": []}`)); err == nil {
		t.Fatal("concatenated JSON accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	goodJob := JobConfig{
		ID:       "ok",
		Schedule: trigger.Spec{Kind: trigger.KindInterval, Minutes: 1},
		Command:  []string{"/bin/true"},
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing id",
			mutate:  func(c *Config) { c.Jobs[0].ID = " " },
			wantErr: "id is required",
		},
		{
			name:    "duplicate id",
			mutate:  func(c *Config) { c.Jobs = append(c.Jobs, goodJob) },
			wantErr: "duplicate id",
		},
		{
			name:    "missing command",
			mutate:  func(c *Config) { c.Jobs[0].Command = nil },
			wantErr: "command is required",
		},
		{
			name:    "bad schedule",
			mutate:  func(c *Config) { c.Jobs[0].Schedule = trigger.Spec{Kind: "sometimes"} },
			wantErr: "schedule",
		},
		{
			name:    "bad timeout",
			mutate:  func(c *Config) { c.Jobs[0].Timeout = "fast" },
			wantErr: "invalid duration",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.History = &HistoryConfig{Driver: "sqlite"} },
			wantErr: "requires path",
		},
		{
			name:    "unknown history driver",
			mutate:  func(c *Config) { c.History = &HistoryConfig{Driver: "etcd"} },
			wantErr: "unknown driver",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Jobs: []JobConfig{goodJob}}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("t", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("parse = %v, %v", d, err)
	}
	if d, err := ParseDurationField("t", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("t", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("t", "soon"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}

	// Same content, different formatting: no change.
	same, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	changed, _, jobs := SummarizeChange(oldCfg, same)
	if len(changed) != 0 || len(jobs) != 0 {
		t.Fatalf("identical configs reported change: %v %v", changed, jobs)
	}

	// Edit one job, drop another, tweak the scheduler.
	newCfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes error: %v", err)
	}
	newCfg.Jobs[0].Timeout = "30m"
	newCfg.Jobs = newCfg.Jobs[:1]
	newCfg.Scheduler.Workers = 8

	changed, attrs, jobs := SummarizeChange(oldCfg, newCfg)
	if len(attrs) == 0 {
		t.Fatal("no attrs for a real change")
	}
	wantSections := []string{"jobs", "scheduler"}
	if len(changed) != len(wantSections) {
		t.Fatalf("changed = %v, want %v", changed, wantSections)
	}
	for i, w := range wantSections {
		if changed[i] != w {
			t.Fatalf("changed = %v, want %v", changed, wantSections)
		}
	}
	wantJobs := []string{"backup", "heartbeat"}
	if len(jobs) != 2 || jobs[0] != wantJobs[0] || jobs[1] != wantJobs[1] {
		t.Fatalf("jobs = %v, want %v", jobs, wantJobs)
	}
}
