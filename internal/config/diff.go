package config

import (
	"sort"
	"strings"

	"schedkit/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections, safe structured
// attrs for logging, and the ids of jobs whose declaration changed (added,
// removed, or edited).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Int("scheduler.queue_size", newCfg.Scheduler.QueueSize),
			logx.Any("scheduler.dispatch_rate", newCfg.Scheduler.DispatchRate),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
		)
	}

	// History: nil means the in-memory default.
	oldH, newH := derefHistory(oldCfg.History), derefHistory(newCfg.History)
	if oldH != newH {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.String("history.driver", strings.TrimSpace(newH.Driver)),
			logx.Bool("history.path_set", strings.TrimSpace(newH.Path) != ""),
		)
	}

	jobIDs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobIDs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobIDs)),
			logx.Int("jobs.declared_count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobIDs
}

func derefHistory(h *HistoryConfig) HistoryConfig {
	if h == nil {
		return HistoryConfig{}
	}
	return *h
}

// diffJobs compares declarations by id using a canonical JSON hash, so field
// reordering in the file does not count as a change.
func diffJobs(oldJobs, newJobs []JobConfig) []string {
	oldByID := map[string]uint64{}
	for _, j := range oldJobs {
		oldByID[j.ID] = canonicalHashJSON(j)
	}
	newByID := map[string]uint64{}
	for _, j := range newJobs {
		newByID[j.ID] = canonicalHashJSON(j)
	}

	set := map[string]struct{}{}
	for id := range oldByID {
		set[id] = struct{}{}
	}
	for id := range newByID {
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		oh, inOld := oldByID[id]
		nh, inNew := newByID[id]
		if !inOld || !inNew || oh != nh {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
