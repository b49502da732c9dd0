// Package history records per-run outcomes for scheduled jobs.
//
// The scheduler writes one Item per completed run (success or failure);
// operators read them back through the scheduler snapshot or directly. Two
// recorders exist: a bounded in-memory ring (default) and a SQLite-backed
// recorder for history that should survive restarts.
package history

import (
	"context"
	"sync"
	"time"
)

// Item is one completed job run.
type Item struct {
	JobID    string
	JobName  string
	FireAt   time.Time // the scheduled fire time that was consumed
	Started  time.Time
	Duration time.Duration
	Error    string // empty on success
}

// Recorder persists run items. Record is called from worker goroutines and
// must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, it Item) error
	// Recent returns up to n items, newest first.
	Recent(ctx context.Context, n int) ([]Item, error)
	Close() error
}

// Ring is a bounded in-memory recorder. The zero value is not usable; use
// NewRing.
type Ring struct {
	mu    sync.Mutex
	items []Item
	cap   int
}

func NewRing(size int) *Ring {
	// A zero or negative cap would grow without bound on long-running
	// processes, so apply a sensible default.
	if size <= 0 {
		size = 200
	}
	return &Ring{cap: size}
}

func (r *Ring) Record(_ context.Context, it Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, it)
	if len(r.items) > r.cap {
		r.items = r.items[len(r.items)-r.cap:]
	}
	return nil
}

func (r *Ring) Recent(_ context.Context, n int) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.items) {
		n = len(r.items)
	}
	out := make([]Item, 0, n)
	for i := len(r.items) - 1; i >= len(r.items)-n; i-- {
		out = append(out, r.items[i])
	}
	return out, nil
}

func (r *Ring) Close() error { return nil }
