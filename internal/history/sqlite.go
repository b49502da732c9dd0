package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"schedkit/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLiteConfig controls the SQLite recorder.
type SQLiteConfig struct {
	Path        string
	Keep        int // max rows retained; 0 means a default cap
	BusyTimeout time.Duration
}

type sqliteRecorder struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

// OpenSQLite opens (creating if needed) the run-history database.
func OpenSQLite(cfg SQLiteConfig, log logx.Logger) (Recorder, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	keep := cfg.Keep
	if keep <= 0 {
		keep = 10000
	}
	r := &sqliteRecorder{db: db, log: log, keep: keep, pruneEvery: 500}

	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *sqliteRecorder) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, string(b))
	return err
}

func (r *sqliteRecorder) Record(ctx context.Context, it Item) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_runs (job_id, job_name, fire_at, started, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		it.JobID, it.JobName,
		it.FireAt.UnixMilli(), it.Started.UnixMilli(),
		it.Duration.Milliseconds(), it.Error,
	)
	if err != nil {
		return err
	}

	// Amortized pruning: trimming on every insert would double the write
	// load for no benefit.
	if r.opCount.Add(1)%r.pruneEvery == 0 {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM job_runs WHERE id NOT IN
			   (SELECT id FROM job_runs ORDER BY started DESC, id DESC LIMIT ?)`,
			r.keep,
		); err != nil {
			r.log.Warn("history prune failed", logx.Err(err))
		}
	}
	return nil
}

func (r *sqliteRecorder) Recent(ctx context.Context, n int) ([]Item, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT job_id, job_name, fire_at, started, duration_ms, error
		   FROM job_runs ORDER BY started DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		var fireAt, started, durMS int64
		if err := rows.Scan(&it.JobID, &it.JobName, &fireAt, &started, &durMS, &it.Error); err != nil {
			return nil, err
		}
		it.FireAt = time.UnixMilli(fireAt)
		it.Started = time.UnixMilli(started)
		it.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *sqliteRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
