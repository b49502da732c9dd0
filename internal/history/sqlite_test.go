package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"schedkit/pkg/logx"
)

func TestSQLiteRecorder(t *testing.T) {
	t.Parallel()
	rec, err := OpenSQLite(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "history.db"),
		Keep: 100,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer rec.Close()

	base := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		it := Item{
			JobID:    "job",
			JobName:  "job",
			FireAt:   base.Add(time.Duration(i) * time.Minute),
			Started:  base.Add(time.Duration(i) * time.Minute),
			Duration: 250 * time.Millisecond,
		}
		if i == 2 {
			it.Error = "exit status 1"
		}
		if err := rec.Record(ctx, it); err != nil {
			t.Fatalf("Record %d error: %v", i, err)
		}
	}

	items, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Recent returned %d items, want 3", len(items))
	}
	// Newest first.
	if !items[0].Started.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("items[0].Started = %v, want newest run", items[0].Started)
	}
	if items[0].Error != "exit status 1" {
		t.Fatalf("items[0].Error = %q, want the recorded failure", items[0].Error)
	}
	if items[0].Duration != 250*time.Millisecond {
		t.Fatalf("items[0].Duration = %v", items[0].Duration)
	}

	// Limit applies.
	items, err = rec.Recent(ctx, 1)
	if err != nil || len(items) != 1 {
		t.Fatalf("Recent(1) = %d items, %v", len(items), err)
	}
}
