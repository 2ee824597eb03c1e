package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"palisade/internal/domain"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	r, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteRecordRun(t *testing.T) {
	ctx := context.Background()
	r := openTestDB(t)

	started := time.Date(2024, 5, 6, 21, 15, 3, 0, time.UTC)
	report := domain.RunReport{
		Started:  started,
		Finished: started.Add(12 * time.Second),
		Mode:     domain.ModeLive,
	}
	report.Add(domain.Outcome{
		Symbol: "AAPL", Status: domain.OutcomeCreated,
		Action: domain.ActionCreate, OrderID: "o1", StopPrice: 95.5,
	})
	report.Add(domain.Outcome{
		Symbol: "MSFT", Status: domain.OutcomeFailed,
		Action: domain.ActionReplace, Reason: "replace", Error: "boom",
	})

	if err := r.RecordRun(ctx, report); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, ok, err := r.LastRun(ctx)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !ok {
		t.Fatal("LastRun ok = false after a recorded run")
	}
	if got.Unix() != started.Unix() {
		t.Errorf("LastRun = %v, want %v", got, started)
	}

	var outcomes int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM run_outcomes`).Scan(&outcomes); err != nil {
		t.Fatalf("count outcomes: %v", err)
	}
	if outcomes != 2 {
		t.Errorf("outcome rows = %d, want 2", outcomes)
	}
}

func TestSQLiteLastRunEmpty(t *testing.T) {
	r := openTestDB(t)

	_, ok, err := r.LastRun(context.Background())
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if ok {
		t.Error("LastRun ok = true on empty database")
	}
}

func TestSQLiteLastRunPicksNewest(t *testing.T) {
	ctx := context.Background()
	r := openTestDB(t)

	older := time.Date(2024, 5, 5, 21, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 0, 1)
	for _, ts := range []time.Time{newer, older} {
		report := domain.RunReport{Started: ts, Finished: ts, Mode: domain.ModeDryRun}
		if err := r.RecordRun(ctx, report); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	got, ok, _ := r.LastRun(ctx)
	if !ok || got.Unix() != newer.Unix() {
		t.Errorf("LastRun = %v/%v, want %v", got, ok, newer)
	}
}

func TestSQLiteExportCutoff(t *testing.T) {
	ctx := context.Background()
	r := openTestDB(t)

	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := r.ExportCutoff(ctx, fallback)
	if err != nil {
		t.Fatalf("ExportCutoff: %v", err)
	}
	if !got.Equal(fallback) {
		t.Errorf("empty cutoff = %v, want fallback %v", got, fallback)
	}

	recorded := time.Date(2024, 3, 15, 19, 0, 0, 123456789, time.UTC)
	err = r.RecordExport(ctx, ExportRecord{
		Started:  recorded.Add(-time.Minute),
		Finished: recorded,
		Rows:     42,
		Cutoff:   recorded,
	})
	if err != nil {
		t.Fatalf("RecordExport: %v", err)
	}

	got, err = r.ExportCutoff(ctx, fallback)
	if err != nil {
		t.Fatalf("ExportCutoff: %v", err)
	}
	if !got.Equal(recorded) {
		t.Errorf("cutoff = %v, want recorded %v", got, recorded)
	}

	laterFallback := recorded.AddDate(0, 1, 0)
	got, err = r.ExportCutoff(ctx, laterFallback)
	if err != nil {
		t.Fatalf("ExportCutoff: %v", err)
	}
	if !got.Equal(laterFallback) {
		t.Errorf("cutoff = %v, want later fallback %v", got, laterFallback)
	}
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	n := NewNoop()

	if err := n.RecordRun(ctx, domain.RunReport{}); err != nil {
		t.Errorf("RecordRun: %v", err)
	}
	if _, ok, err := n.LastRun(ctx); ok || err != nil {
		t.Errorf("LastRun = %v/%v, want false/nil", ok, err)
	}
	fallback := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := n.ExportCutoff(ctx, fallback)
	if err != nil || !got.Equal(fallback) {
		t.Errorf("ExportCutoff = %v/%v, want fallback", got, err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
