// Package recorder persists run reports and the export pipeline's
// incremental bookkeeping. It is write-mostly: the engine records what
// happened, the export pipeline reads back only its last cutoff.
package recorder

import (
	"context"
	"time"

	"palisade/internal/domain"
)

// ExportRecord is one completed export pipeline run.
type ExportRecord struct {
	Started  time.Time
	Finished time.Time
	Rows     int
	Cutoff   time.Time
}

// Recorder persists run reports and export state.
type Recorder interface {
	// RecordRun stores the report and its per-symbol outcomes.
	RecordRun(ctx context.Context, report domain.RunReport) error

	// LastRun returns when the most recent run started. ok is false when
	// nothing has been recorded yet.
	LastRun(ctx context.Context) (started time.Time, ok bool, err error)

	// ExportCutoff returns the newest recorded export cutoff, or fallback
	// when that is later or nothing has been recorded.
	ExportCutoff(ctx context.Context, fallback time.Time) (time.Time, error)

	// RecordExport stores one export pipeline run.
	RecordExport(ctx context.Context, rec ExportRecord) error

	// Close releases the backing store.
	Close() error
}

// ---------------------------------------------------------------------------
// Noop
// ---------------------------------------------------------------------------

var _ Recorder = Noop{}

// Noop discards everything. Used when no database path is configured.
type Noop struct{}

// NewNoop returns a Recorder that keeps nothing.
func NewNoop() Noop { return Noop{} }

func (Noop) RecordRun(context.Context, domain.RunReport) error { return nil }

func (Noop) LastRun(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (Noop) ExportCutoff(_ context.Context, fallback time.Time) (time.Time, error) {
	return fallback, nil
}

func (Noop) RecordExport(context.Context, ExportRecord) error { return nil }

func (Noop) Close() error { return nil }
