// Package worker runs the periodic background jobs of the holdings service.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtlprog/holdings/internal/summary"
)

// SnapshotGenerator defines the interface for generating snapshots.
type SnapshotGenerator interface {
	Generate(ctx context.Context, owner string, date time.Time) (summary.Holdings, error)
}

// AfterSnapshotHook is called after each successful snapshot generation.
type AfterSnapshotHook interface {
	Export(ctx context.Context, data summary.Holdings) error
}

// SnapshotWorker periodically snapshots the holdings of a fixed set of owners.
type SnapshotWorker struct {
	generator SnapshotGenerator
	owners    []string
	interval  time.Duration
	hook      AfterSnapshotHook // optional
	now       func() time.Time
}

// NewSnapshotWorker creates a new SnapshotWorker with an optional post-generation hook.
func NewSnapshotWorker(generator SnapshotGenerator, owners []string, interval time.Duration, hook AfterSnapshotHook) *SnapshotWorker {
	return &SnapshotWorker{
		generator: generator,
		owners:    owners,
		interval:  interval,
		hook:      hook,
		now:       time.Now,
	}
}

// runHook calls the post-generation hook if one is configured.
func (w *SnapshotWorker) runHook(ctx context.Context, data summary.Holdings) {
	if w.hook == nil {
		return
	}
	if err := w.hook.Export(ctx, data); err != nil {
		slog.Error("SnapshotWorker: export hook failed", "owner", data.Owner, "error", err)
	} else {
		slog.Info("SnapshotWorker: export hook completed", "owner", data.Owner)
	}
}

// utcDate returns the current date normalized to midnight UTC.
func (w *SnapshotWorker) utcDate() time.Time {
	now := w.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// generateAll snapshots every owner. One owner's failure does not stop the others.
func (w *SnapshotWorker) generateAll(ctx context.Context) {
	date := w.utcDate()
	for _, owner := range w.owners {
		if ctx.Err() != nil {
			return
		}
		data, err := w.generator.Generate(ctx, owner, date)
		if err != nil {
			slog.Error("SnapshotWorker: generation failed", "owner", owner, "error", err)
			continue
		}
		slog.Info("SnapshotWorker: generation completed", "owner", owner, "date", date.Format(time.DateOnly))
		w.runHook(ctx, data)
	}
}

// Run starts the snapshot worker loop. It blocks until the context is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("SnapshotWorker: starting", "owners", len(w.owners), "interval", w.interval)

	// Generate immediately on startup
	w.generateAll(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("SnapshotWorker: shutting down")
			return
		case <-ticker.C:
			w.generateAll(ctx)
		}
	}
}
