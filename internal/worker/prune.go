// Package worker runs the server's periodic background jobs.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// PruneStore defines the store operations needed by the prune worker.
type PruneStore interface {
	PruneChangeLog(ctx context.Context, before time.Time) (int64, error)
}

// ChangelogPruneWorker periodically removes change-log entries older than
// the retention window.
type ChangelogPruneWorker struct {
	store     PruneStore
	interval  time.Duration
	retention time.Duration
}

// NewChangelogPruneWorker creates a worker with the given store, interval and retention.
func NewChangelogPruneWorker(store PruneStore, interval, retention time.Duration) *ChangelogPruneWorker {
	return &ChangelogPruneWorker{
		store:     store,
		interval:  interval,
		retention: retention,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start.
func (w *ChangelogPruneWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "changelog-prune",
		"interval", w.interval.String(),
		"retention", w.retention.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "changelog-prune",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runPrune(ctx)
		}
	}
}

// runPrune executes a single prune cycle.
func (w *ChangelogPruneWorker) runPrune(ctx context.Context) {
	start := time.Now()
	cutoff := start.Add(-w.retention)

	slog.Debug("prune cycle started",
		"component", "worker",
		"action", "prune_start",
		"cutoff", cutoff.Format(time.RFC3339),
	)

	removed, err := w.store.PruneChangeLog(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("prune failed",
			"component", "worker",
			"action", "prune_failed",
			"error", err,
		)
		return
	}

	slog.Info("prune cycle completed",
		"component", "worker",
		"action", "prune_complete",
		"removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
