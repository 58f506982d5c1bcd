package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/strata/internal/snapshot"
	"github.com/hyperengineering/strata/internal/store"
)

// SnapshotStore defines the store operations needed by the snapshot worker.
type SnapshotStore interface {
	GenerateSnapshot(ctx context.Context) error
	GetSnapshotPath(ctx context.Context) (string, error)
}

// SnapshotWorker generates periodic database snapshots and ships each one
// to object storage.
type SnapshotWorker struct {
	store     SnapshotStore
	uploader  snapshot.Uploader
	interval  time.Duration
	attempts  int
	retryBase time.Duration
}

// SnapshotOption configures a SnapshotWorker.
type SnapshotOption func(*SnapshotWorker)

// WithUploadAttempts bounds the number of upload attempts per snapshot.
func WithUploadAttempts(n int) SnapshotOption {
	return func(w *SnapshotWorker) {
		if n > 0 {
			w.attempts = n
		}
	}
}

// WithRetryBase sets the first backoff delay between upload attempts.
func WithRetryBase(d time.Duration) SnapshotOption {
	return func(w *SnapshotWorker) {
		if d > 0 {
			w.retryBase = d
		}
	}
}

// NewSnapshotWorker creates a worker with the given store, uploader and
// interval. A nil uploader keeps snapshots on local disk.
func NewSnapshotWorker(s SnapshotStore, uploader snapshot.Uploader, interval time.Duration, opts ...SnapshotOption) *SnapshotWorker {
	if uploader == nil {
		uploader = &snapshot.NoopUploader{}
	}
	w := &SnapshotWorker{
		store:     s,
		uploader:  uploader,
		interval:  interval,
		attempts:  5,
		retryBase: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the worker loop. Generates a snapshot immediately on start,
// then on each interval. Respects context cancellation for graceful shutdown.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if !w.runOnce(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			if !w.runOnce(ctx) {
				return
			}
		}
	}
}

// runOnce generates and uploads one snapshot. It reports false when the
// store has no snapshot directory, which stops the worker for good.
func (w *SnapshotWorker) runOnce(ctx context.Context) bool {
	start := time.Now()
	slog.Debug("snapshot generation started",
		"component", "worker",
		"action", "snapshot_start",
	)

	if err := w.store.GenerateSnapshot(ctx); err != nil {
		if ctx.Err() != nil {
			return true
		}
		if errors.Is(err, store.ErrSnapshotNotConfigured) {
			slog.Info("snapshots disabled, worker exiting",
				"component", "worker",
				"worker", "snapshot",
			)
			return false
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"action", "snapshot_failed",
			"error", err,
		)
		return true
	}

	path, err := w.store.GetSnapshotPath(ctx)
	if err != nil {
		slog.Warn("snapshot path unavailable",
			"component", "worker",
			"action", "snapshot_failed",
			"error", err,
		)
		return true
	}

	attrs := []any{
		"component", "worker",
		"action", "snapshot_complete",
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if info, err := os.Stat(path); err == nil {
		attrs = append(attrs, "size", humanize.Bytes(uint64(info.Size())))
	}
	slog.Info("snapshot generated", attrs...)

	if _, local := w.uploader.(*snapshot.NoopUploader); !local {
		w.upload(ctx, path, start)
	}
	return true
}

// upload ships the snapshot with exponential backoff between attempts.
func (w *SnapshotWorker) upload(ctx context.Context, path string, takenAt time.Time) {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(w.attempts-1), retry.NewExponential(w.retryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := w.uploader.Upload(ctx, path, takenAt); err != nil {
			slog.Debug("snapshot upload attempt failed",
				"component", "worker",
				"action", "snapshot_upload_retry",
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("snapshot upload failed",
			"component", "worker",
			"action", "snapshot_upload_failed",
			"attempts", attempt,
			"error", err,
		)
		return
	}

	slog.Info("snapshot uploaded",
		"component", "worker",
		"action", "snapshot_upload",
		"attempts", attempt,
	)
}
