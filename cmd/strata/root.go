package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/strata/internal/api"
	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/config"
	"github.com/hyperengineering/strata/internal/snapshot"
	"github.com/hyperengineering/strata/internal/store"
	"github.com/hyperengineering/strata/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

// newRootCmd builds the command tree. Running strata without a subcommand
// starts the server.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "strata",
		Short:        "Strata - cascading goal planner",
		SilenceUsage: true,
		RunE:         runServe,
		Version:      Version,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
	rootCmd.AddCommand(newItemCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newStatsCmd())

	return rootCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// 4. Initialize cascade engine and store (migrations, WAL mode)
	engine, err := newEngine(cfg, cascade.WithLogger(logger))
	if err != nil {
		return err
	}
	db, err := openStore(cfg, cfg.Database.Path, engine)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path, "reference_year", engine.ReferenceYear())

	// 5. Initialize snapshot storage
	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		db.Close()
		return err
	}
	slog.Info("snapshot storage initialized", "bucket", cfg.SnapshotStorage.Bucket)

	// 6. Initialize HTTP router
	handler := api.NewHandler(db, engine, uploader, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler, api.RouterOptions{
		DeleteBurst:  cfg.Server.DeleteBurst,
		DeleteRefill: time.Duration(cfg.Server.DeleteRefill),
	})
	slog.Info("router initialized")

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Workers share the group context, so a server failure stops them too
	g, gctx := errgroup.WithContext(ctx)

	snapshotWorker := worker.NewSnapshotWorker(db, uploader,
		time.Duration(cfg.Worker.SnapshotInterval),
		worker.WithUploadAttempts(cfg.Worker.SnapshotUploadAttempts))
	startWorker(gctx, g, "snapshot", snapshotWorker.Run)

	pruneWorker := worker.NewChangelogPruneWorker(db,
		time.Duration(cfg.Worker.ChangelogPruneInterval),
		time.Duration(cfg.Worker.ChangelogRetention))
	startWorker(gctx, g, "changelog-prune", pruneWorker.Run)

	// 9. Start HTTP server
	g.Go(func() error {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 10. Block until signal received or the server fails, then drain
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown initiated")

		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout))
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	// 11. Wait for the server and workers, then close the store last
	runErr := g.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return runErr
}

// newLogger builds the process logger from the log section of the config.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newEngine creates a cascade engine that reads the current year in the
// configured reference time zone.
func newEngine(cfg *config.Config, opts ...cascade.Option) (*cascade.Engine, error) {
	loc, err := cfg.Cascade.Location()
	if err != nil {
		return nil, err
	}
	return cascade.NewEngine(append([]cascade.Option{cascade.WithLocation(loc)}, opts...)...), nil
}

// openStore opens the SQLite store at dbPath with engine as its cascade hook.
func openStore(cfg *config.Config, dbPath string, engine *cascade.Engine) (*store.SQLiteStore, error) {
	opts := []store.Option{store.WithEngine(engine)}
	if cfg.Database.SnapshotDir != "" {
		opts = append(opts, store.WithSnapshotDir(cfg.Database.SnapshotDir))
	}
	return store.NewSQLiteStore(dbPath, opts...)
}

// startWorker launches a background worker in g that respects context cancellation.
// A worker returning early does not stop the group.
func startWorker(ctx context.Context, g *errgroup.Group, name string, fn func(ctx context.Context)) {
	g.Go(func() error {
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
		return nil
	})
}
