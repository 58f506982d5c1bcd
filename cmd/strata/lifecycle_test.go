package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/strata/internal/config"
)

// logCapture captures slog output for testing
type logCapture struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (c *logCapture) handler() slog.Handler {
	return slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug})
}

func (c *logCapture) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err == nil {
		c.entries = append(c.entries, entry)
	}
	return len(p), nil
}

func (c *logCapture) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []string
	for _, e := range c.entries {
		if msg, ok := e["msg"].(string); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func (c *logCapture) hasMessage(msg string) bool {
	for _, m := range c.messages() {
		if m == msg {
			return true
		}
	}
	return false
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	capture := &logCapture{}
	oldDefault := slog.Default()
	slog.SetDefault(slog.New(capture.handler()))
	t.Cleanup(func() { slog.SetDefault(oldDefault) })
	return capture
}

// TestStartWorker_LaunchesGoroutineAndTracksCompletion tests the startWorker helper
func TestStartWorker_LaunchesGoroutineAndTracksCompletion(t *testing.T) {
	capture := captureLogs(t)

	var g errgroup.Group
	ctx, cancel := context.WithCancel(context.Background())

	workerRan := atomic.Bool{}
	startWorker(ctx, &g, "test-worker", func(ctx context.Context) {
		workerRan.Store(true)
		<-ctx.Done()
	})

	// Give worker time to start
	time.Sleep(10 * time.Millisecond)

	if !workerRan.Load() {
		t.Error("worker function was not called")
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	if !capture.hasMessage("worker started") {
		t.Error("expected 'worker started' log message")
	}
	if !capture.hasMessage("worker stopped") {
		t.Error("expected 'worker stopped' log message")
	}
}

// TestStartWorker_RespectsContextCancellation verifies workers stop when context is cancelled
func TestStartWorker_RespectsContextCancellation(t *testing.T) {
	var g errgroup.Group
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	startWorker(ctx, &g, "cancel-test", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	cancel()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("worker did not respond to context cancellation")
	}

	g.Wait()
}

// TestStartWorker_EarlyReturnKeepsGroupRunning verifies a worker that exits on
// its own does not cancel its siblings.
func TestStartWorker_EarlyReturnKeepsGroupRunning(t *testing.T) {
	g, gctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(gctx)
	defer cancel()

	startWorker(ctx, g, "early", func(context.Context) {})

	time.Sleep(20 * time.Millisecond)
	if gctx.Err() != nil {
		t.Fatal("group context cancelled by a worker that returned normally")
	}

	cancel()
	g.Wait()
}

// TestWorkerGroupWaitsForCleanup verifies workers are waited on during shutdown
func TestWorkerGroupWaitsForCleanup(t *testing.T) {
	var g errgroup.Group
	ctx, cancel := context.WithCancel(context.Background())

	workerCompleted := atomic.Bool{}
	startWorker(ctx, &g, "slow-worker", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond) // Simulate cleanup work
		workerCompleted.Store(true)
	})

	cancel()
	g.Wait()

	if !workerCompleted.Load() {
		t.Error("Wait() returned before worker completed")
	}
}

// TestServerFailureStopsWorkers verifies a failing member of the group
// cancels the context the workers run on.
func TestServerFailureStopsWorkers(t *testing.T) {
	g, gctx := errgroup.WithContext(context.Background())

	stopped := make(chan struct{})
	startWorker(gctx, g, "snapshot", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	serverErr := errors.New("listen tcp :8080: address already in use")
	g.Go(func() error { return serverErr })

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after the server failed")
	}
	if err := g.Wait(); !errors.Is(err, serverErr) {
		t.Errorf("Wait() error = %v, want the server error", err)
	}
}

// TestStartWorker_LogsWorkerName verifies worker name is included in log attributes
func TestStartWorker_LogsWorkerName(t *testing.T) {
	capture := captureLogs(t)

	var g errgroup.Group
	ctx, cancel := context.WithCancel(context.Background())

	startWorker(ctx, &g, "my-custom-worker", func(ctx context.Context) {
		<-ctx.Done()
	})

	time.Sleep(10 * time.Millisecond)
	cancel()
	g.Wait()

	capture.mu.Lock()
	defer capture.mu.Unlock()

	foundWorkerName := false
	for _, entry := range capture.entries {
		if worker, ok := entry["worker"].(string); ok && worker == "my-custom-worker" {
			foundWorkerName = true
			break
		}
	}

	if !foundWorkerName {
		t.Error("expected log entry with worker='my-custom-worker' attribute")
	}
}

// TestShutdownTimeoutRespected verifies shutdown doesn't hang indefinitely
func TestShutdownTimeoutRespected(t *testing.T) {
	blockingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {} // Block forever
	})

	srv := &http.Server{
		Addr:    ":0",
		Handler: blockingHandler,
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	srv.Shutdown(shutdownCtx)
	elapsed := time.Since(start)

	if elapsed > 50*time.Millisecond {
		t.Errorf("shutdown took %v, expected <= 50ms", elapsed)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer

	newLogger(&buf, config.LogConfig{Level: "info", Format: "json"}).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json format output = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "info", Format: "text"}).Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text format output = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "warn", Format: "text"}).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
}

func TestServe_RequiresAPIKey(t *testing.T) {
	testDB(t)
	t.Setenv("STRATA_API_KEY", "")
	t.Setenv("STRATA_DEV_MODE", "false")

	_, _, err := executeCmd(t, "", "serve")
	if err == nil || !strings.Contains(err.Error(), "STRATA_API_KEY") {
		t.Errorf("error = %v, want a missing API key error", err)
	}
}
