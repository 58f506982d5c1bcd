package e2e

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/strata/internal/api"
	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/store"
	"github.com/hyperengineering/strata/internal/worker"
	"github.com/hyperengineering/strata/pkg/strata"

	_ "modernc.org/sqlite"
)

const integrationKey = "test-api-key"

// setupIntegrationEnv runs the real router over a file-backed store so
// snapshots can be generated, reading 2025 as the current year.
func setupIntegrationEnv(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()

	engine := cascade.NewEngine(cascade.WithClock(func() time.Time {
		return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	}))
	s, err := store.NewSQLiteStore(filepath.Join(dir, "strata.db"),
		store.WithEngine(engine),
		store.WithSnapshotDir(filepath.Join(dir, "snapshots")))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(api.NewRouter(api.NewHandler(s, engine, nil, integrationKey, "test"), api.RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv, s
}

func newIntegrationClient(t *testing.T, srv *httptest.Server, orgID string) *strata.Client {
	t.Helper()
	c, err := strata.New(strata.Config{BaseURL: srv.URL, APIKey: integrationKey, OrganizationID: orgID})
	if err != nil {
		t.Fatalf("strata.New() error = %v", err)
	}
	return c
}

func getSnapshot(t *testing.T, srv *httptest.Server) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+integrationKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

// openSnapshotDB writes snapshot bytes to a temp file and opens as SQLite.
func openSnapshotDB(t *testing.T, data []byte) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write snapshot file: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open snapshot DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIntegration_SnapshotNotYetGenerated(t *testing.T) {
	srv, _ := setupIntegrationEnv(t)

	resp, body := getSnapshot(t, srv)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After: 60, got %q", resp.Header.Get("Retry-After"))
	}
}

func TestIntegration_SnapshotHoldsItemsAndChangeLog(t *testing.T) {
	srv, s := setupIntegrationEnv(t)
	ctx := context.Background()

	if _, err := newIntegrationClient(t, srv, "org-a").CreateItem(ctx, strata.CreateParams{Timeframe: strata.Yearly, PositionKey: 0}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if _, err := newIntegrationClient(t, srv, "org-b").CreateItem(ctx, strata.CreateParams{Timeframe: strata.Weekly, PositionKey: 10}); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := s.GenerateSnapshot(ctx); err != nil {
		t.Fatalf("GenerateSnapshot() error = %v", err)
	}

	resp, body := getSnapshot(t, srv)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(string(body), "SQLite format 3") {
		t.Fatal("snapshot is not a SQLite file")
	}

	snap := openSnapshotDB(t, body)
	var items, changes int
	if err := snap.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&items); err != nil {
		t.Fatalf("query snapshot items: %v", err)
	}
	if err := snap.QueryRow(`SELECT COUNT(*) FROM change_log`).Scan(&changes); err != nil {
		t.Fatalf("query snapshot change_log: %v", err)
	}
	if items != 6 || changes != 6 {
		t.Errorf("snapshot holds %d items and %d changes, want 6 and 6", items, changes)
	}
}

func TestIntegration_SnapshotWorkerFeedsEndpoint(t *testing.T) {
	srv, s := setupIntegrationEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.NewSnapshotWorker(s, nil, time.Hour).Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, _ := getSnapshot(t, srv)
		if resp.StatusCode == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never became available, last status %d", resp.StatusCode)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestIntegration_FollowSeesEveryChainMember(t *testing.T) {
	srv, _ := setupIntegrationEnv(t)
	c := newIntegrationClient(t, srv, "org-follow")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	created, err := c.CreateItem(ctx, strata.CreateParams{Timeframe: strata.Monthly, PositionKey: 24311})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := c.DeleteItem(ctx, created.Item.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}

	// 3 inserts then 3 deletes
	var seen []strata.Change
	errDone := io.EOF
	err = c.Follow(ctx, 0, 10*time.Millisecond, func(ch strata.Change) error {
		seen = append(seen, ch)
		if len(seen) == 6 {
			return errDone
		}
		return nil
	})
	if err != errDone {
		t.Fatalf("Follow() error = %v", err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Sequence <= seen[i-1].Sequence {
			t.Errorf("sequence not increasing at %d: %d after %d", i, seen[i].Sequence, seen[i-1].Sequence)
		}
	}
}
