//go:build integration

package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	return db
}

func TestRunMigrations_FreshDatabase(t *testing.T) {
	db := openMigrated(t)

	// Then: every table exists with all required columns
	_, err := db.Exec(`
		SELECT id, organization_id, timeframe, category_index, year_index, month_col_index,
		       week_number, daily_date_key, text, status, parent_item_id, is_cascaded,
		       cascade_level, created_at, updated_at
		FROM items LIMIT 0
	`)
	if err != nil {
		t.Fatalf("items missing required columns: %v", err)
	}

	_, err = db.Exec(`
		SELECT sequence, organization_id, entity_id, operation, payload, source, root_item_id, created_at
		FROM change_log LIMIT 0
	`)
	if err != nil {
		t.Fatalf("change_log missing required columns: %v", err)
	}

	if _, err := db.Exec(`SELECT key, value FROM store_meta LIMIT 0`); err != nil {
		t.Fatalf("store_meta missing: %v", err)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := openMigrated(t)

	// When: RunMigrations is called again
	// Then: No error occurs (idempotent)
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second migration should be idempotent, got error: %v", err)
	}
}

func TestRunMigrations_PreservesData(t *testing.T) {
	db := openMigrated(t)

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO items (id, organization_id, timeframe, year_index, text, created_at, updated_at)
		VALUES ('test-id-123', 'org-1', 'yearly', 0, 'Test content', ?, ?)
	`, now, now)
	if err != nil {
		t.Fatalf("failed to insert test data: %v", err)
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("re-migration failed: %v", err)
	}

	var text string
	err = db.QueryRow(`SELECT text FROM items WHERE id = 'test-id-123'`).Scan(&text)
	if err != nil {
		t.Fatalf("data not preserved after migration: %v", err)
	}
	if text != "Test content" {
		t.Errorf("expected text 'Test content', got %q", text)
	}
}

func TestSchema_Indexes(t *testing.T) {
	db := openMigrated(t)

	expectedIndexes := []string{
		"idx_items_org_timeframe",
		"idx_items_org_category",
		"idx_items_parent",
		"idx_change_log_org_sequence",
		"idx_change_log_created_at",
	}

	for _, idx := range expectedIndexes {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name=?`, idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", idx, err)
		}
	}
}

func TestSchema_RejectsInconsistentRows(t *testing.T) {
	db := openMigrated(t)
	now := time.Now().UTC().Format(time.RFC3339)

	tests := []struct {
		name  string
		query string
	}{
		{
			name:  "unknown timeframe",
			query: `INSERT INTO items (id, organization_id, timeframe, created_at, updated_at) VALUES ('a', 'o', 'quarterly', ?, ?)`,
		},
		{
			name:  "cascaded without parent",
			query: `INSERT INTO items (id, organization_id, timeframe, is_cascaded, cascade_level, created_at, updated_at) VALUES ('b', 'o', 'monthly', 1, 1, ?, ?)`,
		},
		{
			name:  "root with cascade level",
			query: `INSERT INTO items (id, organization_id, timeframe, cascade_level, created_at, updated_at) VALUES ('c', 'o', 'yearly', 2, ?, ?)`,
		},
		{
			name:  "cascade level above three",
			query: `INSERT INTO items (id, organization_id, timeframe, is_cascaded, cascade_level, parent_item_id, created_at, updated_at) VALUES ('d', 'o', 'daily', 1, 4, 'x', ?, ?)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Exec(tt.query, now, now); err == nil {
				t.Error("expected constraint violation")
			}
		})
	}
}

func TestWALMode_Enabled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	var journalMode string
	err = store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected journal_mode 'wal', got %q", journalMode)
	}
}

func TestPragmas_Applied(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	var busyTimeout int
	if err := store.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := store.db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("expected foreign_keys 1, got %d", foreignKeys)
	}

	var synchronous int
	if err := store.db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("failed to query synchronous: %v", err)
	}
	if synchronous != 1 {
		t.Errorf("expected synchronous 1 (NORMAL), got %d", synchronous)
	}
}

func TestNewSQLiteStore_CreatesParentDirectories(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store with nested path: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}
