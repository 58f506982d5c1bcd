package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore represents the SQLite-backed item database.
//
// The connection pool is pinned to a single connection, so transactions are
// serialized: at most one propagation walks any chain at a time.
type SQLiteStore struct {
	db          *sql.DB
	engine      *cascade.Engine
	snapshotDir string
	now         func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithEngine sets the cascade engine notified after every mutation.
func WithEngine(e *cascade.Engine) Option {
	return func(s *SQLiteStore) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithSnapshotDir sets where GenerateSnapshot writes database copies.
func WithSnapshotDir(dir string) Option {
	return func(s *SQLiteStore) { s.snapshotDir = dir }
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"

	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); !inMemory && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	// Run goose migrations
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		engine: cascade.NewEngine(),
		now:    time.Now,
	}
	if !inMemory {
		s.snapshotDir = filepath.Join(filepath.Dir(dbPath), "snapshots")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Engine returns the cascade engine the store notifies.
func (s *SQLiteStore) Engine() *cascade.Engine {
	return s.engine
}

// withTx runs fn inside one transaction scoped to orgID. fn's error, or a
// failed commit, rolls back everything fn and the cascade wrote.
func (s *SQLiteStore) withTx(ctx context.Context, orgID string, fn func(tx *itemTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&itemTx{tx: tx, orgID: orgID, now: s.now().UTC()}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateItem persists a root item and its whole cascade chain.
func (s *SQLiteStore) CreateItem(ctx context.Context, orgID string, in types.NewItem) (*types.Item, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidItem)
	}
	if !in.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: unknown timeframe %q", ErrInvalidItem, in.Timeframe)
	}

	item := &types.Item{
		OrganizationID: orgID,
		Timeframe:      in.Timeframe,
		CategoryIndex:  in.CategoryIndex,
		Text:           in.Text,
		Status:         in.Status,
	}
	if item.Status == "" {
		item.Status = types.StatusNeutral
	}
	if in.PositionKey != nil {
		item.SetPositionKey(*in.PositionKey)
	}

	var created *types.Item
	err := s.withTx(ctx, orgID, func(tx *itemTx) error {
		var err error
		created, err = tx.Insert(ctx, item)
		if err != nil {
			return err
		}
		tx.rootID = created.ID
		return s.engine.OnItemCreated(ctx, tx, created)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("item created",
		"component", "store",
		"item_id", created.ID,
		"organization_id", orgID,
		"timeframe", created.Timeframe,
	)
	return created, nil
}

// GetItem retrieves an item by ID.
func (s *SQLiteStore) GetItem(ctx context.Context, orgID, id string) (*types.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ? AND organization_id = ?`, id, orgID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return item, nil
}

// ListItems returns the organization's items matching filter, coarsest
// timeframe first.
func (s *SQLiteStore) ListItems(ctx context.Context, orgID string, filter types.ItemFilter) ([]types.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE organization_id = ?`
	args := []any{orgID}

	if filter.Timeframe != "" {
		query += ` AND timeframe = ?`
		args = append(args, string(filter.Timeframe))
	}
	if filter.CategoryIndex != nil {
		query += ` AND category_index = ?`
		args = append(args, *filter.CategoryIndex)
	}
	if filter.RootsOnly {
		query += ` AND is_cascaded = 0`
	}
	query += ` ORDER BY cascade_level ASC, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]types.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}

// GetChain returns the full chain id belongs to: its root first, then every
// descendant down to the terminal timeframe.
func (s *SQLiteStore) GetChain(ctx context.Context, orgID, id string) ([]types.Item, error) {
	var chain []types.Item
	err := s.withTx(ctx, orgID, func(tx *itemTx) error {
		item, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrNotFound
		}
		root, err := s.engine.Root(ctx, tx, item)
		if err != nil {
			return err
		}
		chain, err = s.engine.Chain(ctx, tx, root)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// UpdateItem applies update to a root item and carries the change down its
// chain. Moving the item rebuilds the chain from the new position.
func (s *SQLiteStore) UpdateItem(ctx context.Context, orgID, id string, update types.ItemUpdate) (*types.Item, error) {
	var updated *types.Item
	var changed types.ChangedFields
	err := s.withTx(ctx, orgID, func(tx *itemTx) error {
		before, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return ErrNotFound
		}
		if before.IsCascaded {
			return ErrCascadedItemImmutable
		}

		changed = update.Diff(before)
		if len(changed) == 0 {
			updated = before
			return nil
		}

		tx.rootID = before.ID
		updated, err = tx.Update(ctx, id, update)
		if err != nil {
			return err
		}
		return s.engine.OnItemUpdated(ctx, tx, updated, changed)
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		slog.Info("item updated",
			"component", "store",
			"item_id", id,
			"organization_id", orgID,
			"changed", changed,
		)
	}
	return updated, nil
}

// DeleteItem removes a root item and every item cascaded from it.
func (s *SQLiteStore) DeleteItem(ctx context.Context, orgID, id string) error {
	err := s.withTx(ctx, orgID, func(tx *itemTx) error {
		item, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrNotFound
		}
		if item.IsCascaded {
			return ErrCascadedItemImmutable
		}

		tx.rootID = item.ID
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}
		return s.engine.OnItemDeleted(ctx, tx, item)
	})
	if err != nil {
		return err
	}

	slog.Info("item deleted",
		"component", "store",
		"item_id", id,
		"organization_id", orgID,
	)
	return nil
}

// GetStats returns aggregate item statistics for an organization.
func (s *SQLiteStore) GetStats(ctx context.Context, orgID string) (*types.StoreStats, error) {
	stats := &types.StoreStats{TimeframeStats: make(map[types.Timeframe]int64)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT timeframe, COUNT(*), SUM(CASE WHEN is_cascaded = 0 THEN 1 ELSE 0 END)
		FROM items
		WHERE organization_id = ?
		GROUP BY timeframe
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tf string
		var count, roots int64
		if err := rows.Scan(&tf, &count, &roots); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.TimeframeStats[types.Timeframe(tf)] = count
		stats.ItemCount += count
		stats.RootCount += roots
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}

	seq, err := s.GetLatestSequence(ctx, orgID)
	if err != nil {
		return nil, err
	}
	stats.LatestSequence = seq
	stats.LastSnapshot = s.lastSnapshotTime(ctx)

	return stats, nil
}

const itemColumns = `id, organization_id, timeframe, category_index, year_index, month_col_index,
	week_number, daily_date_key, text, status, parent_item_id, is_cascaded, cascade_level,
	created_at, updated_at`

// scanItem scans a row into an Item, handling nullable positions and timestamps.
func scanItem(scanner interface{ Scan(...any) error }) (*types.Item, error) {
	var item types.Item
	var timeframe string
	var yearIndex, monthColIndex, weekNumber, dailyDateKey sql.NullInt64
	var parentID sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&item.ID,
		&item.OrganizationID,
		&timeframe,
		&item.CategoryIndex,
		&yearIndex,
		&monthColIndex,
		&weekNumber,
		&dailyDateKey,
		&item.Text,
		&item.Status,
		&parentID,
		&item.IsCascaded,
		&item.CascadeLevel,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Timeframe = types.Timeframe(timeframe)
	item.YearIndex = nullIntPtr(yearIndex)
	item.MonthColIndex = nullIntPtr(monthColIndex)
	item.WeekNumber = nullIntPtr(weekNumber)
	item.DailyDateKey = nullIntPtr(dailyDateKey)
	if parentID.Valid {
		p := parentID.String
		item.ParentItemID = &p
	}

	// Parse timestamps
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		item.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		item.UpdatedAt = t
	}

	return &item, nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// intArg converts an optional int to a SQL argument.
func intArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
