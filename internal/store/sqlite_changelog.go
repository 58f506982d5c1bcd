package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/strata/internal/changelog"
)

const insertChangeLogSQL = `
	INSERT INTO change_log (organization_id, entity_id, operation, payload, source, root_item_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

// changeLogArgs returns the SQL arguments for inserting a changelog.Entry.
func changeLogArgs(e *changelog.Entry) []any {
	var root any
	if e.RootItemID != "" {
		root = e.RootItemID
	}
	return []any{
		e.OrganizationID, e.EntityID, e.Operation,
		nullablePayload(e.Payload), e.Source, root,
		e.CreatedAt.Format(time.RFC3339Nano),
	}
}

// GetChangeLogAfter returns an organization's entries with sequence > afterSeq,
// up to limit.
func (s *SQLiteStore) GetChangeLogAfter(ctx context.Context, orgID string, afterSeq int64, limit int) ([]changelog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, organization_id, entity_id, operation, payload, source, root_item_id, created_at
		FROM change_log
		WHERE organization_id = ? AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, orgID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	entries := make([]changelog.Entry, 0)
	for rows.Next() {
		var e changelog.Entry
		var payload, rootID sql.NullString
		var createdAt string

		if err := rows.Scan(&e.Sequence, &e.OrganizationID, &e.EntityID, &e.Operation,
			&payload, &e.Source, &rootID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan change log entry: %w", err)
		}

		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.RootItemID = rootID.String
		var parseErr error
		if e.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
			slog.Warn("change_log: failed to parse created_at", "value", createdAt, "error", parseErr)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLatestSequence returns the highest sequence number logged for an
// organization. Returns 0 if it has no entries.
func (s *SQLiteStore) GetLatestSequence(ctx context.Context, orgID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM change_log WHERE organization_id = ?`, orgID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// PruneChangeLog removes entries created before the cutoff across all
// organizations. Returns the number of entries removed.
func (s *SQLiteStore) PruneChangeLog(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM change_log WHERE created_at < ?
	`, before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune change log: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune change log: %w", err)
	}

	if err := s.SetMeta(ctx, changelog.MetaLastPruneAt, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return removed, err
	}
	return removed, nil
}

// GetMeta retrieves a store metadata value by key.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM store_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get store meta: %w", err)
	}
	return value, nil
}

// SetMeta sets a store metadata value.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO store_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set store meta: %w", err)
	}
	return nil
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
// Returns nil for empty/null payloads, string otherwise.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
