package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/strata/internal/cascade"
	"github.com/hyperengineering/strata/internal/changelog"
	"github.com/hyperengineering/strata/internal/types"
)

// itemTx is the cascade.ItemStore handed to the engine. Every call runs on the
// enclosing transaction and only sees items of one organization; every
// mutation appends a change-log row in the same transaction.
type itemTx struct {
	tx     *sql.Tx
	orgID  string
	now    time.Time
	rootID string
}

var _ cascade.ItemStore = (*itemTx)(nil)

func (t *itemTx) FindByID(ctx context.Context, id string) (*types.Item, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ? AND organization_id = ?`, id, t.orgID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan item %s: %w", id, err)
	}
	return item, nil
}

// FindChild returns the single item whose parent is parentID. Fetching two
// rows is enough to detect a corrupt fan-out.
func (t *itemTx) FindChild(ctx context.Context, parentID string) (*types.Item, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM items
		WHERE parent_item_id = ? AND organization_id = ?
		LIMIT 2`, parentID, t.orgID)
	if err != nil {
		return nil, fmt.Errorf("query children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var children []*types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child of %s: %w", parentID, err)
		}
		children = append(children, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children of %s: %w", parentID, err)
	}

	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return children[0], nil
	default:
		return nil, fmt.Errorf("%w: item %s has more than one child", cascade.ErrInvariantViolation, parentID)
	}
}

func (t *itemTx) Insert(ctx context.Context, item *types.Item) (*types.Item, error) {
	if item.OrganizationID != "" && item.OrganizationID != t.orgID {
		return nil, fmt.Errorf("%w: item belongs to organization %q", ErrInvalidItem, item.OrganizationID)
	}

	out := *item
	out.ID = ulid.Make().String()
	out.OrganizationID = t.orgID
	out.CreatedAt = t.now
	out.UpdatedAt = t.now
	if !out.IsCascaded && t.rootID == "" {
		t.rootID = out.ID
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO items (id, organization_id, timeframe, category_index, year_index,
			month_col_index, week_number, daily_date_key, text, status, parent_item_id,
			is_cascaded, cascade_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		out.ID, out.OrganizationID, string(out.Timeframe), out.CategoryIndex,
		intArg(out.YearIndex), intArg(out.MonthColIndex), intArg(out.WeekNumber), intArg(out.DailyDateKey),
		out.Text, out.Status, stringArg(out.ParentItemID),
		out.IsCascaded, out.CascadeLevel,
		out.CreatedAt.Format(time.RFC3339Nano), out.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	if err := t.logChange(ctx, &out, changelog.OperationInsert, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *itemTx) Update(ctx context.Context, id string, fields types.ItemUpdate) (*types.Item, error) {
	item, err := t.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("update item %s: %w", id, ErrNotFound)
	}

	fields.Apply(item)
	item.UpdatedAt = t.now

	_, err = t.tx.ExecContext(ctx, `
		UPDATE items
		SET category_index = ?, year_index = ?, month_col_index = ?, week_number = ?,
			daily_date_key = ?, text = ?, status = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`,
		item.CategoryIndex,
		intArg(item.YearIndex), intArg(item.MonthColIndex), intArg(item.WeekNumber), intArg(item.DailyDateKey),
		item.Text, item.Status, item.UpdatedAt.Format(time.RFC3339Nano),
		id, t.orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("update item %s: %w", id, err)
	}

	if err := t.logChange(ctx, item, changelog.OperationUpdate, fields); err != nil {
		return nil, err
	}
	return item, nil
}

func (t *itemTx) Delete(ctx context.Context, id string) error {
	item, err := t.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("delete item %s: %w", id, ErrNotFound)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND organization_id = ?`, id, t.orgID); err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}

	return t.logChange(ctx, item, changelog.OperationDelete, nil)
}

// logChange appends one change-log row for a mutation of item.
func (t *itemTx) logChange(ctx context.Context, item *types.Item, op string, payload any) error {
	source := changelog.SourceUser
	if item.IsCascaded {
		source = changelog.SourceCascade
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal change payload: %w", err)
		}
		data = b
	}

	entry := changelog.Entry{
		OrganizationID: t.orgID,
		EntityID:       item.ID,
		Operation:      op,
		Payload:        data,
		Source:         source,
		RootItemID:     t.rootID,
		CreatedAt:      t.now,
	}
	if _, err := t.tx.ExecContext(ctx, insertChangeLogSQL, changeLogArgs(&entry)...); err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}
