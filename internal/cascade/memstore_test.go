package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperengineering/strata/internal/types"
)

var errInjected = errors.New("injected store failure")

// memStore is an in-memory ItemStore for engine tests.
type memStore struct {
	items map[string]*types.Item
	seq   int

	failInsertAt types.Timeframe
	failUpdate   bool
	inserts      int
	updates      int
	deletes      int
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*types.Item)}
}

var _ ItemStore = (*memStore)(nil)

func (m *memStore) FindByID(ctx context.Context, id string) (*types.Item, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (m *memStore) FindChild(ctx context.Context, parentID string) (*types.Item, error) {
	var found []*types.Item
	for _, item := range m.items {
		if item.ParentItemID != nil && *item.ParentItemID == parentID {
			found = append(found, item)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		cp := *found[0]
		return &cp, nil
	default:
		return nil, fmt.Errorf("%w: %d children under %s", ErrInvariantViolation, len(found), parentID)
	}
}

func (m *memStore) Insert(ctx context.Context, item *types.Item) (*types.Item, error) {
	if m.failInsertAt != "" && item.Timeframe == m.failInsertAt {
		return nil, errInjected
	}
	m.inserts++
	m.seq++
	cp := *item
	cp.ID = fmt.Sprintf("item-%02d", m.seq)
	m.items[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) Update(ctx context.Context, id string, fields types.ItemUpdate) (*types.Item, error) {
	if m.failUpdate {
		return nil, errInjected
	}
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("update %s: not found", id)
	}
	m.updates++
	fields.Apply(item)
	cp := *item
	return &cp, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("delete %s: not found", id)
	}
	m.deletes++
	delete(m.items, id)
	return nil
}

// createRoot mimics the store: persist the root, then run the hook.
func (m *memStore) createRoot(ctx context.Context, e *Engine, item types.Item) (*types.Item, error) {
	root, err := m.Insert(ctx, &item)
	if err != nil {
		return nil, err
	}
	return root, e.OnItemCreated(ctx, m, root)
}

// sorted returns all items ordered by cascade level.
func (m *memStore) sorted() []types.Item {
	out := make([]types.Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CascadeLevel < out[j].CascadeLevel })
	return out
}
