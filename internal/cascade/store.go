package cascade

import (
	"context"

	"github.com/hyperengineering/strata/internal/types"
)

// ItemStore is the persistence the engine reads and writes through. An
// implementation is scoped to one organization and one transaction: every
// call the engine makes during a propagation must land in the same unit of
// work as the mutation that triggered it.
type ItemStore interface {
	// FindByID returns the item, or nil and no error when it does not exist.
	FindByID(ctx context.Context, id string) (*types.Item, error)

	// FindChild returns the single cascaded child of parentID, or nil when
	// there is none. More than one child is ErrInvariantViolation.
	FindChild(ctx context.Context, parentID string) (*types.Item, error)

	// Insert persists item, assigning its ID and timestamps.
	Insert(ctx context.Context, item *types.Item) (*types.Item, error)

	// Update applies fields to the item and returns the new state.
	Update(ctx context.Context, id string, fields types.ItemUpdate) (*types.Item, error)

	// Delete removes the item.
	Delete(ctx context.Context, id string) error
}

// Hooks are invoked by an ItemStore synchronously, inside the same
// transaction, right after it persists the corresponding base mutation.
type Hooks interface {
	OnItemCreated(ctx context.Context, s ItemStore, item *types.Item) error
	OnItemUpdated(ctx context.Context, s ItemStore, item *types.Item, changed types.ChangedFields) error
	OnItemDeleted(ctx context.Context, s ItemStore, item *types.Item) error
}
