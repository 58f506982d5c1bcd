package store

import (
	"context"
	"time"

	"github.com/hyperengineering/strata/internal/changelog"
	"github.com/hyperengineering/strata/internal/types"
)

// Store defines the interface contract for all item storage operations.
// Every mutating call runs in one transaction together with the cascade it
// triggers; when any step fails nothing is persisted.
type Store interface {
	CreateItem(ctx context.Context, orgID string, item types.NewItem) (*types.Item, error)
	GetItem(ctx context.Context, orgID, id string) (*types.Item, error)
	ListItems(ctx context.Context, orgID string, filter types.ItemFilter) ([]types.Item, error)
	GetChain(ctx context.Context, orgID, id string) ([]types.Item, error)
	UpdateItem(ctx context.Context, orgID, id string, update types.ItemUpdate) (*types.Item, error)
	DeleteItem(ctx context.Context, orgID, id string) error
	GetChangeLogAfter(ctx context.Context, orgID string, afterSeq int64, limit int) ([]changelog.Entry, error)
	GetLatestSequence(ctx context.Context, orgID string) (int64, error)
	PruneChangeLog(ctx context.Context, before time.Time) (int64, error)
	GetStats(ctx context.Context, orgID string) (*types.StoreStats, error)
	GenerateSnapshot(ctx context.Context) error
	GetSnapshotPath(ctx context.Context) (string, error)
	Close() error
}
