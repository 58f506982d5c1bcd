package store

import "errors"

var (
	ErrNotFound              = errors.New("item not found")
	ErrCascadedItemImmutable = errors.New("cascaded items are managed by their root")
	ErrInvalidItem           = errors.New("invalid item")
	ErrSnapshotNotConfigured = errors.New("snapshot directory not configured")
)
