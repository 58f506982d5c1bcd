// Package changelog defines the append-only record of item mutations. Every
// insert, update and delete of an item, whether made by a user or by the
// cascade engine, is logged in the same transaction as the mutation.
package changelog

import (
	"encoding/json"
	"time"
)

// Entry represents a single entry in the change log.
type Entry struct {
	Sequence       int64           `json:"sequence"`
	OrganizationID string          `json:"organization_id"`
	EntityID       string          `json:"entity_id"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Source         string          `json:"source"`
	RootItemID     string          `json:"root_item_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Operation constants
const (
	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Source constants: who made the change.
const (
	SourceUser    = "user"
	SourceCascade = "cascade"
)

// Response is the body of GET /api/v1/changes.
type Response struct {
	Entries        []Entry `json:"entries"`
	LastSequence   int64   `json:"last_sequence"`
	LatestSequence int64   `json:"latest_sequence"`
	HasMore        bool    `json:"has_more"`
}

// MarshalJSON ensures nil entries marshal as [] not null.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Entries == nil {
		r.Entries = []Entry{}
	}
	type Alias Response
	return json.Marshal(Alias(r))
}

// Page sizes for change-log reads.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Meta keys stored alongside the change log.
const (
	MetaLastSnapshotAt = "last_snapshot_at"
	MetaLastPruneAt    = "last_prune_at"
)
