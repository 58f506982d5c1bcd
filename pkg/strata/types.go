package strata

import (
	"encoding/json"
	"net/http"
	"time"
)

// Timeframe is the calendar granularity an item is planned at.
type Timeframe string

const (
	Yearly  Timeframe = "yearly"
	Monthly Timeframe = "monthly"
	Weekly  Timeframe = "weekly"
	Daily   Timeframe = "daily"
)

// Config holds the client configuration
type Config struct {
	BaseURL        string        // Strata service URL, e.g. http://localhost:8080
	APIKey         string        // API key for authentication
	OrganizationID string        // Tenant every item call is scoped to
	Timeout        time.Duration // Per-request timeout (default: 30 seconds)
	HTTPClient     *http.Client  // Optional; overrides Timeout
}

// Item is a goal placed at one timeframe, either authored by a user (a root)
// or created by the cascade.
type Item struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Timeframe      Timeframe `json:"timeframe"`
	CategoryIndex  int       `json:"category_index"`
	YearIndex      *int      `json:"year_index,omitempty"`
	MonthColIndex  *int      `json:"month_col_index,omitempty"`
	WeekNumber     *int      `json:"week_number,omitempty"`
	DailyDateKey   *int      `json:"daily_date_key,omitempty"`
	Text           string    `json:"text"`
	Status         string    `json:"status"`
	ParentItemID   *string   `json:"parent_item_id,omitempty"`
	IsCascaded     bool      `json:"is_cascaded"`
	CascadeLevel   int       `json:"cascade_level"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateParams holds parameters for creating a root item
type CreateParams struct {
	Timeframe     Timeframe `json:"timeframe"`
	CategoryIndex int       `json:"category_index"`
	PositionKey   int       `json:"position_key"`
	Text          string    `json:"text,omitempty"`
	Status        string    `json:"status,omitempty"`
}

// UpdateParams holds the fields to change. Nil fields are left as they are.
type UpdateParams struct {
	Text          *string `json:"text,omitempty"`
	Status        *string `json:"status,omitempty"`
	CategoryIndex *int    `json:"category_index,omitempty"`
	PositionKey   *int    `json:"position_key,omitempty"`
}

// ListParams narrows ListItems. Zero values apply no filter.
type ListParams struct {
	Timeframe     Timeframe
	CategoryIndex *int
	RootsOnly     bool
	Limit         int
}

// Chain is an item together with every member of its cascade chain, root first.
type Chain struct {
	Item  Item   `json:"item"`
	Chain []Item `json:"chain"`
}

// Target is one resolved step of a previewed cascade.
type Target struct {
	Timeframe    Timeframe `json:"timeframe"`
	PositionKey  int       `json:"position_key"`
	CascadeLevel int       `json:"cascade_level"`
}

// Preview is the chain an item would produce, resolved against ReferenceYear.
type Preview struct {
	ReferenceYear int      `json:"reference_year"`
	Targets       []Target `json:"targets"`
}

// Change is one change-log entry.
type Change struct {
	Sequence       int64           `json:"sequence"`
	OrganizationID string          `json:"organization_id"`
	EntityID       string          `json:"entity_id"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Source         string          `json:"source"`
	RootItemID     string          `json:"root_item_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ChangePage is one page of the change log.
type ChangePage struct {
	Entries        []Change `json:"entries"`
	LastSequence   int64    `json:"last_sequence"`
	LatestSequence int64    `json:"latest_sequence"`
	HasMore        bool     `json:"has_more"`
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status       string     `json:"status"`
	Version      string     `json:"version"`
	ItemCount    int64      `json:"item_count"`
	RootCount    int64      `json:"root_count"`
	LastSnapshot *time.Time `json:"last_snapshot"`
}

// Int returns a pointer to v, for UpdateParams and ListParams.
func Int(v int) *int { return &v }

// String returns a pointer to v, for UpdateParams.
func String(v string) *string { return &v }
