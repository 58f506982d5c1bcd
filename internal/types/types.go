package types

import (
	"encoding/json"
	"time"
)

// Timeframe is the calendar granularity an item is planned at.
type Timeframe string

const (
	TimeframeYearly  Timeframe = "yearly"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeDaily   Timeframe = "daily"
)

// Timeframes lists every timeframe from coarsest to finest.
var Timeframes = []Timeframe{TimeframeYearly, TimeframeMonthly, TimeframeWeekly, TimeframeDaily}

// Rank orders timeframes yearly(0) < monthly(1) < weekly(2) < daily(3).
// Unknown timeframes rank -1.
func (t Timeframe) Rank() int {
	for i, tf := range Timeframes {
		if tf == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the four known timeframes.
func (t Timeframe) Valid() bool {
	return t.Rank() >= 0
}

// Finer returns the next finer timeframe. Daily and unknown timeframes have none.
func (t Timeframe) Finer() (Timeframe, bool) {
	r := t.Rank()
	if r < 0 || r == len(Timeframes)-1 {
		return "", false
	}
	return Timeframes[r+1], true
}

// Coarser returns the next coarser timeframe. Yearly and unknown timeframes have none.
func (t Timeframe) Coarser() (Timeframe, bool) {
	r := t.Rank()
	if r <= 0 {
		return "", false
	}
	return Timeframes[r-1], true
}

// Status values the UI knows about. Status is free-form; these are only the
// common ones.
const (
	StatusNeutral    = "neutral"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusMissed     = "missed"
)

// Item is a goal placed on the strategic map at one timeframe.
//
// Exactly one positional field is set, chosen by Timeframe:
// YearIndex (yearly), MonthColIndex (monthly), WeekNumber (weekly),
// DailyDateKey (daily).
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

// PositionKey returns the positional field that belongs to the item's
// timeframe, and false when it is unset or the timeframe is unknown.
func (i *Item) PositionKey() (int, bool) {
	var p *int
	switch i.Timeframe {
	case TimeframeYearly:
		p = i.YearIndex
	case TimeframeMonthly:
		p = i.MonthColIndex
	case TimeframeWeekly:
		p = i.WeekNumber
	case TimeframeDaily:
		p = i.DailyDateKey
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SetPositionKey sets the positional field for the item's timeframe and
// clears the others.
func (i *Item) SetPositionKey(key int) {
	i.YearIndex, i.MonthColIndex, i.WeekNumber, i.DailyDateKey = nil, nil, nil, nil
	k := key
	switch i.Timeframe {
	case TimeframeYearly:
		i.YearIndex = &k
	case TimeframeMonthly:
		i.MonthColIndex = &k
	case TimeframeWeekly:
		i.WeekNumber = &k
	case TimeframeDaily:
		i.DailyDateKey = &k
	}
}

// IsRoot reports whether the item was authored by a user rather than the
// cascade engine.
func (i *Item) IsRoot() bool {
	return !i.IsCascaded
}

// NewItem is the input for creating a root item.
type NewItem struct {
	Timeframe     Timeframe `json:"timeframe"`
	CategoryIndex int       `json:"category_index"`
	PositionKey   *int      `json:"position_key"`
	Text          string    `json:"text"`
	Status        string    `json:"status"`
}

// Field names a mutable item field.
type Field string

const (
	FieldText          Field = "text"
	FieldStatus        Field = "status"
	FieldCategoryIndex Field = "category_index"
	FieldPosition      Field = "position"
)

// ChangedFields is the set of fields an update actually modified.
type ChangedFields []Field

// Has reports whether f is in the set.
func (c ChangedFields) Has(f Field) bool {
	for _, x := range c {
		if x == f {
			return true
		}
	}
	return false
}

// Content reports whether any propagated content field changed.
func (c ChangedFields) Content() bool {
	return c.Has(FieldText) || c.Has(FieldStatus) || c.Has(FieldCategoryIndex)
}

// ItemUpdate carries the fields to change. Nil pointers leave a field as is.
type ItemUpdate struct {
	Text          *string `json:"text,omitempty"`
	Status        *string `json:"status,omitempty"`
	CategoryIndex *int    `json:"category_index,omitempty"`
	PositionKey   *int    `json:"position_key,omitempty"`
}

// IsEmpty reports whether the update sets nothing.
func (u ItemUpdate) IsEmpty() bool {
	return u.Text == nil && u.Status == nil && u.CategoryIndex == nil && u.PositionKey == nil
}

// Diff returns the fields of before that this update would change.
func (u ItemUpdate) Diff(before *Item) ChangedFields {
	var changed ChangedFields
	if u.Text != nil && *u.Text != before.Text {
		changed = append(changed, FieldText)
	}
	if u.Status != nil && *u.Status != before.Status {
		changed = append(changed, FieldStatus)
	}
	if u.CategoryIndex != nil && *u.CategoryIndex != before.CategoryIndex {
		changed = append(changed, FieldCategoryIndex)
	}
	if u.PositionKey != nil {
		if cur, ok := before.PositionKey(); !ok || cur != *u.PositionKey {
			changed = append(changed, FieldPosition)
		}
	}
	return changed
}

// Apply writes the update onto item in place.
func (u ItemUpdate) Apply(item *Item) {
	if u.Text != nil {
		item.Text = *u.Text
	}
	if u.Status != nil {
		item.Status = *u.Status
	}
	if u.CategoryIndex != nil {
		item.CategoryIndex = *u.CategoryIndex
	}
	if u.PositionKey != nil {
		item.SetPositionKey(*u.PositionKey)
	}
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	Timeframe     Timeframe
	CategoryIndex *int
	RootsOnly     bool
	Limit         int
}

// ChainTarget is one resolved step of a cascade, used by previews.
type ChainTarget struct {
	Timeframe    Timeframe `json:"timeframe"`
	PositionKey  int       `json:"position_key"`
	CascadeLevel int       `json:"cascade_level"`
}

// --- API request/response types ---

// CreateItemRequest is the body of POST /api/v1/items.
type CreateItemRequest struct {
	Timeframe     string `json:"timeframe"`
	CategoryIndex int    `json:"category_index"`
	PositionKey   *int   `json:"position_key"`
	Text          string `json:"text"`
	Status        string `json:"status"`
}

// UpdateItemRequest is the body of PATCH /api/v1/items/{id}.
type UpdateItemRequest struct {
	Text          *string `json:"text,omitempty"`
	Status        *string `json:"status,omitempty"`
	CategoryIndex *int    `json:"category_index,omitempty"`
	PositionKey   *int    `json:"position_key,omitempty"`
}

// ChainResponse returns an item together with its cascade chain.
type ChainResponse struct {
	Item  Item   `json:"item"`
	Chain []Item `json:"chain"`
}

// ItemListResponse is the body of GET /api/v1/items.
type ItemListResponse struct {
	Items []Item `json:"items"`
}

// PreviewResponse is the body of POST /api/v1/items/preview.
type PreviewResponse struct {
	ReferenceYear int           `json:"reference_year"`
	Targets       []ChainTarget `json:"targets"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string     `json:"status"`
	Version      string     `json:"version"`
	ItemCount    int64      `json:"item_count"`
	RootCount    int64      `json:"root_count"`
	LastSnapshot *time.Time `json:"last_snapshot"`
}

// StoreStats holds aggregate store statistics.
type StoreStats struct {
	ItemCount      int64               `json:"item_count"`
	RootCount      int64               `json:"root_count"`
	TimeframeStats map[Timeframe]int64 `json:"timeframe_stats"`
	LatestSequence int64               `json:"latest_sequence"`
	LastSnapshot   *time.Time          `json:"last_snapshot,omitempty"`
}

// MarshalJSON ensures nil map in StoreStats marshals as {} not null.
func (s StoreStats) MarshalJSON() ([]byte, error) {
	if s.TimeframeStats == nil {
		s.TimeframeStats = map[Timeframe]int64{}
	}
	type Alias StoreStats
	return json.Marshal(Alias(s))
}

// MarshalJSON ensures a nil chain marshals as [] not null.
func (c ChainResponse) MarshalJSON() ([]byte, error) {
	if c.Chain == nil {
		c.Chain = []Item{}
	}
	type Alias ChainResponse
	return json.Marshal(Alias(c))
}

// MarshalJSON ensures nil items marshal as [] not null.
func (l ItemListResponse) MarshalJSON() ([]byte, error) {
	if l.Items == nil {
		l.Items = []Item{}
	}
	type Alias ItemListResponse
	return json.Marshal(Alias(l))
}

// MarshalJSON ensures nil targets marshal as [] not null.
func (p PreviewResponse) MarshalJSON() ([]byte, error) {
	if p.Targets == nil {
		p.Targets = []ChainTarget{}
	}
	type Alias PreviewResponse
	return json.Marshal(Alias(p))
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v.
func StringPtr(v string) *string { return &v }
