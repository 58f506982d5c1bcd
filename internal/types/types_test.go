package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTimeframe_Order(t *testing.T) {
	tests := []struct {
		tf        Timeframe
		rank      int
		finer     Timeframe
		hasFiner  bool
		coarser   Timeframe
		hasCoarse bool
	}{
		{TimeframeYearly, 0, TimeframeMonthly, true, "", false},
		{TimeframeMonthly, 1, TimeframeWeekly, true, TimeframeYearly, true},
		{TimeframeWeekly, 2, TimeframeDaily, true, TimeframeMonthly, true},
		{TimeframeDaily, 3, "", false, TimeframeWeekly, true},
		{Timeframe("quarterly"), -1, "", false, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			if got := tt.tf.Rank(); got != tt.rank {
				t.Errorf("Rank: got %d, want %d", got, tt.rank)
			}
			finer, ok := tt.tf.Finer()
			if finer != tt.finer || ok != tt.hasFiner {
				t.Errorf("Finer: got (%q, %v), want (%q, %v)", finer, ok, tt.finer, tt.hasFiner)
			}
			coarser, ok := tt.tf.Coarser()
			if coarser != tt.coarser || ok != tt.hasCoarse {
				t.Errorf("Coarser: got (%q, %v), want (%q, %v)", coarser, ok, tt.coarser, tt.hasCoarse)
			}
		})
	}
}

func TestItem_PositionKey(t *testing.T) {
	item := Item{Timeframe: TimeframeWeekly}
	if _, ok := item.PositionKey(); ok {
		t.Fatal("expected no position key on empty item")
	}

	item.SetPositionKey(14)
	key, ok := item.PositionKey()
	if !ok || key != 14 {
		t.Fatalf("got (%d, %v), want (14, true)", key, ok)
	}
	if item.WeekNumber == nil || item.YearIndex != nil || item.MonthColIndex != nil || item.DailyDateKey != nil {
		t.Error("SetPositionKey must set only the weekly field")
	}

	// A stray field from another timeframe is not the item's position.
	monthly := Item{Timeframe: TimeframeMonthly, WeekNumber: IntPtr(3)}
	if _, ok := monthly.PositionKey(); ok {
		t.Error("monthly item with only week_number should have no position key")
	}
}

func TestItemUpdate_Diff(t *testing.T) {
	before := &Item{
		Timeframe:     TimeframeYearly,
		YearIndex:     IntPtr(0),
		Text:          "ship v2",
		Status:        StatusNeutral,
		CategoryIndex: 1,
	}

	tests := []struct {
		name   string
		update ItemUpdate
		want   []Field
	}{
		{"empty", ItemUpdate{}, nil},
		{"same values", ItemUpdate{Text: StringPtr("ship v2"), PositionKey: IntPtr(0)}, nil},
		{"status", ItemUpdate{Status: StringPtr(StatusDone)}, []Field{FieldStatus}},
		{"text and category", ItemUpdate{Text: StringPtr("ship v3"), CategoryIndex: IntPtr(2)}, []Field{FieldText, FieldCategoryIndex}},
		{"position", ItemUpdate{PositionKey: IntPtr(1)}, []Field{FieldPosition}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.update.Diff(before)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for _, f := range tt.want {
				if !got.Has(f) {
					t.Errorf("missing %q in %v", f, got)
				}
			}
		})
	}
}

func TestItemUpdate_Apply(t *testing.T) {
	item := &Item{Timeframe: TimeframeMonthly, MonthColIndex: IntPtr(24311), Status: StatusNeutral}
	ItemUpdate{Status: StringPtr(StatusDone), PositionKey: IntPtr(24300)}.Apply(item)

	if item.Status != StatusDone {
		t.Errorf("Status: got %q", item.Status)
	}
	if key, _ := item.PositionKey(); key != 24300 {
		t.Errorf("PositionKey: got %d", key)
	}
}

func TestChangedFields_Content(t *testing.T) {
	if (ChangedFields{FieldPosition}).Content() {
		t.Error("position alone is not a content change")
	}
	if !(ChangedFields{FieldStatus}).Content() {
		t.Error("status is a content change")
	}
}

func TestItem_JSONOmitsUnsetPositions(t *testing.T) {
	item := Item{ID: "01J", Timeframe: TimeframeDaily, DailyDateKey: IntPtr(20260104)}
	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"daily_date_key":20260104`) {
		t.Errorf("expected daily_date_key in %s", s)
	}
	for _, field := range []string{"year_index", "month_col_index", "week_number", "parent_item_id"} {
		if strings.Contains(s, field) {
			t.Errorf("unexpected %s in %s", field, s)
		}
	}
}

func TestResponses_NilSlicesMarshalEmpty(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"chain", ChainResponse{}, `"chain":[]`},
		{"list", ItemListResponse{}, `"items":[]`},
		{"preview", PreviewResponse{}, `"targets":[]`},
		{"stats", StoreStats{}, `"timeframe_stats":{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("got %s, want substring %s", data, tt.want)
			}
		})
	}
}
