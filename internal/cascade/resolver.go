package cascade

import (
	"fmt"
	"time"

	"github.com/hyperengineering/strata/internal/calendar"
	"github.com/hyperengineering/strata/internal/types"
)

// Context is the ambient input a resolution depends on. Callers fill it in;
// Resolve itself never reads the clock or the store.
type Context struct {
	// ReferenceYear is the current calendar year at the call site. Yearly
	// items are offsets from it, and weekly items without a parent month
	// fall back to it.
	ReferenceYear int

	// ParentMonthColIndex is the month_col_index of a weekly item's monthly
	// parent, when there is one.
	ParentMonthColIndex *int
}

// Target is the cell the next-finer item of a cascade goes into.
type Target struct {
	Terminal  bool
	Timeframe types.Timeframe
	Key       int
}

var terminal = Target{Terminal: true}

// Resolve decides where item cascades to. It is a pure function of its
// arguments. Items whose positional field is missing resolve to terminal;
// only out-of-range calendar input is an error.
func Resolve(item *types.Item, rc Context) (Target, error) {
	key, ok := item.PositionKey()
	if !ok {
		return terminal, nil
	}

	switch item.Timeframe {
	case types.TimeframeYearly:
		return resolveYearly(key, rc)
	case types.TimeframeMonthly:
		return resolveMonthly(key)
	case types.TimeframeWeekly:
		return resolveWeekly(key, rc)
	default:
		return terminal, nil
	}
}

// A yearly goal lands on December of its year.
func resolveYearly(yearIndex int, rc Context) (Target, error) {
	year := rc.ReferenceYear + yearIndex
	if err := calendar.ValidateYear(year); err != nil {
		return Target{}, fmt.Errorf("%w: yearly offset %d: %w", ErrCalendarComputation, yearIndex, err)
	}
	return Target{
		Timeframe: types.TimeframeMonthly,
		Key:       calendar.MonthColIndex(year, 12),
	}, nil
}

// A monthly goal lands on the last ISO week overlapping the month.
func resolveMonthly(monthColIndex int) (Target, error) {
	if monthColIndex < 0 {
		return Target{}, fmt.Errorf("%w: month_col_index %d: %w", ErrCalendarComputation, monthColIndex, calendar.ErrOutOfRange)
	}
	year, month := calendar.DecodeMonthColIndex(monthColIndex)
	week, err := calendar.LastISOWeekOfMonth(year, month)
	if err != nil {
		return Target{}, fmt.Errorf("%w: month_col_index %d: %w", ErrCalendarComputation, monthColIndex, err)
	}
	return Target{Timeframe: types.TimeframeWeekly, Key: week}, nil
}

// A weekly goal lands on the Sunday closing the week. The ISO year comes from
// the parent month. Week 1 reached from December belongs to the following
// year's numbering.
func resolveWeekly(week int, rc Context) (Target, error) {
	year := rc.ReferenceYear
	fromDecember := false
	if rc.ParentMonthColIndex != nil {
		var month int
		year, month = calendar.DecodeMonthColIndex(*rc.ParentMonthColIndex)
		fromDecember = month == 12
	}

	sunday, err := calendar.SundayOfISOWeek(year, week)
	if err != nil {
		return Target{}, fmt.Errorf("%w: week %d of %d: %w", ErrCalendarComputation, week, year, err)
	}
	if week == 1 && (sunday.Month() == time.December || fromDecember) {
		sunday, err = calendar.SundayOfISOWeek(year+1, 1)
		if err != nil {
			return Target{}, fmt.Errorf("%w: week 1 of %d: %w", ErrCalendarComputation, year+1, err)
		}
	}

	return Target{
		Timeframe: types.TimeframeDaily,
		Key:       calendar.DateToDateKey(sunday),
	}, nil
}
