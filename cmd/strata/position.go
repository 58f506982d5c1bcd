package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/strata/internal/calendar"
	"github.com/hyperengineering/strata/internal/types"
)

var positionFlagNames = []string{"year-index", "month", "year", "week", "date"}

// positionFlags are the human-friendly ways of placing an item. Which one
// applies depends on the timeframe.
type positionFlags struct {
	yearIndex int
	month     int
	year      int
	week      int
	date      string
}

func (p *positionFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&p.yearIndex, "year-index", 0, "Yearly items: years after the reference year (0 = reference year)")
	f.IntVar(&p.month, "month", 0, "Monthly items: month 1-12")
	f.IntVar(&p.year, "year", 0, "Monthly items: calendar year of --month")
	f.IntVar(&p.week, "week", 0, "Weekly items: ISO week 1-53")
	f.StringVar(&p.date, "date", "", "Daily items: date as YYYY-MM-DD")
}

// set reports whether any position flag was given.
func (p *positionFlags) set(cmd *cobra.Command) bool {
	for _, name := range positionFlagNames {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// key converts the flags into a position key for tf. A monthly item without
// --year is placed in defaultYear.
func (p *positionFlags) key(cmd *cobra.Command, tf types.Timeframe, defaultYear int) (int, error) {
	changed := cmd.Flags().Changed

	switch tf {
	case types.TimeframeYearly:
		if !changed("year-index") {
			return 0, errors.New("--year-index is required for yearly items")
		}
		return p.yearIndex, nil

	case types.TimeframeMonthly:
		if !changed("month") {
			return 0, errors.New("--month is required for monthly items")
		}
		if err := calendar.ValidateMonth(p.month); err != nil {
			return 0, fmt.Errorf("--month: %w", err)
		}
		year := defaultYear
		if changed("year") {
			year = p.year
		}
		if err := calendar.ValidateYear(year); err != nil {
			return 0, fmt.Errorf("--year: %w", err)
		}
		return calendar.MonthColIndex(year, p.month), nil

	case types.TimeframeWeekly:
		if !changed("week") {
			return 0, errors.New("--week is required for weekly items")
		}
		return p.week, nil

	case types.TimeframeDaily:
		if !changed("date") {
			return 0, errors.New("--date is required for daily items")
		}
		t, err := time.Parse(time.DateOnly, p.date)
		if err != nil {
			return 0, fmt.Errorf("--date %q: want YYYY-MM-DD", p.date)
		}
		return calendar.DateToDateKey(t), nil
	}

	return 0, fmt.Errorf("unknown timeframe %q", tf)
}

// parseTimeframe checks a --timeframe value.
func parseTimeframe(s string) (types.Timeframe, error) {
	tf := types.Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("--timeframe %q: must be one of yearly, monthly, weekly, daily", s)
	}
	return tf, nil
}
