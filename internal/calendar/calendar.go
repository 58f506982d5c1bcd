// Package calendar converts between ISO-8601 week numbers, calendar months
// and integer date keys. Every function is pure: callers supply the year,
// nothing here reads the wall clock.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfRange is returned when a year, month or week falls outside the
// range the calendar functions accept.
var ErrOutOfRange = errors.New("calendar value out of range")

const (
	MinYear = 1
	MaxYear = 9999
	MinWeek = 1
	MaxWeek = 53
)

// ValidateYear reports whether year is within [MinYear, MaxYear].
func ValidateYear(year int) error {
	if year < MinYear || year > MaxYear {
		return fmt.Errorf("year %d: %w", year, ErrOutOfRange)
	}
	return nil
}

// ValidateMonth reports whether month is within [1, 12].
func ValidateMonth(month int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("month %d: %w", month, ErrOutOfRange)
	}
	return nil
}

// ValidateWeek reports whether week is a possible ISO week number.
func ValidateWeek(week int) error {
	if week < MinWeek || week > MaxWeek {
		return fmt.Errorf("week %d: %w", week, ErrOutOfRange)
	}
	return nil
}

// LastISOWeekOfMonth returns the ISO week number of the last calendar day of
// the given month. For months whose final days belong to the next ISO year
// (late December) this is week 1.
func LastISOWeekOfMonth(year, month int) (int, error) {
	if err := ValidateYear(year); err != nil {
		return 0, err
	}
	if err := ValidateMonth(month); err != nil {
		return 0, err
	}
	// Day 0 of the following month normalizes to the last day of this one.
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
	_, week := last.ISOWeek()
	return week, nil
}

// MondayOfISOWeek returns the Monday that starts the given ISO week. Week 1 is
// the week containing January 4th.
func MondayOfISOWeek(isoYear, week int) (time.Time, error) {
	if err := ValidateYear(isoYear); err != nil {
		return time.Time{}, err
	}
	if err := ValidateWeek(week); err != nil {
		return time.Time{}, err
	}
	jan4 := time.Date(isoYear, time.January, 4, 0, 0, 0, 0, time.UTC)
	week1Monday := jan4.AddDate(0, 0, -(isoWeekday(jan4) - 1))
	return week1Monday.AddDate(0, 0, 7*(week-1)), nil
}

// SundayOfISOWeek returns the Sunday that ends the given ISO week.
func SundayOfISOWeek(isoYear, week int) (time.Time, error) {
	monday, err := MondayOfISOWeek(isoYear, week)
	if err != nil {
		return time.Time{}, err
	}
	return monday.AddDate(0, 0, 6), nil
}

// DateToDateKey formats a date as the integer YYYYMMDD.
func DateToDateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// DateKeyToDate parses a YYYYMMDD integer back into a UTC date. Keys that do
// not round-trip (e.g. 20250230) are rejected.
func DateKeyToDate(key int) (time.Time, error) {
	y, m, d := key/10000, (key/100)%100, key%100
	if err := ValidateYear(y); err != nil {
		return time.Time{}, err
	}
	if err := ValidateMonth(m); err != nil {
		return time.Time{}, err
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if DateToDateKey(t) != key {
		return time.Time{}, fmt.Errorf("date key %d: %w", key, ErrOutOfRange)
	}
	return t, nil
}

// MonthColIndex encodes a calendar month as year*12 + (month-1).
func MonthColIndex(year, month int) int {
	return year*12 + (month - 1)
}

// DecodeMonthColIndex splits an absolute month index into year and month.
func DecodeMonthColIndex(idx int) (year, month int) {
	return idx / 12, idx%12 + 1
}

// isoWeekday returns 1 for Monday through 7 for Sunday.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
