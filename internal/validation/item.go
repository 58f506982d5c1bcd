package validation

import (
	"github.com/hyperengineering/strata/internal/calendar"
	"github.com/hyperengineering/strata/internal/types"
)

// Field limits for item requests.
const (
	MaxTextLength    = 2000
	MaxStatusLength  = 32
	MaxCategoryIndex = 255
	MaxYearIndex     = 100
)

// ValidateCreateItemRequest validates the body of an item creation request.
func ValidateCreateItemRequest(req types.CreateItemRequest) []ValidationError {
	c := &Collector{}

	c.Add(ValidateRequired("timeframe", req.Timeframe))
	if req.Timeframe != "" {
		c.Add(ValidateEnum("timeframe", req.Timeframe, timeframeNames()))
	}
	c.Add(ValidateRange("category_index", req.CategoryIndex, 0, MaxCategoryIndex))
	validateText(c, req.Text)
	if req.Status != "" {
		validateStatus(c, req.Status)
	}

	if req.PositionKey == nil {
		c.Add(&ValidationError{Field: "position_key", Message: "is required"})
	} else if tf := types.Timeframe(req.Timeframe); tf.Valid() {
		c.Add(ValidatePosition("position_key", tf, *req.PositionKey))
	}

	return c.Errors()
}

// ValidateUpdateItemRequest validates a partial update against the timeframe
// of the item being changed.
func ValidateUpdateItemRequest(tf types.Timeframe, req types.UpdateItemRequest) []ValidationError {
	c := &Collector{}

	if req.Text == nil && req.Status == nil && req.CategoryIndex == nil && req.PositionKey == nil {
		c.Add(&ValidationError{Field: "body", Message: "must set at least one field"})
		return c.Errors()
	}
	if req.Text != nil {
		validateText(c, *req.Text)
	}
	if req.Status != nil {
		c.Add(ValidateRequired("status", *req.Status))
		validateStatus(c, *req.Status)
	}
	if req.CategoryIndex != nil {
		c.Add(ValidateRange("category_index", *req.CategoryIndex, 0, MaxCategoryIndex))
	}
	if req.PositionKey != nil {
		c.Add(ValidatePosition("position_key", tf, *req.PositionKey))
	}

	return c.Errors()
}

// ValidatePosition checks that key is a legal positional key for tf.
func ValidatePosition(field string, tf types.Timeframe, key int) *ValidationError {
	switch tf {
	case types.TimeframeYearly:
		return ValidateRange(field, key, 0, MaxYearIndex)
	case types.TimeframeMonthly:
		return ValidateRange(field, key,
			calendar.MonthColIndex(calendar.MinYear, 1),
			calendar.MonthColIndex(calendar.MaxYear, 12))
	case types.TimeframeWeekly:
		return ValidateRange(field, key, calendar.MinWeek, calendar.MaxWeek)
	case types.TimeframeDaily:
		if _, err := calendar.DateKeyToDate(key); err != nil {
			return &ValidationError{Field: field, Message: "must be a calendar date as YYYYMMDD"}
		}
		return nil
	}
	return &ValidationError{Field: "timeframe", Message: "is not a known timeframe"}
}

func validateText(c *Collector, text string) {
	c.Add(ValidateUTF8("text", text))
	c.Add(ValidateNoNullBytes("text", text))
	c.Add(ValidateMaxLength("text", text, MaxTextLength))
}

func validateStatus(c *Collector, status string) {
	c.Add(ValidateUTF8("status", status))
	c.Add(ValidateMaxLength("status", status, MaxStatusLength))
}

func timeframeNames() []string {
	names := make([]string, len(types.Timeframes))
	for i, tf := range types.Timeframes {
		names[i] = string(tf)
	}
	return names
}
