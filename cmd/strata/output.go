package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/strata/internal/calendar"
	"github.com/hyperengineering/strata/internal/types"
	"github.com/hyperengineering/strata/internal/validation"
)

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// describePosition renders a position key the way a planner reads it.
func describePosition(tf types.Timeframe, key int) string {
	switch tf {
	case types.TimeframeYearly:
		if key == 0 {
			return "reference year"
		}
		return fmt.Sprintf("reference year +%d", key)
	case types.TimeframeMonthly:
		year, month := calendar.DecodeMonthColIndex(key)
		return fmt.Sprintf("%s %d", time.Month(month), year)
	case types.TimeframeWeekly:
		return fmt.Sprintf("ISO week %d", key)
	case types.TimeframeDaily:
		if t, err := calendar.DateKeyToDate(key); err == nil {
			return t.Format("Mon 2 Jan 2006")
		}
	}
	return strconv.Itoa(key)
}

// writeChainTable prints one row per chain member, root first.
func writeChainTable(w io.Writer, chain []types.Item) error {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "LEVEL\tTIMEFRAME\tPOSITION\tSTATUS\tID\tTEXT")
	for _, it := range chain {
		key, _ := it.PositionKey()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			it.CascadeLevel, it.Timeframe, describePosition(it.Timeframe, key),
			it.Status, it.ID, truncate(it.Text, 40))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// validationError folds field errors into a single CLI error.
func validationError(errs []validation.ValidationError) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Field + " " + e.Message
	}
	return errors.New("invalid item: " + strings.Join(msgs, "; "))
}
