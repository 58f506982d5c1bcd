package cascade

import "errors"

var (
	// ErrInvariantViolation means the stored chain is corrupt: a cascaded item
	// without its parent, a parent with several children, a skipped timeframe,
	// or a chain deeper than the four timeframes allow. Propagation stops.
	ErrInvariantViolation = errors.New("cascade invariant violation")

	// ErrCalendarComputation means a positional value could not be turned into
	// a calendar target (negative week, year outside 1..9999).
	ErrCalendarComputation = errors.New("cascade calendar computation failed")
)
