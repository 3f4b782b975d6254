package mapview

import (
	"errors"
	"fmt"
)

// InvalidPostcodeError rejects search input before any lookup is made.
type InvalidPostcodeError struct {
	Input string
}

func (e *InvalidPostcodeError) Error() string {
	return fmt.Sprintf("invalid postcode %q", e.Input)
}

// ErrInvalidDate rejects a date filter that is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid date")

// errStyleNotReady guards renderer mutation before the style settles. It is
// logged, never returned to callers: the next style-ready pass retries.
var errStyleNotReady = errors.New("style not ready")
