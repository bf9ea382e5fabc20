package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

var ErrWindowUnavailable = apperror.Validation("window_unavailable")

// RejectedError carries a rejected decision so callers can surface the
// suggested relocation next to the violations.
type RejectedError struct {
	Decision Decision
}

func (e *RejectedError) Error() string {
	msg := ErrWindowUnavailable.WithViolations(e.Decision.Violations...).Error()
	if e.Decision.Suggestion != nil {
		msg = fmt.Sprintf("%s (next available %s)", msg, e.Decision.Suggestion.Start.Format(time.RFC3339))
	}
	return msg
}

func (e *RejectedError) Unwrap() error {
	return ErrWindowUnavailable.WithViolations(e.Decision.Violations...)
}

// SuggestionOf returns the relocation carried by a rejection, if any.
func SuggestionOf(err error) *Window {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Decision.Suggestion
	}
	return nil
}
