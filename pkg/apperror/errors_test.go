package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWindowTaken = Validation("window_taken")

func TestErrorMatchesSentinelThroughCopies(t *testing.T) {
	err := fmt.Errorf("schedule: %w", errWindowTaken.WithViolations(Violation{Field: "start", Code: "overlap"}))

	assert.ErrorIs(t, err, errWindowTaken)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "window_taken", CodeOf(err))
	assert.True(t, IsValidation(err))
	assert.False(t, IsConflict(err))

	violations := ViolationsOf(err)
	require.Len(t, violations, 1)
	assert.Equal(t, "overlap", violations[0].Code)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("duplicate key")
	err := Conflict("reservation_conflict").Wrap(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, Conflict("reservation_conflict"))
	assert.NotErrorIs(t, err, State("reservation_conflict"))
	assert.Equal(t, "reservation_conflict: duplicate key", err.Error())
}

func TestViolationsErr(t *testing.T) {
	var v Violations
	assert.NoError(t, v.Err(Validation("invalid_split")))

	v.Add("percent", "percent_sum", "percents must sum to 100")
	v.Add("extra_penny", "extra_penny_missing", "one split must take the extra penny")

	err := v.Err(Validation("invalid_split"))
	require.Error(t, err)
	assert.Len(t, ViolationsOf(err), 2)
	assert.Equal(t, "invalid_split [percent_sum, extra_penny_missing]", err.Error())
}

func TestViolationsOfPlainSentinel(t *testing.T) {
	violations := ViolationsOf(NotFound("reservation_not_found"))
	require.Len(t, violations, 1)
	assert.Equal(t, "reservation not found", violations[0].Message)
	assert.Nil(t, ViolationsOf(errors.New("plain")))
}
