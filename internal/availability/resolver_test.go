package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func dailyRules(startHour, endHour, minMins, maxMins int) []instrumentdomain.ScheduleRule {
	rules := make([]instrumentdomain.ScheduleRule, 0, 7)
	for d := 0; d < 7; d++ {
		rules = append(rules, instrumentdomain.ScheduleRule{
			DayOfWeek:      d,
			StartHour:      startHour,
			EndHour:        endHour,
			MinReserveMins: minMins,
			MaxReserveMins: maxMins,
		})
	}
	return rules
}

func baseRequest(candidate Window) Request {
	return Request{
		Instrument: instrumentdomain.Instrument{TimeZone: "UTC", ReserveIntervalMins: 15},
		Rules:      dailyRules(9, 17, 60, 60),
		Candidate:  candidate,
		Now:        at(monday, 7, 0),
	}
}

func codes(d Decision) []string {
	out := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		out = append(out, v.Code)
	}
	return out
}

func TestCheck_NineToFiveMovesEarlyMorningRequest(t *testing.T) {
	r := NewResolver(0)
	tomorrow := monday.AddDate(0, 0, 1)

	d := r.Check(baseRequest(Window{Start: at(tomorrow, 8, 0), End: at(tomorrow, 9, 0)}))

	assert.False(t, d.Accepted)
	assert.Contains(t, codes(d), CodeOutsideSchedule)
	require.NotNil(t, d.Suggestion)
	assert.Equal(t, at(tomorrow, 9, 0), d.Suggestion.Start)
	assert.Equal(t, at(tomorrow, 10, 0), d.Suggestion.End)
}

func TestCheck_AcceptsWindowInsideRule(t *testing.T) {
	r := NewResolver(0)
	d := r.Check(baseRequest(Window{Start: at(monday, 9, 0), End: at(monday, 10, 0)}))
	assert.True(t, d.Accepted)
	assert.NoError(t, d.Err())
}

func TestCheck_DurationBounds(t *testing.T) {
	r := NewResolver(0)

	short := r.Check(baseRequest(Window{Start: at(monday, 9, 0), End: at(monday, 9, 30)}))
	assert.Contains(t, codes(short), CodeTooShort)

	long := r.Check(baseRequest(Window{Start: at(monday, 9, 0), End: at(monday, 11, 0)}))
	assert.Contains(t, codes(long), CodeTooLong)
}

func TestCheck_RejectsUnalignedStart(t *testing.T) {
	r := NewResolver(0)
	d := r.Check(baseRequest(Window{Start: at(monday, 9, 5), End: at(monday, 10, 5)}))
	assert.Contains(t, codes(d), CodeNotAligned)
	require.NotNil(t, d.Suggestion)
	assert.Equal(t, at(monday, 9, 15), d.Suggestion.Start)
}

func TestCheck_InvalidWindowHasNoSuggestion(t *testing.T) {
	r := NewResolver(0)
	d := r.Check(baseRequest(Window{Start: at(monday, 10, 0), End: at(monday, 9, 0)}))
	assert.Equal(t, []string{CodeInvalidWindow}, codes(d))
	assert.Nil(t, d.Suggestion)
}

func TestCheck_HalfOpenOverlap(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	r := NewResolver(0)
	existingID := node.Generate()

	req := baseRequest(Window{Start: at(monday, 10, 0), End: at(monday, 11, 0)})
	req.Existing = []Booking{{ID: existingID, Window: Window{Start: at(monday, 9, 0), End: at(monday, 10, 0)}}}
	assert.True(t, r.Check(req).Accepted, "touching windows do not overlap")

	req.Candidate = Window{Start: at(monday, 9, 45), End: at(monday, 10, 45)}
	req.Rules = dailyRules(9, 17, 0, 0)
	d := r.Check(req)
	assert.False(t, d.Accepted)
	assert.Equal(t, []snowflake.ID{existingID}, d.Conflicts)
	require.NotNil(t, d.Suggestion)
	assert.Equal(t, at(monday, 10, 0), d.Suggestion.Start)

	req.ExcludeID = existingID
	assert.True(t, r.Check(req).Accepted, "a reservation never conflicts with itself")
}

func TestCheck_PastWindowNeedsOverride(t *testing.T) {
	r := NewResolver(0)
	req := baseRequest(Window{Start: at(monday, 9, 0), End: at(monday, 10, 0)})
	req.Now = at(monday, 12, 0)

	d := r.Check(req)
	assert.Contains(t, codes(d), CodeWindowInPast)
	require.NotNil(t, d.Suggestion)
	assert.Equal(t, at(monday, 12, 0), d.Suggestion.Start)

	req.AllowPast = true
	assert.True(t, r.Check(req).Accepted)
}

func TestCheck_WindowCrossingIntoDayWithDifferentRules(t *testing.T) {
	r := NewResolver(0)
	req := Request{
		Instrument: instrumentdomain.Instrument{TimeZone: "UTC", ReserveIntervalMins: 60},
		Rules: []instrumentdomain.ScheduleRule{
			{DayOfWeek: int(time.Monday), StartHour: 20, EndHour: 24},
			{DayOfWeek: int(time.Tuesday), StartHour: 0, EndHour: 2},
		},
		Now: at(monday, 0, 0),
	}

	req.Candidate = Window{Start: at(monday, 22, 0), End: at(monday, 26, 0)}
	assert.True(t, r.Check(req).Accepted)

	req.Candidate = Window{Start: at(monday, 22, 0), End: at(monday, 27, 0)}
	d := r.Check(req)
	assert.Contains(t, codes(d), CodeOutsideSchedule)
}

func TestCheck_RulesEvaluatedInInstrumentZone(t *testing.T) {
	r := NewResolver(0)
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	req := baseRequest(Window{})
	req.Instrument.TimeZone = "America/Chicago"

	local := time.Date(2026, 3, 3, 9, 0, 0, 0, chicago)
	req.Candidate = Window{Start: local.UTC(), End: local.Add(time.Hour).UTC()}
	assert.True(t, r.Check(req).Accepted)

	req.Candidate = Window{Start: at(monday.AddDate(0, 0, 1), 9, 0), End: at(monday.AddDate(0, 0, 1), 10, 0)}
	assert.Contains(t, codes(r.Check(req)), CodeOutsideSchedule)
}

func TestEarliestPossible_IsIdempotent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	r := NewResolver(0)
	selfID := node.Generate()

	req := baseRequest(Window{Start: at(monday, 15, 0), End: at(monday, 16, 0)})
	req.ExcludeID = selfID
	req.Existing = []Booking{
		{ID: node.Generate(), Window: Window{Start: at(monday, 9, 0), End: at(monday, 10, 0)}},
		{ID: selfID, Window: Window{Start: at(monday, 15, 0), End: at(monday, 16, 0)}},
	}

	first := r.EarliestPossible(req)
	require.NotNil(t, first)
	assert.Equal(t, at(monday, 10, 0), first.Start)

	req.Candidate = *first
	req.Existing[1].Window = *first
	assert.Nil(t, r.EarliestPossible(req))
}

func TestEarliestPossible_NilOnceStarted(t *testing.T) {
	r := NewResolver(0)
	req := baseRequest(Window{Start: at(monday, 15, 0), End: at(monday, 16, 0)})
	started := at(monday, 15, 0)
	req.ActualStart = &started
	assert.Nil(t, r.EarliestPossible(req))
}

func TestEarliestPossible_HonoursLowerBound(t *testing.T) {
	r := NewResolver(0)
	req := baseRequest(Window{Start: at(monday, 15, 0), End: at(monday, 16, 0)})
	bound := at(monday, 12, 10)
	req.NotBefore = &bound

	got := r.EarliestPossible(req)
	require.NotNil(t, got)
	assert.Equal(t, at(monday, 12, 15), got.Start)
}

func TestFirstFit_RespectsHorizon(t *testing.T) {
	r := NewResolver(24 * time.Hour)
	req := baseRequest(Window{Start: at(monday, 8, 0), End: at(monday, 9, 0)})
	req.Rules = []instrumentdomain.ScheduleRule{{DayOfWeek: int(time.Friday), StartHour: 9, EndHour: 17}}

	d := r.Check(req)
	assert.False(t, d.Accepted)
	assert.Nil(t, d.Suggestion)
}

func TestRejectedError_CarriesSuggestion(t *testing.T) {
	r := NewResolver(0)
	tomorrow := monday.AddDate(0, 0, 1)
	err := r.Check(baseRequest(Window{Start: at(tomorrow, 8, 0), End: at(tomorrow, 9, 0)})).Err()

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWindowUnavailable))
	assert.True(t, apperror.IsValidation(err))
	require.NotNil(t, SuggestionOf(err))
	assert.Equal(t, at(tomorrow, 9, 0), SuggestionOf(err).Start)
	assert.NotEmpty(t, apperror.ViolationsOf(err))
}

func TestCheck_RuleEndFollowsLocalClockAcrossDaylightSaving(t *testing.T) {
	r := NewResolver(0)
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	req := baseRequest(Window{})
	req.Instrument = instrumentdomain.Instrument{TimeZone: "America/New_York", ReserveIntervalMins: 60}
	req.Rules = dailyRules(9, 17, 0, 180)

	for _, day := range []int{7, 8} {
		start := time.Date(2026, 3, day, 16, 0, 0, 0, newYork)
		end := time.Date(2026, 3, day, 18, 0, 0, 0, newYork)
		req.Candidate = Window{Start: start.UTC(), End: end.UTC()}

		d := r.Check(req)
		assert.False(t, d.Accepted, "2026-03-%02d", day)
		assert.Contains(t, codes(d), CodeOutsideSchedule, "2026-03-%02d", day)
	}

	start := time.Date(2026, 3, 8, 15, 0, 0, 0, newYork)
	req.Candidate = Window{Start: start.UTC(), End: start.Add(2 * time.Hour).UTC()}
	assert.True(t, r.Check(req).Accepted)
}

func TestCheck_AlignmentCountsLocalClockOnDaylightSavingDay(t *testing.T) {
	r := NewResolver(0)
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	req := baseRequest(Window{})
	req.Instrument = instrumentdomain.Instrument{TimeZone: "America/New_York", ReserveIntervalMins: 90}
	req.Rules = dailyRules(9, 17, 0, 180)

	start := time.Date(2026, 3, 8, 9, 0, 0, 0, newYork)
	req.Candidate = Window{Start: start.UTC(), End: start.Add(90 * time.Minute).UTC()}
	d := r.Check(req)
	assert.True(t, d.Accepted, codes(d))

	sched := newSchedule(req.Instrument, req.Rules)
	assert.Equal(t, start.UTC(), sched.alignUp(start.Add(-20*time.Minute)))
}
