package availability

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

const DefaultSearchHorizon = 365 * 24 * time.Hour

const (
	CodeInvalidWindow       = "invalid_window"
	CodeWindowInPast        = "window_in_past"
	CodeOutsideSchedule     = "window_outside_schedule"
	CodeTooShort            = "window_too_short"
	CodeTooLong             = "window_too_long"
	CodeNotAligned          = "window_not_aligned"
	CodeConflictReservation = "window_conflicts_with_reservation"
)

// Request is one availability question. Existing must be a snapshot read
// under the instrument lock and must not contain canceled reservations.
type Request struct {
	Instrument instrumentdomain.Instrument
	Rules      []instrumentdomain.ScheduleRule
	Existing   []Booking
	Candidate  Window
	// ExcludeID is the reservation being moved, ignored during conflict checks.
	ExcludeID snowflake.ID
	Now       time.Time
	// AllowPast lets operators place windows that start before Now.
	AllowPast bool
	// ActualStart pins a started reservation in place.
	ActualStart *time.Time
	// NotBefore overrides Now as the lower bound of the earliest search.
	NotBefore *time.Time
}

type Decision struct {
	Accepted   bool                 `json:"accepted"`
	Violations []apperror.Violation `json:"violations,omitempty"`
	Conflicts  []snowflake.ID       `json:"conflicts,omitempty"`
	Suggestion *Window              `json:"suggestion,omitempty"`
}

// Err is nil for an accepted decision.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &RejectedError{Decision: d}
}

type Resolver struct {
	horizon time.Duration
}

func NewResolver(horizon time.Duration) *Resolver {
	if horizon <= 0 {
		horizon = DefaultSearchHorizon
	}
	return &Resolver{horizon: horizon}
}

// Check validates the candidate window and, when it is rejected, suggests
// the first valid window of the same duration at or after the candidate.
func (r *Resolver) Check(req Request) Decision {
	candidate := NewWindow(req.Candidate.Start, req.Candidate.End)
	if !candidate.Valid() {
		return Decision{Violations: []apperror.Violation{{
			Field: "window", Code: CodeInvalidWindow, Message: "end must be after start",
		}}}
	}

	sched := newSchedule(req.Instrument, req.Rules)
	var v apperror.Violations
	if !req.AllowPast && candidate.Start.Before(req.Now.UTC().Truncate(time.Minute)) {
		v.Add("start", CodeWindowInPast, "window starts in the past")
	}
	v = append(v, sched.violations(candidate)...)

	conflicts := conflictsWith(req.Existing, req.ExcludeID, candidate)
	if len(conflicts) > 0 {
		v.Add("window", CodeConflictReservation, "window overlaps another reservation")
	}

	if v.Empty() {
		return Decision{Accepted: true}
	}

	from := candidate.Start
	if !req.AllowPast && req.Now.After(from) {
		from = req.Now
	}
	d := Decision{Violations: v, Conflicts: conflicts}
	d.Suggestion = r.firstFit(sched, req.Existing, req.ExcludeID, from, candidate.Duration())
	return d
}

// EarliestPossible returns the earliest valid window of the candidate's
// duration at or after now. It returns nil when the reservation has started
// or when nothing strictly earlier than the current window exists, so
// applying it to its own result always yields nil.
func (r *Resolver) EarliestPossible(req Request) *Window {
	if req.ActualStart != nil {
		return nil
	}
	current := NewWindow(req.Candidate.Start, req.Candidate.End)
	if !current.Valid() {
		return nil
	}
	from := req.Now
	if req.NotBefore != nil {
		from = *req.NotBefore
	}

	sched := newSchedule(req.Instrument, req.Rules)
	found := r.firstFit(sched, req.Existing, req.ExcludeID, from, current.Duration())
	if found == nil || !found.Start.Before(current.Start) {
		return nil
	}
	return found
}

func (r *Resolver) firstFit(sched schedule, existing []Booking, exclude snowflake.ID, from time.Time, duration time.Duration) *Window {
	if duration <= 0 || sched.empty() {
		return nil
	}
	from = ceilMinute(from.UTC())
	limit := from.Add(r.horizon)
	start := sched.alignUp(from)
	for start.Before(limit) {
		w := Window{Start: start, End: start.Add(duration)}
		if len(sched.violations(w)) > 0 {
			start = sched.alignUp(start.Add(time.Minute))
			continue
		}
		conflicts := blocking(existing, exclude, w)
		if len(conflicts) == 0 {
			return &w
		}
		next := start
		for _, b := range conflicts {
			if b.Window.End.After(next) {
				next = b.Window.End
			}
		}
		start = sched.alignUp(next)
	}
	return nil
}

func blocking(existing []Booking, exclude snowflake.ID, w Window) []Booking {
	var out []Booking
	for _, b := range existing {
		if exclude != 0 && b.ID == exclude {
			continue
		}
		if b.Window.Overlaps(w) {
			out = append(out, b)
		}
	}
	return out
}

func conflictsWith(existing []Booking, exclude snowflake.ID, w Window) []snowflake.ID {
	bookings := blocking(existing, exclude, w)
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]snowflake.ID, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func ceilMinute(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Minute)
}
