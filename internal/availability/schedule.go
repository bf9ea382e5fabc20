package availability

import (
	"time"

	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

// schedule evaluates rules in the instrument's local time.
type schedule struct {
	loc      *time.Location
	interval time.Duration
	rules    []instrumentdomain.ScheduleRule
}

func newSchedule(instrument instrumentdomain.Instrument, rules []instrumentdomain.ScheduleRule) schedule {
	return schedule{
		loc:      instrument.Location(),
		interval: instrument.ReserveInterval(),
		rules:    rules,
	}
}

func (s schedule) empty() bool { return len(s.rules) == 0 }

func (s schedule) midnight(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

func (s schedule) minuteOfDay(t time.Time) int {
	local := t.In(s.loc)
	return local.Hour()*60 + local.Minute()
}

// clockOffset is the wall-clock time of day at t, which differs from the
// elapsed time since midnight on days the zone changes offset.
func (s schedule) clockOffset(t time.Time) time.Duration {
	local := t.In(s.loc)
	return time.Duration(s.minuteOfDay(t))*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
}

// atMinute returns the instant the local clock reads minute m on t's day.
// 24:00 is the next day's midnight.
func (s schedule) atMinute(t time.Time, m int) time.Time {
	if m >= 24*60 {
		return s.midnight(t).AddDate(0, 0, 1)
	}
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), m/60, m%60, 0, 0, s.loc)
}

// alignUp returns the first interval boundary, counted on the local clock
// from midnight, at or after t.
func (s schedule) alignUp(t time.Time) time.Time {
	offset := s.clockOffset(t)
	rem := offset % s.interval
	if rem == 0 {
		return t.UTC()
	}
	next := s.atMinute(t, int((offset-rem+s.interval)/time.Minute))
	if !next.After(t) {
		next = t.Add(s.interval - rem)
	}
	return next.UTC()
}

func (s schedule) aligned(t time.Time) bool {
	return s.clockOffset(t)%s.interval == 0
}

// covering returns the rule open at t with the latest end, if any.
func (s schedule) covering(t time.Time) (instrumentdomain.ScheduleRule, bool) {
	day := t.In(s.loc).Weekday()
	minute := s.minuteOfDay(t)
	var best instrumentdomain.ScheduleRule
	found := false
	for _, rule := range s.rules {
		if !rule.Covers(day, minute) {
			continue
		}
		if !found || rule.EndMinute() > best.EndMinute() {
			best = rule
			found = true
		}
	}
	return best, found
}

// violations walks the window segment by segment so windows crossing into a
// day with different rules are checked against every rule they touch.
func (s schedule) violations(w Window) apperror.Violations {
	var v apperror.Violations
	if !s.aligned(w.Start) || w.Duration()%s.interval != 0 {
		v.Add("start", CodeNotAligned, "window must align to the reservation interval")
	}

	var covering []instrumentdomain.ScheduleRule
	for t := w.Start; t.Before(w.End); {
		rule, ok := s.covering(t)
		if !ok {
			v.Add("window", CodeOutsideSchedule, "window falls outside the instrument schedule")
			return v
		}
		covering = append(covering, rule)
		segEnd := s.atMinute(t, rule.EndMinute())
		if !segEnd.After(t) {
			segEnd = t.Add(time.Minute)
		}
		t = segEnd
	}

	duration := w.Duration()
	var short, long bool
	for _, rule := range covering {
		if min := rule.MinDuration(); min > 0 && duration < min {
			short = true
		}
		if max := rule.MaxDuration(); max > 0 && duration > max {
			long = true
		}
	}
	if short {
		v.Add("duration", CodeTooShort, "window is shorter than the minimum reservation length")
	}
	if long {
		v.Add("duration", CodeTooLong, "window is longer than the maximum reservation length")
	}
	return v
}
