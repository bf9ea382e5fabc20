package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"gorm.io/datatypes"
)

const DefaultReserveInterval = 15 * time.Minute

// Instrument is a bookable, physically metered resource. ProductID is the
// billable product the instrument is sold as.
type Instrument struct {
	ID                  snowflake.ID      `json:"id" gorm:"primaryKey"`
	FacilityID          snowflake.ID      `json:"facility_id" gorm:"column:facility_id;not null;index"`
	ProductID           snowflake.ID      `json:"product_id" gorm:"column:product_id;not null;uniqueIndex"`
	Name                string            `json:"name" gorm:"type:text;not null"`
	URLName             string            `json:"url_name" gorm:"column:url_name;type:text;not null"`
	TimeZone            string            `json:"time_zone" gorm:"type:text;not null;default:UTC"`
	ReserveIntervalMins int               `json:"reserve_interval_mins" gorm:"not null;default:15"`
	MinCancelHours      int               `json:"min_cancel_hours" gorm:"not null;default:0"`
	RelayEnabled        bool              `json:"relay_enabled" gorm:"not null;default:false"`
	Metadata            datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt           time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time         `json:"updated_at" gorm:"not null"`
}

func (Instrument) TableName() string { return "instruments" }

// Location is the zone schedule rules are evaluated in. Unknown zones fall
// back to UTC.
func (i Instrument) Location() *time.Location {
	if i.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(i.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (i Instrument) ReserveInterval() time.Duration {
	if i.ReserveIntervalMins <= 0 {
		return DefaultReserveInterval
	}
	return time.Duration(i.ReserveIntervalMins) * time.Minute
}

func (i Instrument) CancelWindow() time.Duration {
	return time.Duration(i.MinCancelHours) * time.Hour
}

// ScheduleRule opens the instrument on one weekday between start and end.
// End may be 24:00 so consecutive days can chain across midnight.
type ScheduleRule struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	InstrumentID   snowflake.ID `json:"instrument_id" gorm:"column:instrument_id;not null;index"`
	DayOfWeek      int          `json:"day_of_week" gorm:"column:day_of_week;not null"`
	StartHour      int          `json:"start_hour" gorm:"not null"`
	StartMin       int          `json:"start_min" gorm:"not null;default:0"`
	EndHour        int          `json:"end_hour" gorm:"not null"`
	EndMin         int          `json:"end_min" gorm:"not null;default:0"`
	MinReserveMins int          `json:"min_reserve_mins" gorm:"not null;default:0"`
	MaxReserveMins int          `json:"max_reserve_mins" gorm:"not null;default:0"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (ScheduleRule) TableName() string { return "schedule_rules" }

func (r ScheduleRule) Weekday() time.Weekday { return time.Weekday(r.DayOfWeek) }
func (r ScheduleRule) StartMinute() int      { return r.StartHour*60 + r.StartMin }
func (r ScheduleRule) EndMinute() int        { return r.EndHour*60 + r.EndMin }

// MinDuration is zero when the rule sets no lower bound.
func (r ScheduleRule) MinDuration() time.Duration {
	return time.Duration(r.MinReserveMins) * time.Minute
}

// MaxDuration is zero when the rule sets no upper bound.
func (r ScheduleRule) MaxDuration() time.Duration {
	return time.Duration(r.MaxReserveMins) * time.Minute
}

// Covers reports whether minute-of-day m on weekday d falls inside the rule.
func (r ScheduleRule) Covers(d time.Weekday, m int) bool {
	return r.Weekday() == d && m >= r.StartMinute() && m < r.EndMinute()
}

var ErrInvalidScheduleRule = apperror.Validation("invalid_schedule_rule")

func (r ScheduleRule) Validate() error {
	var v apperror.Violations
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		v.Add("day_of_week", "invalid_day_of_week", "day of week must be between 0 (Sunday) and 6")
	}
	if r.StartHour < 0 || r.StartHour > 23 || r.StartMin < 0 || r.StartMin > 59 {
		v.Add("start", "invalid_start", "start must be a time of day")
	}
	if r.EndHour < 0 || r.EndHour > 24 || r.EndMin < 0 || r.EndMin > 59 || r.EndMinute() > 24*60 {
		v.Add("end", "invalid_end", "end must be a time of day no later than 24:00")
	}
	if r.EndMinute() <= r.StartMinute() {
		v.Add("end", "end_before_start", "end must be after start")
	}
	if r.MinReserveMins < 0 || r.MaxReserveMins < 0 {
		v.Add("reserve_mins", "negative_duration", "duration bounds cannot be negative")
	}
	if r.MaxReserveMins > 0 && r.MinReserveMins > r.MaxReserveMins {
		v.Add("reserve_mins", "min_exceeds_max", "minimum duration exceeds maximum")
	}
	return v.Err(ErrInvalidScheduleRule)
}

type StatusSource string

const (
	StatusSourceRelay  StatusSource = "relay"
	StatusSourceManual StatusSource = "manual"
)

// InstrumentStatus is one relay on/off observation; the newest row is the
// current status.
type InstrumentStatus struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	InstrumentID  snowflake.ID  `json:"instrument_id" gorm:"column:instrument_id;not null;index"`
	ReservationID *snowflake.ID `json:"reservation_id,omitempty" gorm:"column:reservation_id"`
	IsOn          bool          `json:"is_on" gorm:"column:is_on;not null"`
	Source        StatusSource  `json:"source" gorm:"type:text;not null"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
}

func (InstrumentStatus) TableName() string { return "instrument_statuses" }
