package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/internal/availability"
	orderlinedomain "github.com/smallbiznis/facilitycore/internal/orderline/domain"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// Reservation books one instrument for one order line. LockVersion is
// bumped by every write so racing writers detect stale reads.
type Reservation struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	InstrumentID   snowflake.ID  `json:"instrument_id" gorm:"column:instrument_id;not null;index:idx_reservations_instrument_window"`
	OrderLineID    snowflake.ID  `json:"order_line_id" gorm:"column:order_line_id;not null"`
	ReserveStartAt time.Time     `json:"reserve_start_at" gorm:"not null;index:idx_reservations_instrument_window"`
	ReserveEndAt   time.Time     `json:"reserve_end_at" gorm:"not null;index:idx_reservations_instrument_window"`
	ActualStartAt  *time.Time    `json:"actual_start_at,omitempty"`
	ActualEndAt    *time.Time    `json:"actual_end_at,omitempty"`
	CanceledAt     *time.Time    `json:"canceled_at,omitempty"`
	CanceledBy     *snowflake.ID `json:"canceled_by,omitempty"`
	Status         Status        `json:"status" gorm:"type:text;not null"`
	LockVersion    int64         `json:"lock_version" gorm:"not null;default:0"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time     `json:"updated_at" gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

func (r Reservation) Window() availability.Window {
	return availability.Window{Start: r.ReserveStartAt.UTC(), End: r.ReserveEndAt.UTC()}
}

func (r Reservation) Started() bool  { return r.ActualStartAt != nil }
func (r Reservation) Ended() bool    { return r.ActualEndAt != nil }
func (r Reservation) Canceled() bool { return r.CanceledAt != nil }

// ActualWindow is the realized usage interval, known once both actuals
// are recorded.
func (r Reservation) ActualWindow() (availability.Window, bool) {
	if r.ActualStartAt == nil || r.ActualEndAt == nil {
		return availability.Window{}, false
	}
	return availability.Window{Start: r.ActualStartAt.UTC(), End: r.ActualEndAt.UTC()}, true
}

// IsProblem flags a reservation past its planned end whose usage or final
// price is still missing. It is derived, never stored.
func IsProblem(r Reservation, line *orderlinedomain.OrderLine, now time.Time) bool {
	if r.Canceled() || now.Before(r.ReserveEndAt) {
		return false
	}
	if !r.Started() || !r.Ended() {
		return true
	}
	return line == nil || !line.HasActualCost()
}
