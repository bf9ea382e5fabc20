package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/internal/availability"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	pricepolicydomain "github.com/smallbiznis/facilitycore/internal/pricepolicy/domain"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Reservation, error)
	Schedule(ctx context.Context, req ScheduleRequest) (*Reservation, error)
	Update(ctx context.Context, req UpdateRequest) (*Reservation, error)
	MoveToEarliest(ctx context.Context, caller authorization.Caller, id snowflake.ID) (*MoveResult, error)
	RecordStart(ctx context.Context, req RecordUsageRequest) (*Reservation, error)
	RecordEnd(ctx context.Context, req RecordUsageRequest) (*EndResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*Reservation, error)

	EarliestPossible(ctx context.Context, id snowflake.ID) (*availability.Window, error)
	ListProblems(ctx context.Context, instrumentID snowflake.ID) ([]Reservation, error)
	BookingWindow(ctx context.Context, caller authorization.Caller, priceGroupID, productID snowflake.ID) (*pricepolicydomain.BookingWindow, error)
	Status(ctx context.Context, instrumentID snowflake.ID) (*instrumentdomain.StatusResponse, error)
}

type ScheduleRequest struct {
	Caller       authorization.Caller `json:"-"`
	InstrumentID snowflake.ID         `json:"instrument_id"`
	OrderLineID  snowflake.ID         `json:"order_line_id"`
	Start        time.Time            `json:"reserve_start_at"`
	End          time.Time            `json:"reserve_end_at"`
}

// UpdateRequest moves a reservation to an explicit window. Actuals may be
// corrected only by callers allowed to edit started reservations.
type UpdateRequest struct {
	Caller      authorization.Caller `json:"-"`
	ID          snowflake.ID         `json:"id"`
	Start       time.Time            `json:"reserve_start_at"`
	End         time.Time            `json:"reserve_end_at"`
	ActualStart *time.Time           `json:"actual_start_at,omitempty"`
	ActualEnd   *time.Time           `json:"actual_end_at,omitempty"`
}

type RecordUsageRequest struct {
	ID     snowflake.ID                  `json:"id"`
	At     time.Time                     `json:"at"`
	Source instrumentdomain.StatusSource `json:"source"`
}

type CancelRequest struct {
	Caller authorization.Caller `json:"-"`
	ID     snowflake.ID         `json:"id"`
	// At is honoured only for callers allowed to backdate; it defaults to now.
	At *time.Time `json:"at,omitempty"`
}

type MoveResult struct {
	Reservation Reservation `json:"reservation"`
	Moved       bool        `json:"moved"`
}

// EndResult reports the realized costs, or Uncosted when no price policy
// covers the usage date.
type EndResult struct {
	Reservation Reservation              `json:"reservation"`
	Costs       *pricepolicydomain.Costs `json:"costs,omitempty"`
	PolicyID    *snowflake.ID            `json:"price_policy_id,omitempty"`
	Uncosted    bool                     `json:"uncosted"`
}

var (
	ErrNotFound            = apperror.NotFound("reservation_not_found")
	ErrOrderLineNotFound   = apperror.NotFound("order_line_not_found")
	ErrProductMismatch     = apperror.Validation("order_line_product_mismatch")
	ErrOrderLineReserved   = apperror.Validation("order_line_already_reserved")
	ErrCannotPurchase      = apperror.Validation("price_group_cannot_purchase")
	ErrInvalidActualWindow = apperror.Validation("invalid_actual_window")
	ErrInvalidCancelTime   = apperror.Validation("invalid_cancel_time")
	ErrCanceled            = apperror.State("reservation_canceled")
	ErrStarted             = apperror.State("reservation_started")
	ErrAlreadyStarted      = apperror.State("reservation_already_started")
	ErrNotStarted          = apperror.State("reservation_not_started")
	ErrAlreadyEnded        = apperror.State("reservation_already_ended")
	ErrStaleReservation    = apperror.Conflict("stale_reservation")
)
