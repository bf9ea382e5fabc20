package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Instrument, error)
	Get(ctx context.Context, id snowflake.ID) (*Instrument, error)
	GetByProduct(ctx context.Context, productID snowflake.ID) (*Instrument, error)
	Rules(ctx context.Context, id snowflake.ID) ([]ScheduleRule, error)
	RecordStatus(ctx context.Context, req RecordStatusRequest) (*InstrumentStatus, error)
	CurrentStatus(ctx context.Context, id snowflake.ID) (*StatusResponse, error)
}

type RuleInput struct {
	DayOfWeek      int `json:"day_of_week"`
	StartHour      int `json:"start_hour"`
	StartMin       int `json:"start_min"`
	EndHour        int `json:"end_hour"`
	EndMin         int `json:"end_min"`
	MinReserveMins int `json:"min_reserve_mins"`
	MaxReserveMins int `json:"max_reserve_mins"`
}

type CreateRequest struct {
	FacilityID          snowflake.ID   `json:"facility_id"`
	ProductID           snowflake.ID   `json:"product_id"`
	Name                string         `json:"name"`
	TimeZone            string         `json:"time_zone"`
	ReserveIntervalMins int            `json:"reserve_interval_mins"`
	MinCancelHours      int            `json:"min_cancel_hours"`
	RelayEnabled        bool           `json:"relay_enabled"`
	Rules               []RuleInput    `json:"rules"`
	Metadata            map[string]any `json:"metadata"`
}

type RecordStatusRequest struct {
	InstrumentID  snowflake.ID
	ReservationID *snowflake.ID
	IsOn          bool
	Source        StatusSource
}

type StatusResponse struct {
	InstrumentID string     `json:"instrument_id"`
	IsOn         bool       `json:"is_on"`
	Known        bool       `json:"known"`
	ChangedAt    *time.Time `json:"changed_at,omitempty"`
}

var (
	ErrInvalidFacility        = apperror.Validation("invalid_facility")
	ErrInvalidProduct         = apperror.Validation("invalid_product")
	ErrInvalidName            = apperror.Validation("invalid_name")
	ErrInvalidTimeZone        = apperror.Validation("invalid_time_zone")
	ErrInvalidReserveInterval = apperror.Validation("invalid_reserve_interval")
	ErrProductTaken           = apperror.Validation("product_already_has_instrument")
	ErrNotFound               = apperror.NotFound("instrument_not_found")
)
