package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

type Service interface {
	// Resolve returns the policy covering date, or nil when the pair is
	// uncosted on that date.
	Resolve(ctx context.Context, productID, priceGroupID snowflake.ID, date time.Time) (*PricePolicy, error)
	// Price resolves by the start date of [start, end) and computes costs.
	Price(ctx context.Context, productID, priceGroupID snowflake.ID, start, end time.Time) (*Priced, error)

	Create(ctx context.Context, req CreateRequest) ([]PricePolicy, error)
	Update(ctx context.Context, req UpdateRequest) ([]PricePolicy, error)
	Destroy(ctx context.Context, caller authorization.Caller, productID snowflake.ID, startDate time.Time) error
	NewPolicyDefaults(ctx context.Context, facilityID, productID snowflake.ID) (*PolicyDefaults, error)
	GenerateExpireDate(start time.Time) time.Time

	CreatePriceGroup(ctx context.Context, req CreatePriceGroupRequest) (*PriceGroup, error)
	AssignProduct(ctx context.Context, req AssignProductRequest) (*PriceGroupProduct, error)

	BookingWindow(ctx context.Context, caller authorization.Caller, priceGroupID, productID snowflake.ID) (*BookingWindow, error)
	ValidateBookingWindow(ctx context.Context, caller authorization.Caller, priceGroupID, productID snowflake.ID, start time.Time) error
}

// GroupParams are the rates for one price group. Groups of the facility
// without params receive a policy that cannot be purchased.
type GroupParams struct {
	PriceGroupID          snowflake.ID `json:"price_group_id" validate:"required"`
	UsageRateCents        int64        `json:"usage_rate_cents" validate:"gte=0"`
	UsageSubsidyCents     int64        `json:"usage_subsidy_cents" validate:"gte=0,ltefield=UsageRateCents"`
	MinimumCostCents      int64        `json:"minimum_cost_cents" validate:"gte=0"`
	CancellationCostCents int64        `json:"cancellation_cost_cents" validate:"gte=0"`
	CanPurchase           bool         `json:"can_purchase"`
	Note                  string       `json:"note" validate:"max=256"`
}

type CreateRequest struct {
	Caller     authorization.Caller `json:"-"`
	FacilityID snowflake.ID         `json:"facility_id" validate:"required"`
	ProductID  snowflake.ID         `json:"product_id" validate:"required"`
	StartDate  time.Time            `json:"start_date"`
	ExpireDate *time.Time           `json:"expire_date"`
	Groups     []GroupParams        `json:"groups" validate:"dive"`
}

// UpdateRequest edits every policy of the product that starts on
// CurrentStartDate. Nil dates keep the start and regenerate the expire date.
type UpdateRequest struct {
	Caller           authorization.Caller `json:"-"`
	FacilityID       snowflake.ID         `json:"facility_id" validate:"required"`
	ProductID        snowflake.ID         `json:"product_id" validate:"required"`
	CurrentStartDate time.Time            `json:"current_start_date"`
	StartDate        *time.Time           `json:"start_date"`
	ExpireDate       *time.Time           `json:"expire_date"`
	Groups           []GroupParams        `json:"groups" validate:"dive"`
}

type PolicyDefaults struct {
	StartDate  time.Time     `json:"start_date"`
	ExpireDate time.Time     `json:"expire_date"`
	Policies   []PricePolicy `json:"policies"`
}

type CreatePriceGroupRequest struct {
	FacilityID   snowflake.ID `json:"facility_id" validate:"required"`
	Name         string       `json:"name" validate:"required,max=64"`
	IsInternal   bool         `json:"is_internal"`
	DisplayOrder int          `json:"display_order"`
}

type AssignProductRequest struct {
	PriceGroupID      snowflake.ID `json:"price_group_id" validate:"required"`
	ProductID         snowflake.ID `json:"product_id" validate:"required"`
	ReservationWindow int          `json:"reservation_window" validate:"gte=0"`
}

var (
	ErrInvalidRequest        = apperror.Validation("invalid_price_policy_request")
	ErrInvalidStartDate      = apperror.Validation("invalid_start_date")
	ErrExpireBeforeStart     = apperror.Validation("expire_date_before_start_date")
	ErrExpireAfterFiscalYear = apperror.Validation("expire_date_after_fiscal_year")
	ErrOverlapsLaterPolicy   = apperror.Validation("policy_overlaps_later_policy")
	ErrDuplicateStartDate    = apperror.Validation("policy_start_date_taken")
	ErrUnknownPriceGroup     = apperror.Validation("unknown_price_group")
	ErrNoPriceGroups         = apperror.Validation("facility_has_no_price_groups")
	ErrOutsideBookingWindow  = apperror.Validation("outside_booking_window")
	ErrPolicyInUse           = apperror.State("price_policy_in_use")
	ErrPolicyActive          = apperror.State("price_policy_active")
	ErrNotFound              = apperror.NotFound("price_policy_not_found")
	ErrPriceGroupNotFound    = apperror.NotFound("price_group_not_found")
)
