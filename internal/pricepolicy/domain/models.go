package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PriceGroup classifies callers for rates and booking limits.
type PriceGroup struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	FacilityID   snowflake.ID `json:"facility_id" gorm:"column:facility_id;not null;index"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	IsInternal   bool         `json:"is_internal" gorm:"not null;default:false"`
	DisplayOrder int          `json:"display_order" gorm:"not null;default:0"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (PriceGroup) TableName() string { return "price_groups" }

// PriceGroupProduct assigns a product to a price group and carries the
// group's booking lead time for that product in days.
type PriceGroupProduct struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	PriceGroupID      snowflake.ID `json:"price_group_id" gorm:"column:price_group_id;not null"`
	ProductID         snowflake.ID `json:"product_id" gorm:"column:product_id;not null"`
	ReservationWindow int          `json:"reservation_window" gorm:"not null;default:0"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
}

func (PriceGroupProduct) TableName() string { return "price_group_products" }

// PricePolicy prices one product for one price group over the inclusive
// date range [StartDate, ExpireDate]. Rates are cents per hour.
type PricePolicy struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	ProductID             snowflake.ID `json:"product_id" gorm:"column:product_id;not null;index:idx_price_policies_lookup"`
	PriceGroupID          snowflake.ID `json:"price_group_id" gorm:"column:price_group_id;not null;index:idx_price_policies_lookup"`
	StartDate             time.Time    `json:"start_date" gorm:"type:date;not null"`
	ExpireDate            time.Time    `json:"expire_date" gorm:"type:date;not null"`
	UsageRateCents        int64        `json:"usage_rate_cents" gorm:"not null;default:0"`
	UsageSubsidyCents     int64        `json:"usage_subsidy_cents" gorm:"not null;default:0"`
	MinimumCostCents      int64        `json:"minimum_cost_cents" gorm:"not null;default:0"`
	CancellationCostCents int64        `json:"cancellation_cost_cents" gorm:"not null;default:0"`
	CanPurchase           bool         `json:"can_purchase" gorm:"not null;default:false"`
	Note                  string       `json:"note,omitempty" gorm:"type:text"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time    `json:"updated_at" gorm:"not null"`
}

func (PricePolicy) TableName() string { return "price_policies" }

// Covers reports whether date falls inside the policy's inclusive range.
func (p PricePolicy) Covers(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(DateOf(p.StartDate)) && !d.After(DateOf(p.ExpireDate))
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Costs is a computed cost/subsidy pair in cents.
type Costs struct {
	CostCents    int64 `json:"cost_cents"`
	SubsidyCents int64 `json:"subsidy_cents"`
}

// Priced is a resolved policy with the costs it yields for a window.
type Priced struct {
	Policy PricePolicy `json:"policy"`
	Costs  Costs       `json:"costs"`
}

// BookingWindow bounds the dates a caller may start a reservation on.
type BookingWindow struct {
	MaxWindow    int       `json:"max_window"`
	MaxDaysAgo   int       `json:"max_days_ago"`
	MinDate      time.Time `json:"min_date"`
	MaxDate      time.Time `json:"max_date"`
	Unrestricted bool      `json:"unrestricted"`
}

// Allows reports whether a start on date falls inside the window.
func (w BookingWindow) Allows(date time.Time) bool {
	if w.Unrestricted {
		return true
	}
	d := DateOf(date)
	return !d.Before(w.MinDate) && !d.After(w.MaxDate)
}
