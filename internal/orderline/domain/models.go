package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type State string

const (
	StateNew       State = "new"
	StateInProcess State = "inprocess"
	StateComplete  State = "complete"
	StateCanceled  State = "canceled"
)

// OrderLine is the billable unit a reservation belongs to. The order layer
// owns it; this module only writes pricing and state.
type OrderLine struct {
	ID                    snowflake.ID  `json:"id" gorm:"primaryKey"`
	AccountID             snowflake.ID  `json:"account_id" gorm:"column:account_id;not null;index"`
	ProductID             snowflake.ID  `json:"product_id" gorm:"column:product_id;not null"`
	PriceGroupID          snowflake.ID  `json:"price_group_id" gorm:"column:price_group_id;not null"`
	State                 State         `json:"state" gorm:"type:text;not null;default:new"`
	PricePolicyID         *snowflake.ID `json:"price_policy_id,omitempty" gorm:"column:price_policy_id;index"`
	EstimatedCostCents    *int64        `json:"estimated_cost_cents,omitempty"`
	EstimatedSubsidyCents *int64        `json:"estimated_subsidy_cents,omitempty"`
	ActualCostCents       *int64        `json:"actual_cost_cents,omitempty"`
	ActualSubsidyCents    *int64        `json:"actual_subsidy_cents,omitempty"`
	FulfilledAt           *time.Time    `json:"fulfilled_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time     `json:"updated_at" gorm:"not null"`
}

func (OrderLine) TableName() string { return "order_lines" }

func (o OrderLine) HasActualCost() bool { return o.ActualCostCents != nil }

// Costs is one pricing outcome written back to the order line. A nil
// PolicyID with nil amounts marks the line uncosted.
type Costs struct {
	PolicyID *snowflake.ID
	Cost     *int64
	Subsidy  *int64
}
