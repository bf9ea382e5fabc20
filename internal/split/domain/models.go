package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AccountSplit routes Percent of every charge on the parent funding account
// to one subaccount. Exactly one split of a parent carries ExtraPenny and
// absorbs the rounding remainder.
type AccountSplit struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	ParentAccountID  snowflake.ID    `json:"parent_account_id" gorm:"column:parent_account_id;not null;uniqueIndex:ux_account_splits_parent_sub,priority:1"`
	SubaccountID     snowflake.ID    `json:"subaccount_id" gorm:"column:subaccount_id;not null;uniqueIndex:ux_account_splits_parent_sub,priority:2"`
	SubaccountNumber string          `json:"subaccount_number" gorm:"type:text;not null"`
	Percent          decimal.Decimal `json:"percent" gorm:"type:numeric(5,2);not null"`
	ExtraPenny       bool            `json:"extra_penny" gorm:"not null;default:false"`
	Position         int             `json:"position" gorm:"not null;default:0"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
}

func (AccountSplit) TableName() string { return "account_splits" }

// Allocation is the share of one total assigned to one split.
type Allocation struct {
	Split  AccountSplit `json:"split"`
	Amount int64        `json:"amount"`
}

// ChargeLine is one finalized order line charge to route into the journal.
// The chargeable total is cost minus subsidy.
type ChargeLine struct {
	OrderLineID    snowflake.ID `json:"order_line_id"`
	AccountID      snowflake.ID `json:"account_id"`
	AccountNumber  string       `json:"account_number"`
	RevenueAccount string       `json:"revenue_account"`
	CostCents      int64        `json:"cost_cents"`
	SubsidyCents   int64        `json:"subsidy_cents"`
	Description    string       `json:"description"`
}

func (c ChargeLine) Total() int64 { return c.CostCents - c.SubsidyCents }

// JournalRow is one signed ledger line. Aggregated revenue rows carry no
// order line.
type JournalRow struct {
	Account     string        `json:"account"`
	Amount      int64         `json:"amount"`
	OrderLineID *snowflake.ID `json:"order_line_id,omitempty"`
	Description string        `json:"description"`
	Unsplit     bool          `json:"unsplit,omitempty"`
}

// JournalBatch is the ordered row set handed to the export layer.
type JournalBatch struct {
	Reference string       `json:"reference"`
	CreatedAt time.Time    `json:"created_at"`
	Rows      []JournalRow `json:"rows"`
}

// Sum is zero for a balanced batch.
func (b JournalBatch) Sum() int64 {
	var sum int64
	for _, row := range b.Rows {
		sum += row.Amount
	}
	return sum
}
