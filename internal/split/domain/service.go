package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	Replace(ctx context.Context, req ReplaceRequest) ([]AccountSplit, error)
	Splits(ctx context.Context, parentID snowflake.ID) ([]AccountSplit, error)
	// Build routes finalized charges into a balanced journal batch.
	Build(ctx context.Context, lines []ChargeLine) (*JournalBatch, error)
}

type SplitInput struct {
	SubaccountID     snowflake.ID    `json:"subaccount_id"`
	SubaccountNumber string          `json:"subaccount_number"`
	Percent          decimal.Decimal `json:"percent"`
	ExtraPenny       bool            `json:"extra_penny"`
}

type ReplaceRequest struct {
	ParentAccountID snowflake.ID `json:"parent_account_id"`
	Splits          []SplitInput `json:"splits"`
}
