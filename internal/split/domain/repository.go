package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListByParent returns the splits of a parent account in position order.
	ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]AccountSplit, error)
	// Replace swaps the full split configuration of a parent account.
	Replace(ctx context.Context, db *gorm.DB, parentID snowflake.ID, splits []AccountSplit) error
}
