package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the order layer port: identity lookups plus the cost
// callbacks the reservation lifecycle writes.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, line *OrderLine) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*OrderLine, error)
	RecordEstimate(ctx context.Context, db *gorm.DB, id snowflake.ID, costs Costs, at time.Time) error
	RecordActual(ctx context.Context, db *gorm.DB, id snowflake.ID, costs Costs, state State, fulfilledAt *time.Time, at time.Time) error
	MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, costs Costs, at time.Time) error
	// CountPricedWith counts order lines priced against any of the policies.
	CountPricedWith(ctx context.Context, db *gorm.DB, policyIDs []snowflake.ID) (int64, error)
	// CountFulfilledOnOrAfter counts priced lines fulfilled on or after since.
	CountFulfilledOnOrAfter(ctx context.Context, db *gorm.DB, policyIDs []snowflake.ID, since time.Time) (int64, error)
}
