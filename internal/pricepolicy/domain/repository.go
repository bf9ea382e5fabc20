package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, policy *PricePolicy) error
	Update(ctx context.Context, db *gorm.DB, policy *PricePolicy) error
	UpdateExpireDate(ctx context.Context, db *gorm.DB, id snowflake.ID, expireDate time.Time, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	FindCovering(ctx context.Context, db *gorm.DB, productID, priceGroupID snowflake.ID, date time.Time) (*PricePolicy, error)
	CountCovering(ctx context.Context, db *gorm.DB, productID snowflake.ID, date time.Time) (int64, error)
	ListByStartDate(ctx context.Context, db *gorm.DB, productID snowflake.ID, startDate time.Time) ([]PricePolicy, error)
	ListForPair(ctx context.Context, db *gorm.DB, productID, priceGroupID snowflake.ID) ([]PricePolicy, error)
}
