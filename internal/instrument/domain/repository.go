package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, instrument *Instrument) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Instrument, error)
	FindByProductID(ctx context.Context, db *gorm.DB, productID snowflake.ID) (*Instrument, error)
	CountByURLName(ctx context.Context, db *gorm.DB, facilityID snowflake.ID, urlName string) (int64, error)
	InsertRules(ctx context.Context, db *gorm.DB, rules []ScheduleRule) error
	ListRules(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID) ([]ScheduleRule, error)
	InsertStatus(ctx context.Context, db *gorm.DB, status *InstrumentStatus) error
	LatestStatus(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID) (*InstrumentStatus, error)
}
