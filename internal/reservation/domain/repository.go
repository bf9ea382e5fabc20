package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository writes guard on lock_version and report the rows they
// touched; zero means another writer got there first.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, reservation *Reservation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reservation, error)
	FindActiveByOrderLine(ctx context.Context, db *gorm.DB, orderLineID snowflake.ID) (*Reservation, error)
	// ListActive returns non-canceled reservations ending after since.
	ListActive(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID, since time.Time) ([]Reservation, error)
	ListPastDue(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID, now time.Time) ([]Reservation, error)

	UpdateWindow(ctx context.Context, db *gorm.DB, r *Reservation, version int64) (int64, error)
	RecordStart(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, at time.Time, now time.Time) (int64, error)
	RecordEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, at time.Time, now time.Time) (int64, error)
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, at time.Time, by *snowflake.ID, now time.Time) (int64, error)
}
