package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	reservationdomain "github.com/smallbiznis/facilitycore/internal/reservation/domain"
	"gorm.io/gorm"
)

const reservationColumns = `id, instrument_id, order_line_id, reserve_start_at, reserve_end_at,
		actual_start_at, actual_end_at, canceled_at, canceled_by, status, lock_version,
		created_at, updated_at`

type repo struct{}

func Provide() reservationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, reservation *reservationdomain.Reservation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reservation.ID,
		reservation.InstrumentID,
		reservation.OrderLineID,
		reservation.ReserveStartAt,
		reservation.ReserveEndAt,
		reservation.ActualStartAt,
		reservation.ActualEndAt,
		reservation.CanceledAt,
		reservation.CanceledBy,
		reservation.Status,
		reservation.LockVersion,
		reservation.CreatedAt,
		reservation.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*reservationdomain.Reservation, error) {
	var reservation reservationdomain.Reservation
	err := db.WithContext(ctx).Raw(
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`,
		id,
	).Scan(&reservation).Error
	if err != nil {
		return nil, err
	}
	if reservation.ID == 0 {
		return nil, nil
	}
	return &reservation, nil
}

func (r *repo) FindActiveByOrderLine(ctx context.Context, db *gorm.DB, orderLineID snowflake.ID) (*reservationdomain.Reservation, error) {
	var reservation reservationdomain.Reservation
	err := db.WithContext(ctx).Raw(
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE order_line_id = ? AND canceled_at IS NULL
		 LIMIT 1`,
		orderLineID,
	).Scan(&reservation).Error
	if err != nil {
		return nil, err
	}
	if reservation.ID == 0 {
		return nil, nil
	}
	return &reservation, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID, since time.Time) ([]reservationdomain.Reservation, error) {
	var reservations []reservationdomain.Reservation
	err := db.WithContext(ctx).Raw(
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE instrument_id = ? AND canceled_at IS NULL AND reserve_end_at > ?
		 ORDER BY reserve_start_at ASC, id ASC`,
		instrumentID, since,
	).Scan(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repo) ListPastDue(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID, now time.Time) ([]reservationdomain.Reservation, error) {
	var reservations []reservationdomain.Reservation
	err := db.WithContext(ctx).Raw(
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE instrument_id = ? AND canceled_at IS NULL AND reserve_end_at <= ?
		 ORDER BY reserve_start_at ASC, id ASC`,
		instrumentID, now,
	).Scan(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repo) UpdateWindow(ctx context.Context, db *gorm.DB, reservation *reservationdomain.Reservation, version int64) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE reservations
		 SET reserve_start_at = ?, reserve_end_at = ?, actual_start_at = ?, actual_end_at = ?,
		     status = ?, lock_version = lock_version + 1, updated_at = ?
		 WHERE id = ? AND lock_version = ?`,
		reservation.ReserveStartAt,
		reservation.ReserveEndAt,
		reservation.ActualStartAt,
		reservation.ActualEndAt,
		reservation.Status,
		reservation.UpdatedAt,
		reservation.ID,
		version,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) RecordStart(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, at time.Time, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE reservations
		 SET actual_start_at = ?, status = ?, lock_version = lock_version + 1, updated_at = ?
		 WHERE id = ? AND lock_version = ? AND actual_start_at IS NULL AND canceled_at IS NULL`,
		at, reservationdomain.StatusInProgress, now, id, version,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) RecordEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, at time.Time, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE reservations
		 SET actual_end_at = ?, status = ?, lock_version = lock_version + 1, updated_at = ?
		 WHERE id = ? AND lock_version = ? AND actual_start_at IS NOT NULL AND actual_end_at IS NULL`,
		at, reservationdomain.StatusCompleted, now, id, version,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, version int64, at time.Time, by *snowflake.ID, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE reservations
		 SET canceled_at = ?, canceled_by = ?, status = ?, lock_version = lock_version + 1, updated_at = ?
		 WHERE id = ? AND lock_version = ? AND actual_start_at IS NULL AND canceled_at IS NULL`,
		at, by, reservationdomain.StatusCanceled, now, id, version,
	)
	return result.RowsAffected, result.Error
}
