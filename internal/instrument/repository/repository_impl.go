package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() instrumentdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, instrument *instrumentdomain.Instrument) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO instruments (
			id, facility_id, product_id, name, url_name, time_zone, reserve_interval_mins,
			min_cancel_hours, relay_enabled, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instrument.ID,
		instrument.FacilityID,
		instrument.ProductID,
		instrument.Name,
		instrument.URLName,
		instrument.TimeZone,
		instrument.ReserveIntervalMins,
		instrument.MinCancelHours,
		instrument.RelayEnabled,
		instrument.Metadata,
		instrument.CreatedAt,
		instrument.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*instrumentdomain.Instrument, error) {
	var instrument instrumentdomain.Instrument
	err := db.WithContext(ctx).Raw(
		`SELECT id, facility_id, product_id, name, url_name, time_zone, reserve_interval_mins,
		        min_cancel_hours, relay_enabled, metadata, created_at, updated_at
		 FROM instruments
		 WHERE id = ?`,
		id,
	).Scan(&instrument).Error
	if err != nil {
		return nil, err
	}
	if instrument.ID == 0 {
		return nil, nil
	}
	return &instrument, nil
}

func (r *repo) FindByProductID(ctx context.Context, db *gorm.DB, productID snowflake.ID) (*instrumentdomain.Instrument, error) {
	var instrument instrumentdomain.Instrument
	err := db.WithContext(ctx).Raw(
		`SELECT id, facility_id, product_id, name, url_name, time_zone, reserve_interval_mins,
		        min_cancel_hours, relay_enabled, metadata, created_at, updated_at
		 FROM instruments
		 WHERE product_id = ?`,
		productID,
	).Scan(&instrument).Error
	if err != nil {
		return nil, err
	}
	if instrument.ID == 0 {
		return nil, nil
	}
	return &instrument, nil
}

func (r *repo) CountByURLName(ctx context.Context, db *gorm.DB, facilityID snowflake.ID, urlName string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM instruments WHERE facility_id = ? AND url_name = ?`,
		facilityID, urlName,
	).Scan(&count).Error
	return count, err
}

func (r *repo) InsertRules(ctx context.Context, db *gorm.DB, rules []instrumentdomain.ScheduleRule) error {
	for _, rule := range rules {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO schedule_rules (
				id, instrument_id, day_of_week, start_hour, start_min, end_hour, end_min,
				min_reserve_mins, max_reserve_mins, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID,
			rule.InstrumentID,
			rule.DayOfWeek,
			rule.StartHour,
			rule.StartMin,
			rule.EndHour,
			rule.EndMin,
			rule.MinReserveMins,
			rule.MaxReserveMins,
			rule.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListRules(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID) ([]instrumentdomain.ScheduleRule, error) {
	var rules []instrumentdomain.ScheduleRule
	err := db.WithContext(ctx).Raw(
		`SELECT id, instrument_id, day_of_week, start_hour, start_min, end_hour, end_min,
		        min_reserve_mins, max_reserve_mins, created_at
		 FROM schedule_rules
		 WHERE instrument_id = ?
		 ORDER BY day_of_week ASC, start_hour ASC, start_min ASC`,
		instrumentID,
	).Scan(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) InsertStatus(ctx context.Context, db *gorm.DB, status *instrumentdomain.InstrumentStatus) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO instrument_statuses (id, instrument_id, reservation_id, is_on, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		status.ID,
		status.InstrumentID,
		status.ReservationID,
		status.IsOn,
		status.Source,
		status.CreatedAt,
	).Error
}

func (r *repo) LatestStatus(ctx context.Context, db *gorm.DB, instrumentID snowflake.ID) (*instrumentdomain.InstrumentStatus, error) {
	var status instrumentdomain.InstrumentStatus
	err := db.WithContext(ctx).Raw(
		`SELECT id, instrument_id, reservation_id, is_on, source, created_at
		 FROM instrument_statuses
		 WHERE instrument_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		instrumentID,
	).Scan(&status).Error
	if err != nil {
		return nil, err
	}
	if status.ID == 0 {
		return nil, nil
	}
	return &status, nil
}
