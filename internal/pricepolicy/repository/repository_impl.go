package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pricepolicydomain "github.com/smallbiznis/facilitycore/internal/pricepolicy/domain"
	"gorm.io/gorm"
)

const policyColumns = `id, product_id, price_group_id, start_date, expire_date,
		usage_rate_cents, usage_subsidy_cents, minimum_cost_cents, cancellation_cost_cents,
		can_purchase, note, created_at, updated_at`

type repo struct{}

func Provide() pricepolicydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, policy *pricepolicydomain.PricePolicy) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO price_policies (`+policyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		policy.ID,
		policy.ProductID,
		policy.PriceGroupID,
		policy.StartDate,
		policy.ExpireDate,
		policy.UsageRateCents,
		policy.UsageSubsidyCents,
		policy.MinimumCostCents,
		policy.CancellationCostCents,
		policy.CanPurchase,
		policy.Note,
		policy.CreatedAt,
		policy.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, policy *pricepolicydomain.PricePolicy) error {
	return db.WithContext(ctx).Exec(
		`UPDATE price_policies
		 SET start_date = ?, expire_date = ?, usage_rate_cents = ?, usage_subsidy_cents = ?,
		     minimum_cost_cents = ?, cancellation_cost_cents = ?, can_purchase = ?, note = ?, updated_at = ?
		 WHERE id = ?`,
		policy.StartDate,
		policy.ExpireDate,
		policy.UsageRateCents,
		policy.UsageSubsidyCents,
		policy.MinimumCostCents,
		policy.CancellationCostCents,
		policy.CanPurchase,
		policy.Note,
		policy.UpdatedAt,
		policy.ID,
	).Error
}

func (r *repo) UpdateExpireDate(ctx context.Context, db *gorm.DB, id snowflake.ID, expireDate time.Time, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE price_policies SET expire_date = ?, updated_at = ? WHERE id = ?`,
		expireDate, at, id,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(`DELETE FROM price_policies WHERE id IN ?`, ids).Error
}

func (r *repo) FindCovering(ctx context.Context, db *gorm.DB, productID, priceGroupID snowflake.ID, date time.Time) (*pricepolicydomain.PricePolicy, error) {
	var policy pricepolicydomain.PricePolicy
	err := db.WithContext(ctx).Raw(
		`SELECT `+policyColumns+`
		 FROM price_policies
		 WHERE product_id = ? AND price_group_id = ? AND start_date <= ? AND expire_date >= ?
		 ORDER BY start_date DESC
		 LIMIT 1`,
		productID, priceGroupID, date, date,
	).Scan(&policy).Error
	if err != nil {
		return nil, err
	}
	if policy.ID == 0 {
		return nil, nil
	}
	return &policy, nil
}

func (r *repo) CountCovering(ctx context.Context, db *gorm.DB, productID snowflake.ID, date time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM price_policies
		 WHERE product_id = ? AND start_date <= ? AND expire_date >= ?`,
		productID, date, date,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListByStartDate(ctx context.Context, db *gorm.DB, productID snowflake.ID, startDate time.Time) ([]pricepolicydomain.PricePolicy, error) {
	var policies []pricepolicydomain.PricePolicy
	err := db.WithContext(ctx).Raw(
		`SELECT `+policyColumns+`
		 FROM price_policies
		 WHERE product_id = ? AND start_date = ?
		 ORDER BY price_group_id ASC`,
		productID, startDate,
	).Scan(&policies).Error
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func (r *repo) ListForPair(ctx context.Context, db *gorm.DB, productID, priceGroupID snowflake.ID) ([]pricepolicydomain.PricePolicy, error) {
	var policies []pricepolicydomain.PricePolicy
	err := db.WithContext(ctx).Raw(
		`SELECT `+policyColumns+`
		 FROM price_policies
		 WHERE product_id = ? AND price_group_id = ?
		 ORDER BY start_date ASC`,
		productID, priceGroupID,
	).Scan(&policies).Error
	if err != nil {
		return nil, err
	}
	return policies, nil
}
