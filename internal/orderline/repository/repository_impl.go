package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderlinedomain "github.com/smallbiznis/facilitycore/internal/orderline/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() orderlinedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, line *orderlinedomain.OrderLine) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO order_lines (
			id, account_id, product_id, price_group_id, state, price_policy_id,
			estimated_cost_cents, estimated_subsidy_cents, actual_cost_cents, actual_subsidy_cents,
			fulfilled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.ID,
		line.AccountID,
		line.ProductID,
		line.PriceGroupID,
		line.State,
		line.PricePolicyID,
		line.EstimatedCostCents,
		line.EstimatedSubsidyCents,
		line.ActualCostCents,
		line.ActualSubsidyCents,
		line.FulfilledAt,
		line.CreatedAt,
		line.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderlinedomain.OrderLine, error) {
	var line orderlinedomain.OrderLine
	err := db.WithContext(ctx).Raw(
		`SELECT id, account_id, product_id, price_group_id, state, price_policy_id,
		        estimated_cost_cents, estimated_subsidy_cents, actual_cost_cents, actual_subsidy_cents,
		        fulfilled_at, created_at, updated_at
		 FROM order_lines
		 WHERE id = ?`,
		id,
	).Scan(&line).Error
	if err != nil {
		return nil, err
	}
	if line.ID == 0 {
		return nil, nil
	}
	return &line, nil
}

func (r *repo) RecordEstimate(ctx context.Context, db *gorm.DB, id snowflake.ID, costs orderlinedomain.Costs, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE order_lines
		 SET price_policy_id = ?, estimated_cost_cents = ?, estimated_subsidy_cents = ?, updated_at = ?
		 WHERE id = ?`,
		costs.PolicyID, costs.Cost, costs.Subsidy, at, id,
	).Error
}

func (r *repo) RecordActual(ctx context.Context, db *gorm.DB, id snowflake.ID, costs orderlinedomain.Costs, state orderlinedomain.State, fulfilledAt *time.Time, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE order_lines
		 SET price_policy_id = ?, actual_cost_cents = ?, actual_subsidy_cents = ?,
		     state = ?, fulfilled_at = ?, updated_at = ?
		 WHERE id = ?`,
		costs.PolicyID, costs.Cost, costs.Subsidy, state, fulfilledAt, at, id,
	).Error
}

func (r *repo) MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, costs orderlinedomain.Costs, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE order_lines
		 SET state = ?, price_policy_id = COALESCE(?, price_policy_id),
		     actual_cost_cents = ?, actual_subsidy_cents = ?, updated_at = ?
		 WHERE id = ?`,
		orderlinedomain.StateCanceled, costs.PolicyID, costs.Cost, costs.Subsidy, at, id,
	).Error
}

func (r *repo) CountPricedWith(ctx context.Context, db *gorm.DB, policyIDs []snowflake.ID) (int64, error) {
	if len(policyIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM order_lines WHERE price_policy_id IN ?`,
		policyIDs,
	).Scan(&count).Error
	return count, err
}

func (r *repo) CountFulfilledOnOrAfter(ctx context.Context, db *gorm.DB, policyIDs []snowflake.ID, since time.Time) (int64, error) {
	if len(policyIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM order_lines
		 WHERE price_policy_id IN ? AND fulfilled_at IS NOT NULL AND fulfilled_at >= ?`,
		policyIDs, since,
	).Scan(&count).Error
	return count, err
}
