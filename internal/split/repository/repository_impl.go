package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	splitdomain "github.com/smallbiznis/facilitycore/internal/split/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() splitdomain.Repository {
	return &repo{}
}

func (r *repo) ListByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]splitdomain.AccountSplit, error) {
	var splits []splitdomain.AccountSplit
	err := db.WithContext(ctx).Raw(
		`SELECT id, parent_account_id, subaccount_id, subaccount_number, percent, extra_penny, position, created_at
		 FROM account_splits
		 WHERE parent_account_id = ?
		 ORDER BY position ASC, id ASC`,
		parentID,
	).Scan(&splits).Error
	if err != nil {
		return nil, err
	}
	return splits, nil
}

func (r *repo) Replace(ctx context.Context, db *gorm.DB, parentID snowflake.ID, splits []splitdomain.AccountSplit) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM account_splits WHERE parent_account_id = ?`,
		parentID,
	).Error; err != nil {
		return err
	}
	for _, split := range splits {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO account_splits (
				id, parent_account_id, subaccount_id, subaccount_number, percent, extra_penny, position, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			split.ID,
			parentID,
			split.SubaccountID,
			split.SubaccountNumber,
			split.Percent,
			split.ExtraPenny,
			split.Position,
			split.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}
