package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

const MinSplits = 2

var (
	hundred = decimal.NewFromInt(100)

	ErrInvalidSplits   = apperror.Validation("invalid_splits")
	ErrUnbalancedBatch = apperror.Validation("unbalanced_journal_batch")
	ErrInvalidCharge   = apperror.Validation("invalid_charge_line")
	ErrNotFound        = apperror.NotFound("split_account_not_found")
)

// ValidateSplits checks a complete split configuration for one parent
// account and returns every broken rule.
func ValidateSplits(parentID snowflake.ID, splits []AccountSplit) error {
	var v apperror.Violations
	if len(splits) < MinSplits {
		v.Add("splits", "too_few_splits", fmt.Sprintf("a split account needs at least %d splits", MinSplits))
	}

	total := decimal.Zero
	extraPennies := 0
	seen := make(map[snowflake.ID]struct{}, len(splits))
	for i, split := range splits {
		field := fmt.Sprintf("splits[%d]", i)
		if split.SubaccountID == 0 {
			v.Add(field+".subaccount_id", "required", "subaccount is required")
		} else if split.SubaccountID == parentID {
			v.Add(field+".subaccount_id", "self_reference", "a split account cannot split into itself")
		} else if _, dup := seen[split.SubaccountID]; dup {
			v.Add(field+".subaccount_id", "duplicate_subaccount", "subaccount appears more than once")
		}
		seen[split.SubaccountID] = struct{}{}

		if !split.Percent.IsPositive() || split.Percent.GreaterThan(hundred) {
			v.Add(field+".percent", "out_of_range", "percent must be greater than 0 and at most 100")
		} else if !split.Percent.Equal(split.Percent.Truncate(2)) {
			v.Add(field+".percent", "too_precise", "percent allows two decimal places")
		}
		total = total.Add(split.Percent)

		if split.ExtraPenny {
			extraPennies++
		}
	}

	if len(splits) > 0 && !total.Equal(hundred) {
		v.Add("splits", "percent_total", fmt.Sprintf("percents sum to %s, expected 100", total.StringFixed(2)))
	}
	switch {
	case extraPennies == 0 && len(splits) > 0:
		v.Add("splits", "missing_extra_penny", "exactly one split must take the extra penny")
	case extraPennies > 1:
		v.Add("splits", "multiple_extra_penny", "only one split may take the extra penny")
	}
	return v.Err(ErrInvalidSplits)
}

// Allocate divides total across splits in their given order. Every split
// but the extra-penny one receives total*percent/100 truncated toward zero;
// the extra-penny split receives the whole remainder, so the allocations
// always sum to total. 300 across 33.33/33.33/33.34 is 99, 99 and 102.
func Allocate(total int64, splits []AccountSplit) ([]Allocation, error) {
	extra := -1
	for i, split := range splits {
		if split.ExtraPenny {
			if extra >= 0 {
				return nil, ErrInvalidSplits
			}
			extra = i
		}
	}
	if extra < 0 {
		return nil, ErrInvalidSplits
	}

	amount := decimal.NewFromInt(total)
	allocations := make([]Allocation, len(splits))
	var allocated int64
	for i, split := range splits {
		allocations[i].Split = split
		if i == extra {
			continue
		}
		share := amount.Mul(split.Percent).Div(hundred).Truncate(0).IntPart()
		allocations[i].Amount = share
		allocated += share
	}
	allocations[extra].Amount = total - allocated
	return allocations, nil
}
