package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// BillableMinutes rounds a usage interval up to whole minutes.
func BillableMinutes(start, end time.Time) int64 {
	if !end.After(start) {
		return 0
	}
	return int64(math.Ceil(end.Sub(start).Minutes()))
}

// Calculate prices [start, end) with the policy's hourly rates. Cost never
// drops below the minimum and subsidy never exceeds cost.
func Calculate(policy PricePolicy, start, end time.Time) Costs {
	minutes := decimal.NewFromInt(BillableMinutes(start, end))

	cost := decimal.NewFromInt(policy.UsageRateCents).Mul(minutes).Div(sixty).Round(0).IntPart()
	if cost < policy.MinimumCostCents {
		cost = policy.MinimumCostCents
	}

	subsidy := decimal.NewFromInt(policy.UsageSubsidyCents).Mul(minutes).Div(sixty).Round(0).IntPart()
	if subsidy > cost {
		subsidy = cost
	}
	return Costs{CostCents: cost, SubsidyCents: subsidy}
}

// CancellationCosts is the fee charged for a late cancellation.
func CancellationCosts(policy PricePolicy) Costs {
	return Costs{CostCents: policy.CancellationCostCents}
}
