package analytics

import (
	"math"

	"billfold/internal/core"
)

// ForecastNextMonth estimates next month's spend from the monthly trend.
//
// With fewer than two buckets there is nothing to extrapolate, so the total
// spend of the full set is returned unchanged. Otherwise the estimate is the
// bucket mean plus a linear drift term, (last - first) / count, floored at
// zero. This is deliberately a drift estimator, not a regression.
func ForecastNextMonth(trend []TrendBucket, expenses []core.Expense) core.Money {
	if len(trend) < 2 {
		return TotalSpend(expenses)
	}
	var sum float64
	for _, b := range trend {
		sum += float64(b.Amount.Cents)
	}
	n := float64(len(trend))
	average := sum / n
	delta := float64(trend[len(trend)-1].Amount.Cents-trend[0].Amount.Cents) / n
	forecast := int64(math.Round(average + delta))
	if forecast < 0 {
		forecast = 0
	}
	return core.Money{Cents: forecast}
}
