// Package analytics holds the pure aggregation functions over expense and
// category collections: filtering, totals, monthly trends, rankings, and the
// next-month spending forecast. Nothing in this package mutates its inputs;
// callers pass snapshots and get derived views back.
package analytics

import (
	"math"
	"sort"
	"time"

	"billfold/internal/core"
)

// Period selects the time window a filter applies.
type Period string

const (
	PeriodAll    Period = "all"
	Period7Days  Period = "7days"
	Period30Days Period = "30days"
	PeriodCustom Period = "custom"
)

// CategoryAll is the pass-through category filter.
const CategoryAll = "all"

// Query describes one filtered view over a user's expenses. The zero value
// matches everything. Now anchors the trailing windows; a zero Now means
// time.Now.
type Query struct {
	Category string
	Period   Period
	Start    core.Date // custom range, inclusive
	End      core.Date // custom range, inclusive
	Now      time.Time
}

func (q Query) matches(e core.Expense) bool {
	if q.Category != "" && q.Category != CategoryAll && e.Category != q.Category {
		return false
	}
	switch q.Period {
	case "", PeriodAll:
		return true
	case Period7Days:
		return !e.Date.Before(q.anchor().AddDate(0, 0, -7))
	case Period30Days:
		return !e.Date.Before(q.anchor().AddDate(0, 0, -30))
	case PeriodCustom:
		if !q.Start.IsZero() && e.Date.Before(q.Start.Time) {
			return false
		}
		if !q.End.IsZero() && e.Date.After(q.End.Time) {
			return false
		}
		return true
	default:
		return true
	}
}

func (q Query) anchor() time.Time {
	if q.Now.IsZero() {
		return time.Now().UTC()
	}
	return q.Now
}

// Filter returns the expenses matching the query, preserving store order.
// The result is a fresh slice; the input is never modified.
func Filter(expenses []core.Expense, q Query) []core.Expense {
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// CategorySpend sums the amounts of expenses in the named category.
// Zero when nothing matches.
func CategorySpend(expenses []core.Expense, name string) core.Money {
	var total core.Money
	for _, e := range expenses {
		if e.Category == name {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// TotalSpend sums all amounts in the given set.
func TotalSpend(expenses []core.Expense) core.Money {
	var total core.Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}

// TotalBudget sums the per-category budgets. This is independent of the
// monthly ceiling; the two are not required to agree.
func TotalBudget(categories []core.Category) core.Money {
	var total core.Money
	for _, c := range categories {
		total = total.Add(c.Budget)
	}
	return total
}

// TrendBucket is one calendar-month aggregate.
type TrendBucket struct {
	Label  string     `json:"month"`
	Amount core.Money `json:"amount"`
}

// MonthlyTrend groups expenses by their own calendar month and returns at
// most the most recent six buckets in chronological order. Bucketing uses
// the expense date, so out-of-order entry does not skew the result.
func MonthlyTrend(expenses []core.Expense) []TrendBucket {
	sums := make(map[int]core.Money)
	labels := make(map[int]string)
	for _, e := range expenses {
		key := e.Date.MonthKey()
		sums[key] = sums[key].Add(e.Amount)
		labels[key] = e.Date.MonthLabel()
	}
	keys := make([]int, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	if len(keys) > 6 {
		keys = keys[len(keys)-6:]
	}
	out := make([]TrendBucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, TrendBucket{Label: labels[k], Amount: sums[k]})
	}
	return out
}

// BreakdownEntry is one slice of the per-category spend breakdown.
type BreakdownEntry struct {
	Name   string     `json:"name"`
	Amount core.Money `json:"amount"`
	Hex    string     `json:"hex"`
}

// CategoryBreakdown returns one entry per category with positive spend in
// the given set. Categories with zero spend are omitted here; the budget
// tracking view keeps them.
func CategoryBreakdown(expenses []core.Expense, categories []core.Category) []BreakdownEntry {
	out := make([]BreakdownEntry, 0, len(categories))
	for _, c := range categories {
		spent := CategorySpend(expenses, c.Name)
		if spent.Cents > 0 {
			out = append(out, BreakdownEntry{Name: c.Name, Amount: spent, Hex: c.Hex})
		}
	}
	return out
}

// RankedCategory pairs a category with its spend for ranking views.
type RankedCategory struct {
	Category core.Category `json:"category"`
	Spent    core.Money    `json:"spent"`
}

// TopCategories ranks all categories descending by spend and returns at most
// n. Ties keep the original category order.
func TopCategories(expenses []core.Expense, categories []core.Category, n int) []RankedCategory {
	ranked := make([]RankedCategory, 0, len(categories))
	for _, c := range categories {
		ranked = append(ranked, RankedCategory{Category: c, Spent: CategorySpend(expenses, c.Name)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Spent.Cents > ranked[j].Spent.Cents
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// BudgetUsage returns spend as a fraction of budget (1.0 = fully used).
// A zero budget with positive spend yields +Inf rather than a panic;
// zero budget with zero spend yields 0.
func BudgetUsage(spent, budget core.Money) float64 {
	if budget.Cents == 0 {
		if spent.Cents == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(spent.Cents) / float64(budget.Cents)
}
