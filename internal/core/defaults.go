package core

// DefaultMonthlyBudget is the spending ceiling applied to accounts that have
// never saved an explicit budget.
var DefaultMonthlyBudget = Money{Cents: 165000}

// DefaultCategories returns the stock category set seeded into every new
// account. Callers receive a fresh slice and may mutate it freely.
func DefaultCategories() []Category {
	return []Category{
		{Name: "Food", ColorToken: "bg-orange-500", Hex: "#f97316", Budget: Money{Cents: 50000}, Icon: "🍔"},
		{Name: "Transport", ColorToken: "bg-blue-500", Hex: "#3b82f6", Budget: Money{Cents: 20000}, Icon: "🚗"},
		{Name: "Shopping", ColorToken: "bg-pink-500", Hex: "#ec4899", Budget: Money{Cents: 30000}, Icon: "🛍️"},
		{Name: "Bills", ColorToken: "bg-red-500", Hex: "#ef4444", Budget: Money{Cents: 40000}, Icon: "📄"},
		{Name: "Entertainment", ColorToken: "bg-purple-500", Hex: "#a855f7", Budget: Money{Cents: 15000}, Icon: "🎬"},
		{Name: "Other", ColorToken: "bg-gray-500", Hex: "#6b7280", Budget: Money{Cents: 10000}, Icon: "📦"},
	}
}

// EffectiveCategories resolves the category set for a user: their own saved
// set when present, otherwise the stock defaults.
func (d UserData) EffectiveCategories() []Category {
	if d.Categories != nil {
		return d.Categories
	}
	return DefaultCategories()
}

// EffectiveBudget resolves the monthly ceiling for a user: their own saved
// value when one was ever written, otherwise the default ceiling.
func (d UserData) EffectiveBudget() Money {
	if d.BudgetSet {
		return d.Budget
	}
	return DefaultMonthlyBudget
}
