package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateMonthKey(t *testing.T) {
	if got := NewDate(2025, 12, 15).MonthKey(); got != 202512 {
		t.Fatalf("expected 202512, got %d", got)
	}
	if got := NewDate(2026, 1, 1).MonthKey(); got != 202601 {
		t.Fatalf("expected 202601, got %d", got)
	}
	if got := NewDate(2025, 12, 15).MonthLabel(); got != "Dec 2025" {
		t.Fatalf("expected Dec 2025, got %q", got)
	}
}

func TestDateJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`"2025-03-09"`, "2025-03-09"},
		{`"2025-03-09T14:00:00.000Z"`, "2025-03-09"}, // timestamps from older clients
	}
	for _, tc := range cases {
		var d Date
		if err := json.Unmarshal([]byte(tc.in), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if d.String() != tc.want {
			t.Fatalf("unmarshal %s: expected %s, got %s", tc.in, tc.want, d)
		}
	}

	b, err := json.Marshal(NewDate(2025, 3, 9))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2025-03-09"` {
		t.Fatalf("expected quoted date, got %s", b)
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Username:    "alice",
		Amount:      Money{Cents: 100},
		Category:    "Food",
		Description: "lunch",
		Date:        NewDate(2025, 1, 1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Username: "", Amount: Money{Cents: 1}, Category: "c", Description: "d", Date: NewDate(2025, 1, 1)},
		{Username: "u", Amount: Money{Cents: 0}, Category: "c", Description: "d", Date: NewDate(2025, 1, 1)},
		{Username: "u", Amount: Money{Cents: -1}, Category: "c", Description: "d", Date: NewDate(2025, 1, 1)},
		{Username: "u", Amount: Money{Cents: 1}, Category: "", Description: "d", Date: NewDate(2025, 1, 1)},
		{Username: "u", Amount: Money{Cents: 1}, Category: "c", Description: "", Date: NewDate(2025, 1, 1)},
		{Username: "u", Amount: Money{Cents: 1}, Category: "c", Description: strings.Repeat("x", 201), Date: NewDate(2025, 1, 1)},
		{Username: "u", Amount: Money{Cents: 1}, Category: "c", Description: "d", Date: Date{Time: time.Time{}}},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestValidateCategorySet(t *testing.T) {
	if err := ValidateCategorySet(DefaultCategories()); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}

	dup := []Category{
		{Name: "Food", Budget: Money{Cents: 100}},
		{Name: "Food", Budget: Money{Cents: 200}},
	}
	if err := ValidateCategorySet(dup); !errors.Is(err, ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory, got %v", err)
	}

	if err := ValidateCategorySet([]Category{{Name: ""}}); !errors.Is(err, ErrEmptyCategoryName) {
		t.Fatalf("expected ErrEmptyCategoryName, got %v", err)
	}
}

func TestUserDataDefaults(t *testing.T) {
	var d UserData
	if got := d.EffectiveBudget(); got != DefaultMonthlyBudget {
		t.Fatalf("expected default budget, got %v", got)
	}
	if got := d.EffectiveCategories(); len(got) != 6 {
		t.Fatalf("expected 6 default categories, got %d", len(got))
	}

	d.Budget = Money{Cents: 5000}
	d.BudgetSet = true
	d.Categories = []Category{{Name: "Solo", Budget: Money{Cents: 1}}}
	if got := d.EffectiveBudget(); got.Cents != 5000 {
		t.Fatalf("expected 5000, got %d", got.Cents)
	}
	if got := d.EffectiveCategories(); len(got) != 1 || got[0].Name != "Solo" {
		t.Fatalf("expected saved categories, got %v", got)
	}
}
