package core

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyDescription  = errors.New("empty description")
	ErrEmptyCategory     = errors.New("empty category")
	ErrEmptyUsername     = errors.New("empty username")
	ErrEmptyCategoryName = errors.New("empty category name")
	ErrDuplicateCategory = errors.New("duplicate category name")
	ErrUnknownCategory   = errors.New("unknown category name")
	ErrInvalidDate       = errors.New("invalid date")
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

type (
	// Date is a plain calendar date. Time-of-day is always midnight UTC and
	// carries no meaning; dates are used only for ordering and range filtering.
	Date struct {
		time.Time
	}

	// Expense is a single spending record owned by one user. Identity is the
	// opaque ID assigned by the store; mutation happens only through full
	// replacement of the owning collection.
	Expense struct {
		ID          string `json:"id,omitempty"`
		Username    string `json:"username"`
		Amount      Money  `json:"amount"`
		Category    string `json:"category"`
		Description string `json:"description"`
		Date        Date   `json:"date"`
	}

	// Category is a user-defined spending bucket with its own budget.
	// Name is unique within a user's category set.
	Category struct {
		Name       string `json:"name"`
		ColorToken string `json:"color"`
		Hex        string `json:"hex"`
		Budget     Money  `json:"budget"`
		Icon       string `json:"icon"`
	}

	// UserData is the full server-held state for one user as returned by a
	// store load. Nil Categories and BudgetSet=false mean "user has never
	// saved them, apply defaults" rather than an error.
	UserData struct {
		Expenses   []Expense
		Categories []Category
		Budget     Money
		BudgetSet  bool
	}
)

// NewDate builds a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a 2006-01-02 calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MonthKey returns a sortable year*100+month key for trend bucketing.
func (d Date) MonthKey() int {
	return d.Year()*100 + int(d.Month())
}

// MonthLabel formats the bucket label shown in trends, e.g. "Dec 2025".
func (d Date) MonthLabel() string {
	return d.Format("Jan 2006")
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	// Tolerate full timestamps from older clients; only the date part matters.
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NewExpense builds and validates an expense. The ID is assigned later by
// the store; callers never invent identities.
func NewExpense(username string, amount Money, category, description string, date Date) (Expense, error) {
	e := Expense{
		Username:    strings.TrimSpace(username),
		Amount:      amount,
		Category:    strings.TrimSpace(category),
		Description: strings.TrimSpace(description),
		Date:        date,
	}
	if err := e.Validate(); err != nil {
		return Expense{}, err
	}
	return e, nil
}

func (e Expense) Validate() error {
	if e.Username == "" {
		return ErrEmptyUsername
	}
	if e.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(e.Description) == "" {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return e.Date.Validate()
}

// NewCategory builds and validates a category. A zero budget is legal; the
// usage percentage for it is defined as an infinity sentinel, not an error.
func NewCategory(name, colorToken, hex string, budget Money, icon string) (Category, error) {
	c := Category{
		Name:       strings.TrimSpace(name),
		ColorToken: colorToken,
		Hex:        hex,
		Budget:     budget,
		Icon:       icon,
	}
	if err := c.Validate(); err != nil {
		return Category{}, err
	}
	return c, nil
}

func (c Category) Validate() error {
	if c.Name == "" {
		return ErrEmptyCategoryName
	}
	if c.Budget.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ValidateCategorySet validates every category and rejects duplicate names.
// Name uniqueness per user is an invariant enforced before anything is
// persisted.
func ValidateCategorySet(categories []Category) error {
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Name]; dup {
			return ErrDuplicateCategory
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
