// Package memory is an in-process record store used by tests and by the
// server when no database is configured. It honors the same replace-all
// contract as the SQLite store.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"billfold/internal/core"
	"billfold/internal/store"
)

type account struct {
	expenses   []core.Expense
	categories []core.Category
	budget     core.Money
	budgetSet  bool
}

// Store keeps all user data in process memory, keyed by username.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account
	users    map[string]string // username -> password hash
}

func New() *Store {
	return &Store{
		accounts: map[string]*account{},
		users:    map[string]string{},
	}
}

func (s *Store) acct(username string) *account {
	a, ok := s.accounts[username]
	if !ok {
		a = &account{}
		s.accounts[username] = a
	}
	return a
}

// LoadUserData returns a deep copy of the user's state. Unknown users get
// an empty state, not an error; defaults are the caller's job.
func (s *Store) LoadUserData(_ context.Context, username string) (core.UserData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[username]
	if !ok {
		return core.UserData{}, nil
	}
	d := core.UserData{
		Expenses:  append([]core.Expense(nil), a.expenses...),
		Budget:    a.budget,
		BudgetSet: a.budgetSet,
	}
	// load contract: newest first
	sort.SliceStable(d.Expenses, func(i, j int) bool {
		return d.Expenses[j].Date.Before(d.Expenses[i].Date.Time)
	})
	if a.categories != nil {
		d.Categories = append([]core.Category(nil), a.categories...)
	}
	return d, nil
}

// ReplaceExpenses swaps the user's whole expense set, assigning fresh ids.
func (s *Store) ReplaceExpenses(_ context.Context, username string, expenses []core.Expense) error {
	for _, e := range expenses {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]core.Expense, len(expenses))
	for i, e := range expenses {
		e.ID = uuid.NewString()
		e.Username = username
		next[i] = e
	}
	s.acct(username).expenses = next
	return nil
}

func (s *Store) ReplaceCategories(_ context.Context, username string, categories []core.Category) error {
	if err := core.ValidateCategorySet(categories); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acct(username).categories = append([]core.Category(nil), categories...)
	return nil
}

func (s *Store) SetBudget(_ context.Context, username string, amount core.Money) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(username)
	a.budget = amount
	a.budgetSet = true
	return nil
}

func (s *Store) AppendExpense(_ context.Context, username string, e core.Expense) (string, error) {
	e.Username = username
	if err := e.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.NewString()
	a := s.acct(username)
	a.expenses = append(a.expenses, e)
	return e.ID, nil
}

// DeleteExpense removes the expense with the given id wherever it lives.
// A missing id is a no-op: the record is already gone.
func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		for i, e := range a.expenses {
			if e.ID == id {
				a.expenses = append(a.expenses[:i], a.expenses[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// CreateUser registers credentials. Taken usernames are rejected the same
// way a unique constraint would report them.
func (s *Store) CreateUser(_ context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.users[username]; taken {
		return errors.New("insert user: UNIQUE constraint failed: users.username")
	}
	s.users[username] = passwordHash
	return nil
}

// Usernames lists every user with either credentials or saved data.
func (s *Store) Usernames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.users)+len(s.accounts))
	names := make([]string, 0, len(s.users)+len(s.accounts))
	for name := range s.users {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range s.accounts {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PasswordHash returns the stored hash for a username, or store.ErrNotFound.
func (s *Store) PasswordHash(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.users[username]
	if !ok {
		return "", store.ErrNotFound
	}
	return hash, nil
}

var _ store.Store = (*Store)(nil)
