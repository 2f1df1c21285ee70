// Package store defines the ports every record store implementation
// satisfies. The coordinator talks only to these interfaces; SQLite and
// in-memory adapters live in their own packages.
package store

import (
	"context"
	"errors"

	"billfold/internal/core"
)

// ErrNotFound reports a lookup for a user or record that does not exist.
// Deleting an absent expense is NOT reported through this error; absence
// already matches intent, so deletes of missing ids succeed as no-ops.
var ErrNotFound = errors.New("not found")

// Ports for record store adapters.
type (
	// Loader reads the full server-held state for one user. A user with no
	// saved categories or budget gets zero values with the corresponding
	// absence flags unset; callers apply defaults, the store never does.
	Loader interface {
		LoadUserData(ctx context.Context, username string) (core.UserData, error)
	}

	// ExpenseReplacer atomically swaps a user's whole expense collection:
	// delete everything, insert the new set, assign fresh ids. Either the
	// whole swap lands or none of it does.
	ExpenseReplacer interface {
		ReplaceExpenses(ctx context.Context, username string, expenses []core.Expense) error
	}

	// CategoryReplacer atomically swaps a user's whole category set.
	CategoryReplacer interface {
		ReplaceCategories(ctx context.Context, username string, categories []core.Category) error
	}

	// BudgetWriter upserts the single monthly ceiling for a user. Writing
	// the same amount twice leaves the store unchanged.
	BudgetWriter interface {
		SetBudget(ctx context.Context, username string, amount core.Money) error
	}

	// ExpenseAppender inserts one expense and returns its assigned id.
	// This is the single-record add path, distinct from bulk replace.
	ExpenseAppender interface {
		AppendExpense(ctx context.Context, username string, e core.Expense) (id string, err error)
	}

	// ExpenseDeleter removes one expense by id. Deleting an id that is
	// already gone returns nil.
	ExpenseDeleter interface {
		DeleteExpense(ctx context.Context, id string) error
	}

	// UserLister enumerates every known username. Used by the mirror worker
	// to rebuild all snapshots on its periodic pass.
	UserLister interface {
		Usernames(ctx context.Context) ([]string, error)
	}
)

// Store is the full record store contract.
type Store interface {
	Loader
	ExpenseReplacer
	CategoryReplacer
	BudgetWriter
	ExpenseAppender
	ExpenseDeleter
	UserLister
}
