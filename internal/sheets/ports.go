// Package sheets defines the outbound mirror port the worker writes
// snapshots through.
package sheets

import (
	"context"

	"billfold/internal/core"
)

// ExpenseMirror replaces the mirrored expense rows for one user with a fresh
// complete set, same replace-all shape the record store uses.
type ExpenseMirror interface {
	MirrorExpenses(ctx context.Context, username string, expenses []core.Expense) error
}
