// Package storage is the SQLite record store. Replace-all operations run
// delete-then-insert inside a single transaction, so a partial failure never
// leaves a truncated collection behind.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"billfold/internal/core"
	"billfold/internal/store"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// LoadUserData implements store.Loader. Missing category and budget rows map
// to the absence flags; defaults are applied upstream.
func (r *SQLiteRepository) LoadUserData(ctx context.Context, username string) (core.UserData, error) {
	var data core.UserData

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, amount_cents, category, description, expense_date
		 FROM expenses WHERE username = ? ORDER BY expense_date DESC, created_at DESC`,
		username)
	if err != nil {
		return data, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e       core.Expense
			rawDate string
		)
		if err := rows.Scan(&e.ID, &e.Amount.Cents, &e.Category, &e.Description, &rawDate); err != nil {
			return data, fmt.Errorf("scan expense: %w", err)
		}
		e.Username = username
		if e.Date, err = core.ParseDate(rawDate); err != nil {
			return data, fmt.Errorf("parse expense date %q: %w", rawDate, err)
		}
		data.Expenses = append(data.Expenses, e)
	}
	if err := rows.Err(); err != nil {
		return data, fmt.Errorf("iterate expenses: %w", err)
	}

	catRows, err := r.db.QueryContext(ctx,
		`SELECT name, color_token, hex, budget_cents, icon
		 FROM categories WHERE username = ? ORDER BY rowid`,
		username)
	if err != nil {
		return data, fmt.Errorf("query categories: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var c core.Category
		if err := catRows.Scan(&c.Name, &c.ColorToken, &c.Hex, &c.Budget.Cents, &c.Icon); err != nil {
			return data, fmt.Errorf("scan category: %w", err)
		}
		data.Categories = append(data.Categories, c)
	}
	if err := catRows.Err(); err != nil {
		return data, fmt.Errorf("iterate categories: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT amount_cents FROM budgets WHERE username = ?`, username).
		Scan(&data.Budget.Cents)
	switch {
	case err == nil:
		data.BudgetSet = true
	case errors.Is(err, sql.ErrNoRows):
		// no saved budget, caller applies the default
	default:
		return data, fmt.Errorf("query budget: %w", err)
	}

	return data, nil
}

// ReplaceExpenses implements store.ExpenseReplacer as a transactional
// delete-all-then-insert-all.
func (r *SQLiteRepository) ReplaceExpenses(ctx context.Context, username string, expenses []core.Expense) error {
	for _, e := range expenses {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace expenses: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE username = ?`, username); err != nil {
		return fmt.Errorf("delete expenses: %w", err)
	}
	for _, e := range expenses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (id, username, amount_cents, category, description, expense_date)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), username, e.Amount.Cents, e.Category, e.Description, e.Date.String()); err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace expenses: %w", err)
	}

	slog.InfoContext(ctx, "Expenses replaced",
		"username", username,
		"count", len(expenses))
	return nil
}

// ReplaceCategories implements store.CategoryReplacer. Duplicate names are
// rejected before the transaction opens.
func (r *SQLiteRepository) ReplaceCategories(ctx context.Context, username string, categories []core.Category) error {
	if err := core.ValidateCategorySet(categories); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace categories: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE username = ?`, username); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}
	for _, c := range categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (username, name, color_token, hex, budget_cents, icon)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			username, c.Name, c.ColorToken, c.Hex, c.Budget.Cents, c.Icon); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace categories: %w", err)
	}

	slog.InfoContext(ctx, "Categories replaced",
		"username", username,
		"count", len(categories))
	return nil
}

// SetBudget implements store.BudgetWriter as an upsert.
func (r *SQLiteRepository) SetBudget(ctx context.Context, username string, amount core.Money) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (username, amount_cents) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET amount_cents = excluded.amount_cents,
		 updated_at = CURRENT_TIMESTAMP`,
		username, amount.Cents)
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	return nil
}

// AppendExpense implements store.ExpenseAppender.
func (r *SQLiteRepository) AppendExpense(ctx context.Context, username string, e core.Expense) (string, error) {
	e.Username = username
	if err := e.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (id, username, amount_cents, category, description, expense_date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, username, e.Amount.Cents, e.Category, e.Description, e.Date.String())
	if err != nil {
		return "", fmt.Errorf("insert expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", id,
		"username", username,
		"amount_cents", e.Amount.Cents,
		"category", e.Category)
	return id, nil
}

// DeleteExpense implements store.ExpenseDeleter. Unknown ids are no-ops.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return nil
}

// CreateUser stores a new account with an already-hashed password. A taken
// username surfaces as a constraint error from the driver.
func (r *SQLiteRepository) CreateUser(ctx context.Context, username, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Usernames lists every registered account.
func (r *SQLiteRepository) Usernames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query usernames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usernames: %w", err)
	}
	return names, nil
}

// PasswordHash returns the stored hash for a username, or store.ErrNotFound.
func (r *SQLiteRepository) PasswordHash(ctx context.Context, username string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}
	return hash, nil
}

var _ store.Store = (*SQLiteRepository)(nil)
