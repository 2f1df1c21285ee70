// Command billfold-seed fills the configured record store with fake users
// and expense history for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"billfold/internal/backend"
	"billfold/internal/config"
	"billfold/internal/core"
	applog "billfold/internal/log"
)

func main() {
	users := flag.Int("users", 3, "number of fake users to create")
	expenses := flag.Int("expenses", 40, "expenses per user, spread over the last six months")
	password := flag.String("password", "password123", "password for every seeded user")
	seed := flag.Int64("seed", 0, "random seed (0 = time-based)")
	flag.Parse()

	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentApp})
	applog.SetDefault(logger)

	if *seed != 0 {
		gofakeit.Seed(*seed)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	result, err := backend.Create(cfg)
	if err != nil {
		logger.Error("Failed to initialize record store", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer result.Cleanup()

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("Failed to hash password", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	for i := 0; i < *users; i++ {
		username := fmt.Sprintf("%s%d", gofakeit.Username(), gofakeit.Number(10, 99))
		if err := seedUser(ctx, result, username, string(hash), *expenses); err != nil {
			logger.Error("Failed to seed user", "username", username, "error", err)
			os.Exit(1)
		}
		logger.Info("Seeded user", "username", username, "expenses", *expenses)
	}
	logger.Info("Seeding complete", "users", *users)
}

func seedUser(ctx context.Context, result *backend.Result, username, passwordHash string, count int) error {
	if err := result.Users.CreateUser(ctx, username, passwordHash); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	categories := core.DefaultCategories()
	if err := result.Store.ReplaceCategories(ctx, username, categories); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	budget := core.Money{Cents: int64(gofakeit.Number(100000, 300000))}
	if err := result.Store.SetBudget(ctx, username, budget); err != nil {
		return fmt.Errorf("seed budget: %w", err)
	}

	now := time.Now().UTC()
	records := make([]core.Expense, 0, count)
	for i := 0; i < count; i++ {
		day := now.AddDate(0, 0, -gofakeit.Number(0, 180))
		category := categories[gofakeit.Number(0, len(categories)-1)]
		records = append(records, core.Expense{
			Username:    username,
			Amount:      core.Money{Cents: int64(gofakeit.Number(150, 25000))},
			Category:    category.Name,
			Description: gofakeit.ProductName(),
			Date:        core.NewDate(day.Year(), int(day.Month()), day.Day()),
		})
	}
	if err := result.Store.ReplaceExpenses(ctx, username, records); err != nil {
		return fmt.Errorf("seed expenses: %w", err)
	}
	return nil
}
