//cmd/seeder/main.go
package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/unclebandit/crm-campaigns/internal/config"
	"github.com/unclebandit/crm-campaigns/internal/db"
	"github.com/unclebandit/crm-campaigns/internal/model"
	"github.com/unclebandit/crm-campaigns/internal/repository"
)

//go:embed seed/customers.json
var seedFS embed.FS

type seederConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"postgres"`
	URL    string `env:"DATABASE_URL,required"`
	// File replaces the bundled sample customers.
	File string `env:"SEED_FILE"`
}

type seedCustomer struct {
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	TotalSpends       float64 `json:"totalSpends"`
	VisitCount        int     `json:"visitCount"`
	LastActiveDaysAgo *int    `json:"lastActiveDaysAgo"`
}

func main() {
	_ = godotenv.Load()
	var cfg seederConfig
	if err := config.ParseEnv(&cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Open(ctx, db.Dialect(cfg.Driver), cfg.URL)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	raw, err := readSeed(cfg.File)
	if err != nil {
		slog.Error("read seed", "error", err)
		os.Exit(1)
	}

	inserted, skipped, err := seed(ctx, &repository.CustomerRepository{DB: database}, raw, time.Now())
	if err != nil {
		slog.Error("seeding failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Database seeding completed: %d customers inserted, %d already present\n", inserted, skipped)
}

func readSeed(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return seedFS.ReadFile("seed/customers.json")
}

type customerCreator interface {
	CreateIfAbsent(ctx context.Context, c *model.Customer) (bool, error)
}

// seed inserts every customer in raw, skipping emails already stored.
// lastActiveDaysAgo is relative to now so the sample data stays usable
// with relative-date rules.
func seed(ctx context.Context, repo customerCreator, raw []byte, now time.Time) (inserted, skipped int, err error) {
	var rows []seedCustomer
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, 0, fmt.Errorf("decode seed: %w", err)
	}
	for _, row := range rows {
		c := &model.Customer{
			Name:        row.Name,
			Email:       row.Email,
			TotalSpends: row.TotalSpends,
			VisitCount:  row.VisitCount,
		}
		if row.LastActiveDaysAgo != nil {
			t := now.AddDate(0, 0, -*row.LastActiveDaysAgo)
			c.LastActiveDate = &t
		}
		ok, err := repo.CreateIfAbsent(ctx, c)
		if err != nil {
			return inserted, skipped, fmt.Errorf("insert %s: %w", row.Email, err)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, nil
}
