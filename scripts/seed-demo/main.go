package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

type TenantFile struct {
	TenantID  string     `json:"tenant_id"`
	Timezone  string     `json:"timezone"`
	Staff     []Staff    `json:"staff"`
	Customers []Customer `json:"customers"`
	Services  []Service  `json:"services"`
	Slots     SlotPlan   `json:"slots"`
}

type Staff struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Services []string `json:"services"`
}

type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Points  int    `json:"loyalty_points"`
	Tier    string `json:"loyalty_tier"`
}

type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	PriceCents      int    `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
}

type SlotPlan struct {
	Days  int   `json:"days"`
	Hours []int `json:"hours"`
}

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/seed-demo <tenant-file.json>")
		fmt.Println("Example: go run ./scripts/seed-demo testdata/demo-tenant.json")
		os.Exit(1)
	}
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		fmt.Println("DATABASE_URL is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}
	var tenant TenantFile
	if err := json.Unmarshal(data, &tenant); err != nil {
		fmt.Printf("Error parsing JSON: %v\n", err)
		os.Exit(1)
	}
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		fmt.Printf("Error connecting: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Printf("Error starting transaction: %v\n", err)
		os.Exit(1)
	}
	defer tx.Rollback(ctx)

	slots, err := seed(ctx, tx, tenant, time.Now().In(loc))
	if err != nil {
		fmt.Printf("Error seeding: %v\n", err)
		os.Exit(1)
	}
	if err := tx.Commit(ctx); err != nil {
		fmt.Printf("Error committing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded tenant %s: %d staff, %d customers, %d services, %d slots\n",
		tenant.TenantID, len(tenant.Staff), len(tenant.Customers), len(tenant.Services), slots)
}

func seed(ctx context.Context, tx pgx.Tx, tenant TenantFile, now time.Time) (int, error) {
	for _, s := range tenant.Staff {
		if _, err := tx.Exec(ctx, `
			INSERT INTO staff (id, tenant_id, channel_address, display_name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET channel_address = EXCLUDED.channel_address, display_name = EXCLUDED.display_name`,
			s.ID, tenant.TenantID, s.Address, s.Name); err != nil {
			return 0, fmt.Errorf("staff %s: %w", s.ID, err)
		}
	}
	for _, c := range tenant.Customers {
		if _, err := tx.Exec(ctx, `
			INSERT INTO customers (id, tenant_id, channel_address, display_name, loyalty_points, loyalty_tier)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET loyalty_points = EXCLUDED.loyalty_points, loyalty_tier = EXCLUDED.loyalty_tier`,
			c.ID, tenant.TenantID, c.Address, c.Name, c.Points, c.Tier); err != nil {
			return 0, fmt.Errorf("customer %s: %w", c.ID, err)
		}
	}
	durations := map[string]int{}
	for _, svc := range tenant.Services {
		durations[svc.Name] = svc.DurationMinutes
		if _, err := tx.Exec(ctx, `
			INSERT INTO services (id, tenant_id, name, category, price_cents, duration_minutes)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			svc.ID, tenant.TenantID, svc.Name, svc.Category, svc.PriceCents, svc.DurationMinutes); err != nil {
			return 0, fmt.Errorf("service %s: %w", svc.ID, err)
		}
	}

	count := 0
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for day := 0; day < tenant.Slots.Days; day++ {
		date := today.AddDate(0, 0, day)
		for i, hour := range tenant.Slots.Hours {
			startsAt := date.Add(time.Duration(hour) * time.Hour)
			if !startsAt.After(now) {
				continue
			}
			for _, s := range tenant.Staff {
				if len(s.Services) == 0 {
					continue
				}
				service := s.Services[i%len(s.Services)]
				duration := durations[service]
				if duration <= 0 {
					duration = 30
				}
				id := fmt.Sprintf("%s-%s-%02d", s.ID, date.Format("20060102"), hour)
				if _, err := tx.Exec(ctx, `
					INSERT INTO slots (id, tenant_id, staff_id, staff_name, service, starts_at, duration_minutes)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
					ON CONFLICT (id) DO NOTHING`,
					id, tenant.TenantID, s.ID, s.Name, service, startsAt, duration); err != nil {
					return 0, fmt.Errorf("slot %s: %w", id, err)
				}
				count++
			}
		}
	}
	return count, nil
}
