package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/infra/db/postgres"
	"aicode-billing/internal/infra/redis"
	"aicode-billing/internal/usecase"
)

// This script is for setting up a clean, predictable database state
// for manual end-to-end testing against sandbox gateways.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "deploy/postgres/init.sql", "schema applied before wiping")
	seedUser := flag.String("seed-user", "e2e-user", "user id that receives a starter subscription; empty to skip")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	// --- Connect to Postgres ---
	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/4] Wiping Redis markers and rate limits...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	log.Println("[2/4] Applying schema...")
	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	log.Println("[3/4] Wiping billing tables...")
	if _, err := pool.Exec(ctx, `TRUNCATE payments, subscriptions, credit_packages RESTART IDENTITY CASCADE;`); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[4/4] Seeding a starter subscription...")
	if *seedUser != "" {
		nop := zerolog.Nop()
		ents := usecase.NewEntitlementUseCase(postgres.NewSubscriptionRepo(pool), postgres.NewCreditPackageRepo(pool), postgres.NewTxManager(pool), &nop)
		s, err := ents.GrantSubscription(ctx, *seedUser, "e2e-seed", model.SubscriptionIntent{PlanType: "basic", BillingCycle: "monthly", BillingCycleDays: 30}, time.Now())
		if err != nil {
			log.Fatalf("seed subscription: %v", err)
		}
		log.Printf("seeded %s plan for %s until %s", s.PlanType, s.UserID, s.SubscriptionEnd.Format(time.RFC3339))
	}

	log.Println("--- E2E Environment Setup Complete ---")
}
