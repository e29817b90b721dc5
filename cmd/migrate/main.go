package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"

	"bookkeeping-engine/internal/db"
	"bookkeeping-engine/internal/logger"
)

func main() {
	_ = godotenv.Load()
	logger.Setup()
	log := logger.WithComponent("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	// Serialize migrators; a second instance exits instead of racing.
	conn, err := pool.Acquire(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to acquire connection")
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(8824411)").Scan(&locked); err != nil {
		log.Fatal().Err(err).Msg("failed to query advisory lock")
	}
	if !locked {
		log.Error().Msg("another migrator is currently running")
		os.Exit(1)
	}

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("all migrations applied")
}
