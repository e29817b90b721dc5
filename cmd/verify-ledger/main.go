package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"bookkeeping-engine/internal/core"
	"bookkeeping-engine/internal/db"
	"bookkeeping-engine/internal/logger"
)

// verify-ledger recomputes every account balance from posted transaction
// lines and reports accounts whose cached balance has drifted. A clean
// ledger exits 0; any drift exits 1.
func main() {
	companyID := flag.Int("company", 0, "company id to verify")
	fiscalYearID := flag.Int("fiscal-year", 0, "fiscal year id to verify")
	flag.Parse()

	_ = godotenv.Load()
	logger.Setup()
	log := logger.WithComponent("verify-ledger")

	if *companyID == 0 || *fiscalYearID == 0 {
		log.Error().Msg("usage: verify-ledger -company <id> -fiscal-year <id>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	accounts := core.NewAccountService(pool)
	drifts, err := accounts.CheckBalances(ctx, *companyID, *fiscalYearID)
	if err != nil {
		log.Fatal().Err(err).Msg("balance check failed")
	}

	if len(drifts) == 0 {
		log.Info().
			Int("company", *companyID).
			Int("fiscal_year", *fiscalYearID).
			Msg("ledger is consistent")
		return
	}

	for _, d := range drifts {
		log.Error().
			Int("account", d.AccountNumber).
			Str("cached", d.Cached.StringFixed(2)).
			Str("computed", d.Computed.StringFixed(2)).
			Msg("balance drift")
	}
	log.Error().Int("drifted_accounts", len(drifts)).Msg("ledger is inconsistent")
	os.Exit(1)
}
