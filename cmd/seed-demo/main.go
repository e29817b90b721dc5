package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"bookkeeping-engine/internal/core"
	"bookkeeping-engine/internal/db"
	"bookkeeping-engine/internal/logger"
)

// basAccount is one row of the demo chart, a small cut of the Swedish BAS
// standard covering every default role.
type basAccount struct {
	number int
	name   string
	kind   core.AccountType
}

var demoChart = []basAccount{
	{1510, "Kundfordringar", core.AccountAsset},
	{1930, "Företagskonto", core.AccountAsset},
	{2440, "Leverantörsskulder", core.AccountEquityLiability},
	{2611, "Utgående moms 25%", core.AccountEquityLiability},
	{2621, "Utgående moms 12%", core.AccountEquityLiability},
	{2631, "Utgående moms 6%", core.AccountEquityLiability},
	{2641, "Ingående moms", core.AccountEquityLiability},
	{3001, "Försäljning 25%", core.AccountRevenue},
	{3002, "Försäljning 12%", core.AccountRevenue},
	{3003, "Försäljning 6%", core.AccountRevenue},
	{3004, "Försäljning momsfri", core.AccountRevenue},
	{4000, "Inköp av varor", core.AccountMaterialCost},
	{5010, "Lokalhyra", core.AccountExternalCost},
	{7010, "Löner", core.AccountPersonnelCost},
	{8410, "Räntekostnader", core.AccountFinancialCost},
}

func main() {
	name := flag.String("name", "Demo AB", "company name")
	basis := flag.String("basis", "accrual", "accounting basis: accrual or cash")
	year := flag.Int("year", time.Now().Year(), "fiscal year to create")
	flag.Parse()

	_ = godotenv.Load()
	logger.Setup()
	log := logger.WithComponent("seed-demo")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	companies := core.NewCompanyService(pool)
	fiscalYears := core.NewFiscalYearService(pool)
	accounts := core.NewAccountService(pool)
	defaults := core.NewDefaultAccountService(pool)

	company, err := companies.CreateCompany(ctx, *name, "556000-0000", core.AccountingBasis(*basis), "quarterly")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create company")
	}
	log.Info().Int("company", company.ID).Str("name", company.Name).Msg("company created")

	fy, err := fiscalYears.Create(ctx, company.ID,
		fmt.Sprintf("%d-01-01", *year), fmt.Sprintf("%d-12-31", *year), true)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create fiscal year")
	}

	for _, a := range demoChart {
		if _, err := accounts.Create(ctx, company.ID, fy.ID, a.number, a.name, a.kind, decimal.Zero); err != nil {
			log.Fatal().Err(err).Int("account", a.number).Msg("failed to create account")
		}
	}
	log.Info().Int("accounts", len(demoChart)).Msg("chart of accounts created")

	mapped, err := defaults.InitializeDefaults(ctx, company.ID, fy.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize default accounts")
	}
	log.Info().Int("roles", mapped).Msg("default accounts mapped")

	if _, err := companies.CreateCustomer(ctx, company.ID, "Exempelkund AB", "faktura@exempelkund.se"); err != nil {
		log.Fatal().Err(err).Msg("failed to create demo customer")
	}
	if _, err := companies.CreateSupplier(ctx, company.ID, "Kontorsmaterial i Norden AB", "ekonomi@kontorsmaterial.se"); err != nil {
		log.Fatal().Err(err).Msg("failed to create demo supplier")
	}

	log.Info().
		Int("company", company.ID).
		Int("fiscal_year", fy.ID).
		Msg("demo data seeded")
}
