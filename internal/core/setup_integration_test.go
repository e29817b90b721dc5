package core_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"bookkeeping-engine/internal/core"
	"bookkeeping-engine/internal/db"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping a live database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE
			transaction_lines, verifications, verification_sequences,
			default_accounts, posting_template_lines, posting_templates,
			invoice_payments, invoice_lines, invoices,
			supplier_invoice_payments, supplier_invoice_lines, supplier_invoices,
			customers, suppliers, accounts, fiscal_years, companies
		CASCADE
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	return pool
}

// testFixture is a seeded company with one open fiscal year, a minimal BAS
// chart and all default roles mapped.
type testFixture struct {
	Company    *core.Company
	FiscalYear *core.FiscalYear
	CustomerID int
	SupplierID int
}

func seedCompany(t *testing.T, pool *pgxpool.Pool, basis core.AccountingBasis) *testFixture {
	t.Helper()
	ctx := context.Background()

	companies := core.NewCompanyService(pool)
	fiscalYears := core.NewFiscalYearService(pool)
	accounts := core.NewAccountService(pool)
	defaults := core.NewDefaultAccountService(pool)

	company, err := companies.CreateCompany(ctx, "Test AB", "556000-0000", basis, "quarterly")
	if err != nil {
		t.Fatalf("Failed to create test company: %v", err)
	}

	fy, err := fiscalYears.Create(ctx, company.ID, "2026-01-01", "2026-12-31", true)
	if err != nil {
		t.Fatalf("Failed to create test fiscal year: %v", err)
	}

	chart := []struct {
		number int
		name   string
		kind   core.AccountType
	}{
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
	}
	for _, a := range chart {
		if _, err := accounts.Create(ctx, company.ID, fy.ID, a.number, a.name, a.kind, decimal.Zero); err != nil {
			t.Fatalf("Failed to create account %d: %v", a.number, err)
		}
	}

	if _, err := defaults.InitializeDefaults(ctx, company.ID, fy.ID); err != nil {
		t.Fatalf("Failed to initialize default accounts: %v", err)
	}

	customer, err := companies.CreateCustomer(ctx, company.ID, "Kund AB", "kund@example.se")
	if err != nil {
		t.Fatalf("Failed to create test customer: %v", err)
	}
	supplier, err := companies.CreateSupplier(ctx, company.ID, "Leverantör AB", "lev@example.se")
	if err != nil {
		t.Fatalf("Failed to create test supplier: %v", err)
	}

	return &testFixture{
		Company:    company,
		FiscalYear: fy,
		CustomerID: customer.ID,
		SupplierID: supplier.ID,
	}
}

// accountBalance reads the cached balance for an account number.
func accountBalance(t *testing.T, pool *pgxpool.Pool, fx *testFixture, number int) decimal.Decimal {
	t.Helper()
	accounts := core.NewAccountService(pool)
	a, err := accounts.GetByNumber(context.Background(), fx.Company.ID, fx.FiscalYear.ID, number)
	if err != nil {
		t.Fatalf("Failed to fetch account %d: %v", number, err)
	}
	return a.CurrentBalance
}

// assertCleanLedger fails the test when any cached balance disagrees with
// the recomputed sum over posted lines.
func assertCleanLedger(t *testing.T, pool *pgxpool.Pool, fx *testFixture) {
	t.Helper()
	accounts := core.NewAccountService(pool)
	drifts, err := accounts.CheckBalances(context.Background(), fx.Company.ID, fx.FiscalYear.ID)
	if err != nil {
		t.Fatalf("CheckBalances failed: %v", err)
	}
	for _, drift := range drifts {
		t.Errorf("account %d drifted: cached %s, computed %s",
			drift.AccountNumber, drift.Cached.StringFixed(2), drift.Computed.StringFixed(2))
	}
}
