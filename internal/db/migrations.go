package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate runs all schema statements in order. Safe to call multiple times
// due to IF NOT EXISTS clauses.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

var migrations = []string{
	// Companies: tenant roots. Basis controls whether invoice issuance posts.
	`CREATE TABLE IF NOT EXISTS companies (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		org_number TEXT NOT NULL DEFAULT '',
		basis TEXT NOT NULL DEFAULT 'accrual' CHECK (basis IN ('accrual', 'cash')),
		vat_period TEXT NOT NULL DEFAULT 'quarterly' CHECK (vat_period IN ('monthly', 'quarterly', 'yearly')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Fiscal years scope accounts and verifications. Ranges must not overlap
	// per company; the service checks this on creation.
	`CREATE TABLE IF NOT EXISTS fiscal_years (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		fiscal_year_id INT NOT NULL REFERENCES fiscal_years(id),
		account_number INT NOT NULL,
		name TEXT NOT NULL,
		account_type TEXT NOT NULL CHECK (account_type IN (
			'asset', 'equity_liability', 'revenue',
			'material_cost', 'external_cost', 'personnel_cost', 'financial_cost')),
		opening_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		current_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (company_id, fiscal_year_id, account_number)
	)`,

	`CREATE TABLE IF NOT EXISTS verifications (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		fiscal_year_id INT NOT NULL REFERENCES fiscal_years(id),
		series TEXT NOT NULL,
		verification_number BIGINT NOT NULL,
		transaction_date DATE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (company_id, fiscal_year_id, series, verification_number)
	)`,

	// Counter rows for gapless per-series numbering. Incremented inside the
	// verification-creation transaction so a rollback releases the number.
	`CREATE TABLE IF NOT EXISTS verification_sequences (
		company_id INT NOT NULL REFERENCES companies(id),
		fiscal_year_id INT NOT NULL REFERENCES fiscal_years(id),
		series TEXT NOT NULL,
		last_number BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (company_id, fiscal_year_id, series)
	)`,

	`CREATE TABLE IF NOT EXISTS transaction_lines (
		id SERIAL PRIMARY KEY,
		verification_id INT NOT NULL REFERENCES verifications(id),
		line_order INT NOT NULL,
		account_id INT NOT NULL REFERENCES accounts(id),
		debit NUMERIC(14,2) NOT NULL DEFAULT 0,
		credit NUMERIC(14,2) NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		UNIQUE (verification_id, line_order)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_transaction_lines_account ON transaction_lines(account_id)`,

	`CREATE TABLE IF NOT EXISTS default_accounts (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		role TEXT NOT NULL,
		account_id INT NOT NULL REFERENCES accounts(id),
		UNIQUE (company_id, role)
	)`,

	`CREATE TABLE IF NOT EXISTS posting_templates (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		sort_order INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS posting_template_lines (
		id SERIAL PRIMARY KEY,
		template_id INT NOT NULL REFERENCES posting_templates(id) ON DELETE CASCADE,
		line_order INT NOT NULL,
		account_number INT NOT NULL,
		formula TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS customers (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS suppliers (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		customer_id INT NOT NULL REFERENCES customers(id),
		invoice_date DATE NOT NULL,
		due_date DATE,
		status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'issued', 'cancelled')),
		payment_status TEXT NOT NULL DEFAULT 'unpaid' CHECK (payment_status IN ('unpaid', 'partially_paid', 'paid')),
		total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		paid_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		sent_at TIMESTAMPTZ,
		verification_id INT REFERENCES verifications(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS invoice_lines (
		id SERIAL PRIMARY KEY,
		invoice_id INT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		line_order INT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		quantity NUMERIC(14,2) NOT NULL,
		unit_price NUMERIC(14,2) NOT NULL,
		vat_rate NUMERIC(5,2) NOT NULL DEFAULT 0
	)`,

	// Append-only payment history. Each row references the verification
	// created for that payment.
	`CREATE TABLE IF NOT EXISTS invoice_payments (
		id SERIAL PRIMARY KEY,
		invoice_id INT NOT NULL REFERENCES invoices(id),
		amount NUMERIC(14,2) NOT NULL,
		payment_date DATE NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		verification_id INT REFERENCES verifications(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS supplier_invoices (
		id SERIAL PRIMARY KEY,
		company_id INT NOT NULL REFERENCES companies(id),
		supplier_id INT NOT NULL REFERENCES suppliers(id),
		invoice_number TEXT NOT NULL DEFAULT '',
		invoice_date DATE NOT NULL,
		due_date DATE,
		status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'issued', 'cancelled')),
		payment_status TEXT NOT NULL DEFAULT 'unpaid' CHECK (payment_status IN ('unpaid', 'partially_paid', 'paid')),
		total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		paid_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		verification_id INT REFERENCES verifications(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS supplier_invoice_lines (
		id SERIAL PRIMARY KEY,
		supplier_invoice_id INT NOT NULL REFERENCES supplier_invoices(id) ON DELETE CASCADE,
		line_order INT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount NUMERIC(14,2) NOT NULL,
		vat_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
		expense_account_number INT
	)`,

	`CREATE TABLE IF NOT EXISTS supplier_invoice_payments (
		id SERIAL PRIMARY KEY,
		supplier_invoice_id INT NOT NULL REFERENCES supplier_invoices(id),
		amount NUMERIC(14,2) NOT NULL,
		payment_date DATE NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		verification_id INT REFERENCES verifications(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
