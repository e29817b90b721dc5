package app

import "bookkeeping-engine/internal/core"

// TrialBalanceResult is returned by GetTrialBalance.
type TrialBalanceResult struct {
	CompanyID   int
	CompanyName string
	FiscalYear  *core.FiscalYear
	Rows        []core.TrialBalanceRow
}

// ImportResult is returned by the bulk import operations.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}
