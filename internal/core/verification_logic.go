package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// balanceTolerance is the allowed |Σdebit − Σcredit| drift on any committed
// verification or evaluated template: 0.01 currency units.
var balanceTolerance = decimal.New(1, -2)

// LineInput is one prospective transaction line. Exactly one of Debit and
// Credit must be positive; the other must be zero.
type LineInput struct {
	AccountNumber int             `json:"account_number"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Description   string          `json:"description"`
}

// VerificationInput is the payload for creating a verification. The engine
// takes company and fiscal year as explicit parameters, never from ambient
// state.
type VerificationInput struct {
	Series          string      `json:"series"`
	TransactionDate string      `json:"transaction_date"` // yyyy-mm-dd
	Description     string      `json:"description"`
	Lines           []LineInput `json:"lines"`
}

// Normalize cleans up common formatting issues in caller input.
func (in *VerificationInput) Normalize() {
	in.Series = strings.ToUpper(strings.TrimSpace(in.Series))
	in.TransactionDate = strings.TrimSpace(in.TransactionDate)
	in.Description = strings.TrimSpace(in.Description)
}

// Validate enforces the structural posting rules. It is evaluated against
// the full line set before any mutation; account existence is checked
// separately inside the creation transaction.
func (in *VerificationInput) Validate() error {
	if in.Series == "" {
		return validationErrf("verification must specify a series")
	}

	if in.TransactionDate == "" {
		return validationErrf("verification must specify a transaction date")
	}
	if _, err := time.Parse("2006-01-02", in.TransactionDate); err != nil {
		return validationErrf("invalid transaction date %q: expected yyyy-mm-dd", in.TransactionDate)
	}

	if len(in.Lines) < 2 {
		return validationErrf("verification must have at least 2 lines, got %d", len(in.Lines))
	}

	totalDebit := decimal.Zero
	totalCredit := decimal.Zero

	for i, line := range in.Lines {
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return validationErrf("line %d: amounts cannot be negative", i+1)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return validationErrf("line %d: debit and credit cannot both be set", i+1)
		}
		if line.Debit.IsZero() && line.Credit.IsZero() {
			return validationErrf("line %d: either debit or credit must be > 0", i+1)
		}

		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}

	if diff := totalDebit.Sub(totalCredit).Abs(); diff.GreaterThan(balanceTolerance) {
		return validationErrf("verification is not balanced: debits %s != credits %s",
			totalDebit.StringFixed(2), totalCredit.StringFixed(2))
	}

	return nil
}

// balanced reports whether two totals agree within the engine tolerance.
func balanced(totalDebit, totalCredit decimal.Decimal) bool {
	return totalDebit.Sub(totalCredit).Abs().LessThanOrEqual(balanceTolerance)
}
