package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// LedgerLine is a single posted line in an account ledger.
// RunningBalance is the cumulative net-debit position after this line
// (positive = net debit, negative = net credit).
type LedgerLine struct {
	TransactionDate    string          `json:"transaction_date"`
	Series             string          `json:"series"`
	VerificationNumber int64           `json:"verification_number"`
	Description        string          `json:"description"`
	Debit              decimal.Decimal `json:"debit"`
	Credit             decimal.Decimal `json:"credit"`
	RunningBalance     decimal.Decimal `json:"running_balance"`
}

// LedgerReport is the movement history of one account over a date range.
// OpeningBalance is the account's opening balance plus all deltas posted
// strictly before the range start.
type LedgerReport struct {
	AccountNumber  int             `json:"account_number"`
	AccountName    string          `json:"account_name"`
	FromDate       string          `json:"from_date"`
	ToDate         string          `json:"to_date"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Lines          []LedgerLine    `json:"lines"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// TrialBalanceRow is one account in a trial balance: opening balance,
// period movement, closing balance.
type TrialBalanceRow struct {
	AccountNumber int             `json:"account_number"`
	AccountName   string          `json:"account_name"`
	Opening       decimal.Decimal `json:"opening"`
	PeriodDebit   decimal.Decimal `json:"period_debit"`
	PeriodCredit  decimal.Decimal `json:"period_credit"`
	Closing       decimal.Decimal `json:"closing"`
}

// VATReport summarizes VAT position over a period. Disposition is "pay"
// when outgoing exceeds incoming, "refund" when incoming exceeds outgoing,
// "zero" otherwise.
type VATReport struct {
	FromDate    string          `json:"from_date"`
	ToDate      string          `json:"to_date"`
	OutgoingVAT decimal.Decimal `json:"outgoing_vat"`
	IncomingVAT decimal.Decimal `json:"incoming_vat"`
	Net         decimal.Decimal `json:"net"`
	Disposition string          `json:"disposition"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only reporting queries over the ledger.
// Reports are computed from posted lines, never from cached balances.
type ReportingService interface {
	// AccountLedger returns the account's movement over [fromDate, toDate]
	// with a running balance, ordered by transaction date then verification.
	AccountLedger(ctx context.Context, companyID, fiscalYearID, accountNumber int, fromDate, toDate string) (*LedgerReport, error)

	// TrialBalance returns one row per account with any opening balance or
	// posted activity in the fiscal year, ordered by account number.
	TrialBalance(ctx context.Context, companyID, fiscalYearID int) ([]TrialBalanceRow, error)

	// VATReport aggregates outgoing and incoming VAT over accounts mapped
	// to the VAT roles for the given period.
	VATReport(ctx context.Context, companyID int, fromDate, toDate string) (*VATReport, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type reportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) ReportingService {
	return &reportingService{pool: pool}
}

// ── AccountLedger ─────────────────────────────────────────────────────────────

func (s *reportingService) AccountLedger(ctx context.Context, companyID, fiscalYearID, accountNumber int, fromDate, toDate string) (*LedgerReport, error) {
	if err := parseISODate("from date", fromDate); err != nil {
		return nil, err
	}
	if err := parseISODate("to date", toDate); err != nil {
		return nil, err
	}

	var accountID int
	var accountName string
	var opening decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, opening_balance
		FROM accounts
		WHERE company_id = $1 AND fiscal_year_id = $2 AND account_number = $3
	`, companyID, fiscalYearID, accountNumber).Scan(&accountID, &accountName, &opening)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("account %d not found in fiscal year %d", accountNumber, fiscalYearID)
		}
		return nil, fmt.Errorf("failed to fetch account %d: %w", accountNumber, err)
	}

	// Deltas posted before the range start roll into the opening balance.
	var priorDelta decimal.Decimal
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(tl.debit - tl.credit), 0)
		FROM transaction_lines tl
		JOIN verifications v ON v.id = tl.verification_id
		WHERE tl.account_id = $1 AND v.transaction_date < $2::date
	`, accountID, fromDate).Scan(&priorDelta)
	if err != nil {
		return nil, fmt.Errorf("failed to compute opening balance: %w", err)
	}

	report := &LedgerReport{
		AccountNumber:  accountNumber,
		AccountName:    accountName,
		FromDate:       fromDate,
		ToDate:         toDate,
		OpeningBalance: opening.Add(priorDelta),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT v.transaction_date::text, v.series, v.verification_number,
		       tl.description, tl.debit, tl.credit
		FROM transaction_lines tl
		JOIN verifications v ON v.id = tl.verification_id
		WHERE tl.account_id = $1
		  AND v.transaction_date >= $2::date
		  AND v.transaction_date <= $3::date
		ORDER BY v.transaction_date, v.series, v.verification_number, tl.line_order
	`, accountID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger lines: %w", err)
	}
	defer rows.Close()

	running := report.OpeningBalance
	for rows.Next() {
		var ll LedgerLine
		if err := rows.Scan(&ll.TransactionDate, &ll.Series, &ll.VerificationNumber,
			&ll.Description, &ll.Debit, &ll.Credit); err != nil {
			return nil, fmt.Errorf("failed to scan ledger line: %w", err)
		}
		running = running.Add(ll.Debit).Sub(ll.Credit)
		ll.RunningBalance = running
		report.Lines = append(report.Lines, ll)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger row iteration error: %w", err)
	}

	report.ClosingBalance = running
	return report, nil
}

// ── TrialBalance ──────────────────────────────────────────────────────────────

func (s *reportingService) TrialBalance(ctx context.Context, companyID, fiscalYearID int) ([]TrialBalanceRow, error) {
	const q = `
		SELECT a.account_number, a.name, a.opening_balance,
		       COALESCE(m.debit_total, 0)  AS debit_total,
		       COALESCE(m.credit_total, 0) AS credit_total
		FROM accounts a
		LEFT JOIN (
		    SELECT tl.account_id,
		           SUM(tl.debit)  AS debit_total,
		           SUM(tl.credit) AS credit_total
		    FROM transaction_lines tl
		    JOIN verifications v ON v.id = tl.verification_id
		    WHERE v.company_id = $1 AND v.fiscal_year_id = $2
		    GROUP BY tl.account_id
		) m ON m.account_id = a.id
		WHERE a.company_id = $1 AND a.fiscal_year_id = $2
		  AND (a.opening_balance <> 0 OR m.account_id IS NOT NULL)
		ORDER BY a.account_number`

	rows, err := s.pool.Query(ctx, q, companyID, fiscalYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trial balance: %w", err)
	}
	defer rows.Close()

	var report []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountNumber, &row.AccountName, &row.Opening,
			&row.PeriodDebit, &row.PeriodCredit); err != nil {
			return nil, fmt.Errorf("failed to scan trial balance row: %w", err)
		}
		row.Closing = row.Opening.Add(row.PeriodDebit).Sub(row.PeriodCredit)
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trial balance row iteration error: %w", err)
	}
	return report, nil
}

// ── VATReport ─────────────────────────────────────────────────────────────────

// outgoingVATRoles and incomingVATRoles delimit which default-account
// mappings feed the VAT report.
var (
	outgoingVATRoles = []DefaultRole{RoleOutgoingVAT25, RoleOutgoingVAT12, RoleOutgoingVAT6}
	incomingVATRoles = []DefaultRole{RoleIncomingVAT25, RoleIncomingVAT12, RoleIncomingVAT6}
)

// vatRoleTotal sums posted movement over all accounts mapped to the given
// roles. Outgoing VAT accounts are liabilities, so their position is
// credit minus debit; incoming VAT accounts are the reverse. Several roles
// may map to the same account, so the role set is collapsed to distinct
// accounts before summing.
func (s *reportingService) vatRoleTotal(ctx context.Context, companyID int, roles []DefaultRole, fromDate, toDate string) (debit, credit decimal.Decimal, err error) {
	roleNames := make([]string, len(roles))
	for i, role := range roles {
		roleNames[i] = string(role)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(tl.debit), 0), COALESCE(SUM(tl.credit), 0)
		FROM transaction_lines tl
		JOIN verifications v ON v.id = tl.verification_id
		WHERE v.company_id = $1
		  AND tl.account_id IN (
		      SELECT DISTINCT account_id FROM default_accounts
		      WHERE company_id = $1 AND role = ANY($2)
		  )
		  AND v.transaction_date >= $3::date
		  AND v.transaction_date <= $4::date
	`, companyID, roleNames, fromDate, toDate).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum VAT accounts: %w", err)
	}
	return debit, credit, nil
}

func (s *reportingService) VATReport(ctx context.Context, companyID int, fromDate, toDate string) (*VATReport, error) {
	if err := parseISODate("from date", fromDate); err != nil {
		return nil, err
	}
	if err := parseISODate("to date", toDate); err != nil {
		return nil, err
	}

	outDebit, outCredit, err := s.vatRoleTotal(ctx, companyID, outgoingVATRoles, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	inDebit, inCredit, err := s.vatRoleTotal(ctx, companyID, incomingVATRoles, fromDate, toDate)
	if err != nil {
		return nil, err
	}

	report := &VATReport{
		FromDate:    fromDate,
		ToDate:      toDate,
		OutgoingVAT: outCredit.Sub(outDebit),
		IncomingVAT: inDebit.Sub(inCredit),
	}
	report.Net = report.OutgoingVAT.Sub(report.IncomingVAT)

	switch {
	case report.Net.GreaterThan(decimal.Zero):
		report.Disposition = "pay"
	case report.Net.LessThan(decimal.Zero):
		report.Disposition = "refund"
	default:
		report.Disposition = "zero"
	}
	return report, nil
}
