package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AccountService manages the chart of accounts for one fiscal year.
// Accounts with posted activity are never hard-deleted; they are
// deactivated instead.
type AccountService interface {
	Create(ctx context.Context, companyID, fiscalYearID, number int, name string, accountType AccountType, openingBalance decimal.Decimal) (*Account, error)
	Update(ctx context.Context, accountID int, name string, accountType AccountType) (*Account, error)
	// SetOpeningBalance adjusts current_balance by the same delta so the
	// balance invariant keeps holding.
	SetOpeningBalance(ctx context.Context, accountID int, openingBalance decimal.Decimal) (*Account, error)
	Deactivate(ctx context.Context, accountID int) error
	Reactivate(ctx context.Context, accountID int) error
	// Delete removes an account that has no posted activity and is not
	// referenced by a default-account mapping or posting template.
	Delete(ctx context.Context, accountID int) error
	Get(ctx context.Context, accountID int) (*Account, error)
	GetByNumber(ctx context.Context, companyID, fiscalYearID, number int) (*Account, error)
	List(ctx context.Context, companyID, fiscalYearID int) ([]Account, error)
	// CheckBalances recomputes every account balance from the transaction
	// log and reports drift against the cached current_balance. It is the
	// consistency oracle, not part of the posting path.
	CheckBalances(ctx context.Context, companyID, fiscalYearID int) ([]BalanceDrift, error)
}

// BalanceDrift is one account whose cached balance disagrees with the
// transaction log.
type BalanceDrift struct {
	AccountID     int
	AccountNumber int
	Cached        decimal.Decimal
	Computed      decimal.Decimal
}

type accountService struct {
	pool *pgxpool.Pool
}

func NewAccountService(pool *pgxpool.Pool) AccountService {
	return &accountService{pool: pool}
}

func validAccountType(t AccountType) bool {
	switch t {
	case AccountAsset, AccountEquityLiability, AccountRevenue,
		AccountMaterialCost, AccountExternalCost, AccountPersonnelCost, AccountFinancialCost:
		return true
	}
	return false
}

func (s *accountService) Create(ctx context.Context, companyID, fiscalYearID, number int, name string, accountType AccountType, openingBalance decimal.Decimal) (*Account, error) {
	if number <= 0 {
		return nil, validationErrf("account number must be positive, got %d", number)
	}
	if name == "" {
		return nil, validationErrf("account must have a name")
	}
	if !validAccountType(accountType) {
		return nil, validationErrf("unknown account type %q", accountType)
	}

	var fyCompanyID int
	err := s.pool.QueryRow(ctx,
		"SELECT company_id FROM fiscal_years WHERE id = $1", fiscalYearID,
	).Scan(&fyCompanyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("fiscal year %d not found", fiscalYearID)
		}
		return nil, fmt.Errorf("failed to fetch fiscal year %d: %w", fiscalYearID, err)
	}
	if fyCompanyID != companyID {
		return nil, referenceErrf("fiscal year %d does not belong to company %d", fiscalYearID, companyID)
	}

	var id int
	err = s.pool.QueryRow(ctx, `
		INSERT INTO accounts (company_id, fiscal_year_id, account_number, name, account_type, opening_balance, current_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`, companyID, fiscalYearID, number, name, string(accountType), openingBalance).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictErrf("account %d already exists for company %d in fiscal year %d", number, companyID, fiscalYearID)
		}
		return nil, fmt.Errorf("failed to create account %d: %w", number, err)
	}
	return s.Get(ctx, id)
}

func (s *accountService) Update(ctx context.Context, accountID int, name string, accountType AccountType) (*Account, error) {
	if name == "" {
		return nil, validationErrf("account must have a name")
	}
	if !validAccountType(accountType) {
		return nil, validationErrf("unknown account type %q", accountType)
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE accounts SET name = $1, account_type = $2 WHERE id = $3",
		name, string(accountType), accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update account %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, referenceErrf("account %d not found", accountID)
	}
	return s.Get(ctx, accountID)
}

func (s *accountService) SetOpeningBalance(ctx context.Context, accountID int, openingBalance decimal.Decimal) (*Account, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET current_balance = current_balance + ($1 - opening_balance),
		    opening_balance = $1
		WHERE id = $2
	`, openingBalance, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to set opening balance for account %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, referenceErrf("account %d not found", accountID)
	}
	return s.Get(ctx, accountID)
}

func (s *accountService) Deactivate(ctx context.Context, accountID int) error {
	return s.setActive(ctx, accountID, false)
}

func (s *accountService) Reactivate(ctx context.Context, accountID int) error {
	return s.setActive(ctx, accountID, true)
}

func (s *accountService) setActive(ctx context.Context, accountID int, active bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE accounts SET active = $1 WHERE id = $2", active, accountID)
	if err != nil {
		return fmt.Errorf("failed to update account %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return referenceErrf("account %d not found", accountID)
	}
	return nil
}

func (s *accountService) Delete(ctx context.Context, accountID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var companyID, number int
	err = tx.QueryRow(ctx,
		"SELECT company_id, account_number FROM accounts WHERE id = $1 FOR UPDATE",
		accountID,
	).Scan(&companyID, &number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return referenceErrf("account %d not found", accountID)
		}
		return fmt.Errorf("failed to fetch account %d: %w", accountID, err)
	}

	// A default-account mapping blocks deletion; the reason names the role.
	var role string
	err = tx.QueryRow(ctx,
		"SELECT role FROM default_accounts WHERE account_id = $1 LIMIT 1",
		accountID,
	).Scan(&role)
	if err == nil {
		return conflictErrf("account %d is mapped as the default account for role %q", number, role)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check default-account references: %w", err)
	}

	var templateName string
	err = tx.QueryRow(ctx, `
		SELECT pt.name
		FROM posting_template_lines ptl
		JOIN posting_templates pt ON pt.id = ptl.template_id
		WHERE pt.company_id = $1 AND ptl.account_number = $2
		LIMIT 1
	`, companyID, number).Scan(&templateName)
	if err == nil {
		return conflictErrf("account %d is used in posting template %q", number, templateName)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check posting template references: %w", err)
	}

	var lineCount int
	err = tx.QueryRow(ctx,
		"SELECT count(*) FROM transaction_lines WHERE account_id = $1", accountID,
	).Scan(&lineCount)
	if err != nil {
		return fmt.Errorf("failed to count posted lines: %w", err)
	}
	if lineCount > 0 {
		return conflictErrf("account %d has %d posted transaction lines and cannot be deleted; deactivate it instead", number, lineCount)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM accounts WHERE id = $1", accountID); err != nil {
		return fmt.Errorf("failed to delete account %d: %w", accountID, err)
	}
	return tx.Commit(ctx)
}

const accountColumns = `
	id, company_id, fiscal_year_id, account_number, name, account_type,
	opening_balance, current_balance, active, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.FiscalYearID, &a.Number, &a.Name, &a.Type,
		&a.OpeningBalance, &a.CurrentBalance, &a.Active, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *accountService) Get(ctx context.Context, accountID int) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		"SELECT"+accountColumns+" FROM accounts WHERE id = $1", accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("account %d not found", accountID)
		}
		return nil, fmt.Errorf("failed to fetch account %d: %w", accountID, err)
	}
	return a, nil
}

func (s *accountService) GetByNumber(ctx context.Context, companyID, fiscalYearID, number int) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		"SELECT"+accountColumns+" FROM accounts WHERE company_id = $1 AND fiscal_year_id = $2 AND account_number = $3",
		companyID, fiscalYearID, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("account %d not found for company %d in fiscal year %d", number, companyID, fiscalYearID)
		}
		return nil, fmt.Errorf("failed to fetch account %d: %w", number, err)
	}
	return a, nil
}

func (s *accountService) List(ctx context.Context, companyID, fiscalYearID int) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT"+accountColumns+" FROM accounts WHERE company_id = $1 AND fiscal_year_id = $2 ORDER BY account_number",
		companyID, fiscalYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *accountService) CheckBalances(ctx context.Context, companyID, fiscalYearID int) ([]BalanceDrift, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.account_number, a.current_balance,
		       a.opening_balance + COALESCE(SUM(tl.debit - tl.credit), 0) AS computed
		FROM accounts a
		LEFT JOIN transaction_lines tl ON tl.account_id = a.id
		WHERE a.company_id = $1 AND a.fiscal_year_id = $2
		GROUP BY a.id, a.account_number, a.current_balance, a.opening_balance
		HAVING a.current_balance <> a.opening_balance + COALESCE(SUM(tl.debit - tl.credit), 0)
		ORDER BY a.account_number
	`, companyID, fiscalYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute balances: %w", err)
	}
	defer rows.Close()

	var drift []BalanceDrift
	for rows.Next() {
		var d BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.AccountNumber, &d.Cached, &d.Computed); err != nil {
			return nil, fmt.Errorf("failed to scan drift row: %w", err)
		}
		drift = append(drift, d)
	}
	return drift, rows.Err()
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
