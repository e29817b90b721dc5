package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAccountService maps semantic roles to concrete ledger accounts for
// a company. At most one mapping exists per (company, role).
type DefaultAccountService interface {
	// Resolve returns the account mapped for the role, or a ReferenceError
	// naming the role when unmapped.
	Resolve(ctx context.Context, companyID int, role DefaultRole) (*Account, error)
	// SetDefault upserts the single mapping for (company, role).
	SetDefault(ctx context.Context, companyID int, role DefaultRole, accountID int) error
	RemoveDefault(ctx context.Context, companyID int, role DefaultRole) error
	List(ctx context.Context, companyID int) ([]DefaultAccount, error)
	// InitializeDefaults scans the fiscal year's chart for well-known BAS
	// account numbers and maps every unmapped role it can. Returns how many
	// roles were mapped by this call.
	InitializeDefaults(ctx context.Context, companyID, fiscalYearID int) (int, error)
}

type defaultAccountService struct {
	pool *pgxpool.Pool
}

func NewDefaultAccountService(pool *pgxpool.Pool) DefaultAccountService {
	return &defaultAccountService{pool: pool}
}

func validRole(role DefaultRole) bool {
	for _, r := range AllDefaultRoles {
		if r == role {
			return true
		}
	}
	return false
}

// basCandidates lists the BAS-standard account numbers tried per role, in
// preference order.
var basCandidates = map[DefaultRole][]int{
	RoleRevenue25:          {3001, 3010},
	RoleRevenue12:          {3002},
	RoleRevenue6:           {3003},
	RoleRevenue0:           {3004},
	RoleOutgoingVAT25:      {2611, 2610},
	RoleOutgoingVAT12:      {2621, 2620},
	RoleOutgoingVAT6:       {2631, 2630},
	RoleIncomingVAT25:      {2641, 2640},
	RoleIncomingVAT12:      {2641, 2640},
	RoleIncomingVAT6:       {2641, 2640},
	RoleAccountsReceivable: {1510},
	RoleAccountsPayable:    {2440},
	RoleDefaultExpense:     {4000, 4010},
	RoleBank:               {1930},
}

func (s *defaultAccountService) Resolve(ctx context.Context, companyID int, role DefaultRole) (*Account, error) {
	if !validRole(role) {
		return nil, validationErrf("unknown default-account role %q", role)
	}

	a, err := scanAccount(s.pool.QueryRow(ctx, `
		SELECT a.id, a.company_id, a.fiscal_year_id, a.account_number, a.name, a.account_type,
		       a.opening_balance, a.current_balance, a.active, a.created_at
		FROM default_accounts da
		JOIN accounts a ON a.id = da.account_id
		WHERE da.company_id = $1 AND da.role = $2
	`, companyID, string(role)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("no default account mapped for role %q", role)
		}
		return nil, fmt.Errorf("failed to resolve default account for role %q: %w", role, err)
	}
	return a, nil
}

func (s *defaultAccountService) SetDefault(ctx context.Context, companyID int, role DefaultRole, accountID int) error {
	if !validRole(role) {
		return validationErrf("unknown default-account role %q", role)
	}

	var accCompanyID int
	err := s.pool.QueryRow(ctx,
		"SELECT company_id FROM accounts WHERE id = $1", accountID,
	).Scan(&accCompanyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return referenceErrf("account %d not found", accountID)
		}
		return fmt.Errorf("failed to fetch account %d: %w", accountID, err)
	}
	if accCompanyID != companyID {
		return referenceErrf("account %d does not belong to company %d", accountID, companyID)
	}

	// A second mapping overwrites, it never duplicates.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO default_accounts (company_id, role, account_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, role)
		DO UPDATE SET account_id = EXCLUDED.account_id
	`, companyID, string(role), accountID)
	if err != nil {
		return fmt.Errorf("failed to upsert default account for role %q: %w", role, err)
	}
	return nil
}

func (s *defaultAccountService) RemoveDefault(ctx context.Context, companyID int, role DefaultRole) error {
	if !validRole(role) {
		return validationErrf("unknown default-account role %q", role)
	}
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM default_accounts WHERE company_id = $1 AND role = $2",
		companyID, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to remove default account for role %q: %w", role, err)
	}
	if tag.RowsAffected() == 0 {
		return referenceErrf("no default account mapped for role %q", role)
	}
	return nil
}

func (s *defaultAccountService) List(ctx context.Context, companyID int) ([]DefaultAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT da.id, da.company_id, da.role, da.account_id, a.account_number
		FROM default_accounts da
		JOIN accounts a ON a.id = da.account_id
		WHERE da.company_id = $1
		ORDER BY da.role
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query default accounts: %w", err)
	}
	defer rows.Close()

	var defaults []DefaultAccount
	for rows.Next() {
		var d DefaultAccount
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.Role, &d.AccountID, &d.AccountNumber); err != nil {
			return nil, fmt.Errorf("failed to scan default account: %w", err)
		}
		defaults = append(defaults, d)
	}
	return defaults, rows.Err()
}

func (s *defaultAccountService) InitializeDefaults(ctx context.Context, companyID, fiscalYearID int) (int, error) {
	existing, err := s.List(ctx, companyID)
	if err != nil {
		return 0, err
	}
	mapped := make(map[DefaultRole]bool, len(existing))
	for _, d := range existing {
		mapped[d.Role] = true
	}

	count := 0
	for _, role := range AllDefaultRoles {
		if mapped[role] {
			continue
		}
		for _, number := range basCandidates[role] {
			var accountID int
			err := s.pool.QueryRow(ctx,
				"SELECT id FROM accounts WHERE company_id = $1 AND fiscal_year_id = $2 AND account_number = $3 AND active",
				companyID, fiscalYearID, number,
			).Scan(&accountID)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return count, fmt.Errorf("failed to scan chart for account %d: %w", number, err)
			}
			if err := s.SetDefault(ctx, companyID, role, accountID); err != nil {
				return count, err
			}
			count++
			break
		}
	}
	// Roles with no matching BAS account stay unmapped for manual setup.
	return count, nil
}
