package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// maxCreateAttempts bounds the internal retry loop for sequence contention.
const maxCreateAttempts = 3

// VerificationService validates and commits balanced verifications under a
// gapless per-series sequence, and enforces the locking rules.
type VerificationService interface {
	// Create validates the input and atomically assigns the next number for
	// (company, fiscal year, series), persists the verification and its
	// lines, and applies each line's delta to its account balance.
	// Sequence contention is retried internally.
	Create(ctx context.Context, companyID, fiscalYearID int, input VerificationInput) (*Verification, error)

	// CreateInTx is Create inside a caller-owned transaction, for business
	// events that must commit a posting and a status change atomically.
	// No retry is performed: the caller's transaction is already poisoned
	// on failure.
	CreateInTx(ctx context.Context, tx pgx.Tx, companyID, fiscalYearID int, input VerificationInput) (int, error)

	// Update changes non-financial metadata only; rejected once locked.
	Update(ctx context.Context, verificationID int, transactionDate, description string) error

	// Lock finalizes a verification. One-way and idempotent.
	Lock(ctx context.Context, verificationID int) error

	// Delete reverses the balance deltas and removes the verification.
	// Only available when the service was constructed with allowDelete
	// (development environments); the consumed number is left as a gap.
	Delete(ctx context.Context, verificationID int) error

	// Reverse creates a new verification in the same series with debits and
	// credits swapped. This is the production correction path.
	Reverse(ctx context.Context, verificationID int, description string) (*Verification, error)

	Get(ctx context.Context, verificationID int) (*Verification, error)
	List(ctx context.Context, companyID, fiscalYearID int, series string) ([]Verification, error)
}

type verificationService struct {
	pool        *pgxpool.Pool
	allowDelete bool
}

// NewVerificationService constructs the engine. allowDelete must only be
// true in development environments; production corrections use Reverse.
func NewVerificationService(pool *pgxpool.Pool, allowDelete bool) VerificationService {
	return &verificationService{pool: pool, allowDelete: allowDelete}
}

func (s *verificationService) Create(ctx context.Context, companyID, fiscalYearID int, input VerificationInput) (*Verification, error) {
	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := s.createOnce(ctx, companyID, fiscalYearID, input)
		if err == nil {
			return s.Get(ctx, id)
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, &ConcurrencyError{Reason: fmt.Sprintf(
		"verification number assignment kept conflicting after %d attempts: %v", maxCreateAttempts, lastErr)}
}

func (s *verificationService) createOnce(ctx context.Context, companyID, fiscalYearID int, input VerificationInput) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := s.CreateInTx(ctx, tx, companyID, fiscalYearID, input)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit verification: %w", err)
	}
	return id, nil
}

func (s *verificationService) CreateInTx(ctx context.Context, tx pgx.Tx, companyID, fiscalYearID int, input VerificationInput) (int, error) {
	input.Normalize()
	if err := input.Validate(); err != nil {
		return 0, err
	}

	// Fiscal year must belong to the company, be open, and contain the date.
	var fyCompanyID int
	var startDate, endDate string
	var closed bool
	err := tx.QueryRow(ctx,
		"SELECT company_id, start_date::text, end_date::text, closed FROM fiscal_years WHERE id = $1",
		fiscalYearID,
	).Scan(&fyCompanyID, &startDate, &endDate, &closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, referenceErrf("fiscal year %d not found", fiscalYearID)
		}
		return 0, fmt.Errorf("failed to fetch fiscal year %d: %w", fiscalYearID, err)
	}
	if fyCompanyID != companyID {
		return 0, referenceErrf("fiscal year %d does not belong to company %d", fiscalYearID, companyID)
	}
	if closed {
		return 0, conflictErrf("fiscal year %d is closed", fiscalYearID)
	}
	if input.TransactionDate < startDate || input.TransactionDate > endDate {
		return 0, validationErrf("transaction date %s is outside fiscal year %s to %s",
			input.TransactionDate, startDate, endDate)
	}

	// Resolve every line's account within (company, fiscal year).
	accountIDs := make([]int, len(input.Lines))
	for i, line := range input.Lines {
		var accountID int
		var active bool
		err := tx.QueryRow(ctx,
			"SELECT id, active FROM accounts WHERE company_id = $1 AND fiscal_year_id = $2 AND account_number = $3",
			companyID, fiscalYearID, line.AccountNumber,
		).Scan(&accountID, &active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, referenceErrf("account %d not found for company %d in fiscal year %d",
					line.AccountNumber, companyID, fiscalYearID)
			}
			return 0, fmt.Errorf("failed to resolve account %d: %w", line.AccountNumber, err)
		}
		if !active {
			return 0, conflictErrf("account %d is inactive", line.AccountNumber)
		}
		accountIDs[i] = accountID
	}

	// Reserve the next number. The counter-row upsert takes a row lock, so
	// concurrent creations for the same (company, fiscal year, series) are
	// totally ordered; a rollback releases the number.
	var number int64
	err = tx.QueryRow(ctx, `
		INSERT INTO verification_sequences (company_id, fiscal_year_id, series, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (company_id, fiscal_year_id, series)
		DO UPDATE SET last_number = verification_sequences.last_number + 1
		RETURNING last_number
	`, companyID, fiscalYearID, input.Series).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve verification number: %w", err)
	}

	var verificationID int
	err = tx.QueryRow(ctx, `
		INSERT INTO verifications (company_id, fiscal_year_id, series, verification_number, transaction_date, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, companyID, fiscalYearID, input.Series, number, input.TransactionDate, input.Description).Scan(&verificationID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert verification: %w", err)
	}

	for i, line := range input.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO transaction_lines (verification_id, line_order, account_id, debit, credit, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, verificationID, i+1, accountIDs[i], line.Debit, line.Credit, line.Description)
		if err != nil {
			return 0, fmt.Errorf("failed to insert transaction line %d: %w", i+1, err)
		}

		delta := line.Debit.Sub(line.Credit)
		_, err = tx.Exec(ctx,
			"UPDATE accounts SET current_balance = current_balance + $1 WHERE id = $2",
			delta, accountIDs[i],
		)
		if err != nil {
			return 0, fmt.Errorf("failed to apply balance delta to account %d: %w", line.AccountNumber, err)
		}
	}

	return verificationID, nil
}

// isRetryable reports whether err is a serialization failure, deadlock or
// unique violation worth retrying on a fresh transaction.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

func (s *verificationService) Update(ctx context.Context, verificationID int, transactionDate, description string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked bool
	var fiscalYearID int
	err = tx.QueryRow(ctx,
		"SELECT locked, fiscal_year_id FROM verifications WHERE id = $1 FOR UPDATE",
		verificationID,
	).Scan(&locked, &fiscalYearID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return referenceErrf("verification %d not found", verificationID)
		}
		return fmt.Errorf("failed to fetch verification %d: %w", verificationID, err)
	}
	if locked {
		return conflictErrf("verification %d is locked and cannot be modified", verificationID)
	}

	// Metadata only: line changes are never permitted post-creation.
	transactionDate = strings.TrimSpace(transactionDate)
	if transactionDate == "" {
		return validationErrf("verification must specify a transaction date")
	}
	if _, err := time.Parse("2006-01-02", transactionDate); err != nil {
		return validationErrf("invalid transaction date %q: expected yyyy-mm-dd", transactionDate)
	}
	var inRange bool
	err = tx.QueryRow(ctx,
		"SELECT $1::date BETWEEN start_date AND end_date FROM fiscal_years WHERE id = $2",
		transactionDate, fiscalYearID,
	).Scan(&inRange)
	if err != nil {
		return fmt.Errorf("failed to validate transaction date: %w", err)
	}
	if !inRange {
		return validationErrf("transaction date %s is outside the fiscal year", transactionDate)
	}

	_, err = tx.Exec(ctx,
		"UPDATE verifications SET transaction_date = $1, description = $2 WHERE id = $3",
		transactionDate, description, verificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update verification %d: %w", verificationID, err)
	}

	return tx.Commit(ctx)
}

func (s *verificationService) Lock(ctx context.Context, verificationID int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE verifications SET locked = TRUE WHERE id = $1",
		verificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to lock verification %d: %w", verificationID, err)
	}
	if tag.RowsAffected() == 0 {
		return referenceErrf("verification %d not found", verificationID)
	}
	return nil
}

func (s *verificationService) Delete(ctx context.Context, verificationID int) error {
	if !s.allowDelete {
		return conflictErrf("verification delete is disabled outside development; post a reversal instead")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked bool
	err = tx.QueryRow(ctx,
		"SELECT locked FROM verifications WHERE id = $1 FOR UPDATE",
		verificationID,
	).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return referenceErrf("verification %d not found", verificationID)
		}
		return fmt.Errorf("failed to fetch verification %d: %w", verificationID, err)
	}
	if locked {
		return conflictErrf("verification %d is locked and cannot be deleted", verificationID)
	}

	// Reverse the balance deltas line by line; recomputation from scratch is
	// the consistency oracle, not the delete path.
	rows, err := tx.Query(ctx,
		"SELECT account_id, debit, credit FROM transaction_lines WHERE verification_id = $1",
		verificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to fetch lines for verification %d: %w", verificationID, err)
	}

	type lineDelta struct {
		accountID int
		delta     decimal.Decimal
	}
	var deltas []lineDelta
	for rows.Next() {
		var accountID int
		var debit, credit decimal.Decimal
		if err := rows.Scan(&accountID, &debit, &credit); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan line: %w", err)
		}
		deltas = append(deltas, lineDelta{accountID: accountID, delta: debit.Sub(credit)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating lines: %w", err)
	}

	for _, d := range deltas {
		if _, err := tx.Exec(ctx,
			"UPDATE accounts SET current_balance = current_balance - $1 WHERE id = $2",
			d.delta, d.accountID,
		); err != nil {
			return fmt.Errorf("failed to reverse balance delta: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM transaction_lines WHERE verification_id = $1", verificationID); err != nil {
		return fmt.Errorf("failed to delete transaction lines: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM verifications WHERE id = $1", verificationID); err != nil {
		return fmt.Errorf("failed to delete verification %d: %w", verificationID, err)
	}

	// The sequence row is intentionally untouched: the number is never reused.
	return tx.Commit(ctx)
}

func (s *verificationService) Reverse(ctx context.Context, verificationID int, description string) (*Verification, error) {
	original, err := s.Get(ctx, verificationID)
	if err != nil {
		return nil, err
	}

	if description == "" {
		description = fmt.Sprintf("Correction of %s%d: %s", original.Series, original.Number, original.Description)
	}

	input := VerificationInput{
		Series:          original.Series,
		TransactionDate: original.TransactionDate,
		Description:     description,
	}
	for _, line := range original.Lines {
		input.Lines = append(input.Lines, LineInput{
			AccountNumber: line.AccountNumber,
			Debit:         line.Credit,
			Credit:        line.Debit,
			Description:   line.Description,
		})
	}

	return s.Create(ctx, original.CompanyID, original.FiscalYearID, input)
}

func (s *verificationService) Get(ctx context.Context, verificationID int) (*Verification, error) {
	var v Verification
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, fiscal_year_id, series, verification_number,
		       transaction_date::text, description, locked, created_at
		FROM verifications
		WHERE id = $1
	`, verificationID).Scan(
		&v.ID, &v.CompanyID, &v.FiscalYearID, &v.Series, &v.Number,
		&v.TransactionDate, &v.Description, &v.Locked, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("verification %d not found", verificationID)
		}
		return nil, fmt.Errorf("failed to fetch verification %d: %w", verificationID, err)
	}

	lines, err := s.fetchLines(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	v.Lines = lines
	return &v, nil
}

func (s *verificationService) fetchLines(ctx context.Context, verificationID int) ([]TransactionLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tl.id, tl.verification_id, tl.line_order, tl.account_id, a.account_number,
		       tl.debit, tl.credit, tl.description
		FROM transaction_lines tl
		JOIN accounts a ON a.id = tl.account_id
		WHERE tl.verification_id = $1
		ORDER BY tl.line_order
	`, verificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction lines: %w", err)
	}
	defer rows.Close()

	var lines []TransactionLine
	for rows.Next() {
		var l TransactionLine
		if err := rows.Scan(&l.ID, &l.VerificationID, &l.LineOrder, &l.AccountID, &l.AccountNumber,
			&l.Debit, &l.Credit, &l.Description); err != nil {
			return nil, fmt.Errorf("failed to scan transaction line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *verificationService) List(ctx context.Context, companyID, fiscalYearID int, series string) ([]Verification, error) {
	query := `
		SELECT id, company_id, fiscal_year_id, series, verification_number,
		       transaction_date::text, description, locked, created_at
		FROM verifications
		WHERE company_id = $1 AND fiscal_year_id = $2
	`
	args := []any{companyID, fiscalYearID}
	if series != "" {
		args = append(args, series)
		query += " AND series = $3"
	}
	query += " ORDER BY series, verification_number"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer rows.Close()

	var verifications []Verification
	for rows.Next() {
		var v Verification
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.FiscalYearID, &v.Series, &v.Number,
			&v.TransactionDate, &v.Description, &v.Locked, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		verifications = append(verifications, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verifications: %w", err)
	}

	for i := range verifications {
		lines, err := s.fetchLines(ctx, verifications[i].ID)
		if err != nil {
			return nil, err
		}
		verifications[i].Lines = lines
	}
	return verifications, nil
}
