package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FiscalYearService manages accounting periods. A company's fiscal years
// never overlap, and at most one is current.
type FiscalYearService interface {
	Create(ctx context.Context, companyID int, startDate, endDate string, current bool) (*FiscalYear, error)
	Get(ctx context.Context, fiscalYearID int) (*FiscalYear, error)
	List(ctx context.Context, companyID int) ([]FiscalYear, error)
	GetCurrent(ctx context.Context, companyID int) (*FiscalYear, error)
	SetCurrent(ctx context.Context, fiscalYearID int) error
	// Close marks the year closed and locks every verification in it.
	Close(ctx context.Context, fiscalYearID int) error
}

type fiscalYearService struct {
	pool *pgxpool.Pool
}

func NewFiscalYearService(pool *pgxpool.Pool) FiscalYearService {
	return &fiscalYearService{pool: pool}
}

func (s *fiscalYearService) Create(ctx context.Context, companyID int, startDate, endDate string, current bool) (*FiscalYear, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, validationErrf("invalid start date %q: expected yyyy-mm-dd", startDate)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, validationErrf("invalid end date %q: expected yyyy-mm-dd", endDate)
	}
	if !end.After(start) {
		return nil, validationErrf("fiscal year end %s must be after start %s", endDate, startDate)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Overlap check against every existing year of the company.
	var overlapCount int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM fiscal_years
		WHERE company_id = $1
		  AND start_date <= $3::date
		  AND end_date >= $2::date
	`, companyID, startDate, endDate).Scan(&overlapCount)
	if err != nil {
		return nil, fmt.Errorf("failed to check fiscal year overlap: %w", err)
	}
	if overlapCount > 0 {
		return nil, conflictErrf("fiscal year %s to %s overlaps an existing fiscal year", startDate, endDate)
	}

	if current {
		if _, err := tx.Exec(ctx,
			"UPDATE fiscal_years SET is_current = FALSE WHERE company_id = $1", companyID,
		); err != nil {
			return nil, fmt.Errorf("failed to clear current fiscal year: %w", err)
		}
	}

	var fy FiscalYear
	err = tx.QueryRow(ctx, `
		INSERT INTO fiscal_years (company_id, start_date, end_date, is_current)
		VALUES ($1, $2, $3, $4)
		RETURNING id, company_id, start_date::text, end_date::text, closed, is_current
	`, companyID, startDate, endDate, current).Scan(
		&fy.ID, &fy.CompanyID, &fy.StartDate, &fy.EndDate, &fy.Closed, &fy.Current,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fiscal year: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit fiscal year creation: %w", err)
	}
	return &fy, nil
}

func (s *fiscalYearService) Get(ctx context.Context, fiscalYearID int) (*FiscalYear, error) {
	var fy FiscalYear
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, start_date::text, end_date::text, closed, is_current
		FROM fiscal_years WHERE id = $1
	`, fiscalYearID).Scan(&fy.ID, &fy.CompanyID, &fy.StartDate, &fy.EndDate, &fy.Closed, &fy.Current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("fiscal year %d not found", fiscalYearID)
		}
		return nil, fmt.Errorf("failed to fetch fiscal year %d: %w", fiscalYearID, err)
	}
	return &fy, nil
}

func (s *fiscalYearService) List(ctx context.Context, companyID int) ([]FiscalYear, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, start_date::text, end_date::text, closed, is_current
		FROM fiscal_years WHERE company_id = $1 ORDER BY start_date
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fiscal years: %w", err)
	}
	defer rows.Close()

	var years []FiscalYear
	for rows.Next() {
		var fy FiscalYear
		if err := rows.Scan(&fy.ID, &fy.CompanyID, &fy.StartDate, &fy.EndDate, &fy.Closed, &fy.Current); err != nil {
			return nil, fmt.Errorf("failed to scan fiscal year: %w", err)
		}
		years = append(years, fy)
	}
	return years, rows.Err()
}

func (s *fiscalYearService) GetCurrent(ctx context.Context, companyID int) (*FiscalYear, error) {
	var fy FiscalYear
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, start_date::text, end_date::text, closed, is_current
		FROM fiscal_years WHERE company_id = $1 AND is_current = TRUE
	`, companyID).Scan(&fy.ID, &fy.CompanyID, &fy.StartDate, &fy.EndDate, &fy.Closed, &fy.Current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("company %d has no current fiscal year", companyID)
		}
		return nil, fmt.Errorf("failed to fetch current fiscal year: %w", err)
	}
	return &fy, nil
}

func (s *fiscalYearService) SetCurrent(ctx context.Context, fiscalYearID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var companyID int
	err = tx.QueryRow(ctx,
		"SELECT company_id FROM fiscal_years WHERE id = $1", fiscalYearID,
	).Scan(&companyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return referenceErrf("fiscal year %d not found", fiscalYearID)
		}
		return fmt.Errorf("failed to fetch fiscal year %d: %w", fiscalYearID, err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE fiscal_years SET is_current = (id = $1) WHERE company_id = $2",
		fiscalYearID, companyID,
	); err != nil {
		return fmt.Errorf("failed to set current fiscal year: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *fiscalYearService) Close(ctx context.Context, fiscalYearID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var closed bool
	err = tx.QueryRow(ctx,
		"SELECT closed FROM fiscal_years WHERE id = $1 FOR UPDATE", fiscalYearID,
	).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return referenceErrf("fiscal year %d not found", fiscalYearID)
		}
		return fmt.Errorf("failed to fetch fiscal year %d: %w", fiscalYearID, err)
	}
	if closed {
		return conflictErrf("fiscal year %d is already closed", fiscalYearID)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE verifications SET locked = TRUE WHERE fiscal_year_id = $1", fiscalYearID,
	); err != nil {
		return fmt.Errorf("failed to lock verifications for fiscal year %d: %w", fiscalYearID, err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE fiscal_years SET closed = TRUE, is_current = FALSE WHERE id = $1", fiscalYearID,
	); err != nil {
		return fmt.Errorf("failed to close fiscal year %d: %w", fiscalYearID, err)
	}
	return tx.Commit(ctx)
}
