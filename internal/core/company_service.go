package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CompanyService manages tenant roots and their thin master-data
// collaborators (customers, suppliers).
type CompanyService interface {
	CreateCompany(ctx context.Context, name, orgNumber string, basis AccountingBasis, vatPeriod string) (*Company, error)
	GetCompany(ctx context.Context, companyID int) (*Company, error)
	CreateCustomer(ctx context.Context, companyID int, name, email string) (*Customer, error)
	ListCustomers(ctx context.Context, companyID int) ([]Customer, error)
	CreateSupplier(ctx context.Context, companyID int, name, email string) (*Supplier, error)
	ListSuppliers(ctx context.Context, companyID int) ([]Supplier, error)
}

type companyService struct {
	pool *pgxpool.Pool
}

func NewCompanyService(pool *pgxpool.Pool) CompanyService {
	return &companyService{pool: pool}
}

func (s *companyService) CreateCompany(ctx context.Context, name, orgNumber string, basis AccountingBasis, vatPeriod string) (*Company, error) {
	if name == "" {
		return nil, validationErrf("company must have a name")
	}
	if basis != BasisAccrual && basis != BasisCash {
		return nil, validationErrf("unknown accounting basis %q", basis)
	}
	if vatPeriod == "" {
		vatPeriod = "quarterly"
	}

	var c Company
	err := s.pool.QueryRow(ctx, `
		INSERT INTO companies (name, org_number, basis, vat_period)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, org_number, basis, vat_period, created_at
	`, name, orgNumber, string(basis), vatPeriod).Scan(
		&c.ID, &c.Name, &c.OrgNumber, &c.Basis, &c.VATPeriod, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create company: %w", err)
	}
	return &c, nil
}

func (s *companyService) GetCompany(ctx context.Context, companyID int) (*Company, error) {
	var c Company
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, org_number, basis, vat_period, created_at FROM companies WHERE id = $1",
		companyID,
	).Scan(&c.ID, &c.Name, &c.OrgNumber, &c.Basis, &c.VATPeriod, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("company %d not found", companyID)
		}
		return nil, fmt.Errorf("failed to fetch company %d: %w", companyID, err)
	}
	return &c, nil
}

func (s *companyService) CreateCustomer(ctx context.Context, companyID int, name, email string) (*Customer, error) {
	if name == "" {
		return nil, validationErrf("customer must have a name")
	}

	var c Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (company_id, name, email)
		VALUES ($1, $2, $3)
		RETURNING id, company_id, name, email, created_at
	`, companyID, name, email).Scan(&c.ID, &c.CompanyID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return &c, nil
}

func (s *companyService) ListCustomers(ctx context.Context, companyID int) ([]Customer, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, company_id, name, email, created_at FROM customers WHERE company_id = $1 ORDER BY name",
		companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *companyService) CreateSupplier(ctx context.Context, companyID int, name, email string) (*Supplier, error) {
	if name == "" {
		return nil, validationErrf("supplier must have a name")
	}

	var sup Supplier
	err := s.pool.QueryRow(ctx, `
		INSERT INTO suppliers (company_id, name, email)
		VALUES ($1, $2, $3)
		RETURNING id, company_id, name, email, created_at
	`, companyID, name, email).Scan(&sup.ID, &sup.CompanyID, &sup.Name, &sup.Email, &sup.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create supplier: %w", err)
	}
	return &sup, nil
}

func (s *companyService) ListSuppliers(ctx context.Context, companyID int) ([]Supplier, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, company_id, name, email, created_at FROM suppliers WHERE company_id = $1 ORDER BY name",
		companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var sup Supplier
		if err := rows.Scan(&sup.ID, &sup.CompanyID, &sup.Name, &sup.Email, &sup.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}
