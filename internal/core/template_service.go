package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TemplateLineInput is one line of a posting template being saved.
type TemplateLineInput struct {
	AccountNumber int    `json:"account_number"`
	Formula       string `json:"formula"`
	Description   string `json:"description"`
}

// TemplateResult is the expansion of a template for one amount: transaction
// lines ready for the verification engine plus the computed totals.
type TemplateResult struct {
	Lines       []LineInput     `json:"lines"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
}

// TemplateService manages posting templates and expands them into balanced
// line sets. Templates are author-responsible for balance; Execute checks,
// it never auto-corrects.
type TemplateService interface {
	Create(ctx context.Context, companyID int, name string, lines []TemplateLineInput) (*PostingTemplate, error)
	Update(ctx context.Context, templateID int, name string, lines []TemplateLineInput) (*PostingTemplate, error)
	Delete(ctx context.Context, templateID int) error
	Get(ctx context.Context, templateID int) (*PostingTemplate, error)
	List(ctx context.Context, companyID int) ([]PostingTemplate, error)
	// Reorder persists a new sort_order. Pure persistence: ties are broken
	// by id on listing.
	Reorder(ctx context.Context, companyID int, orderedIDs []int) error
	Execute(ctx context.Context, templateID int, amount decimal.Decimal) (*TemplateResult, error)
	// Post expands the template and commits the result as a verification.
	Post(ctx context.Context, companyID, fiscalYearID, templateID int, amount decimal.Decimal, date, series string, verifications VerificationService) (*Verification, error)
}

type templateService struct {
	pool *pgxpool.Pool
}

func NewTemplateService(pool *pgxpool.Pool) TemplateService {
	return &templateService{pool: pool}
}

func validateTemplateLines(lines []TemplateLineInput) error {
	if len(lines) < 2 {
		return validationErrf("posting template must have at least 2 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if line.AccountNumber <= 0 {
			return validationErrf("template line %d: account number must be positive", i+1)
		}
		if _, err := ParseFormula(line.Formula); err != nil {
			return fmt.Errorf("template line %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *templateService) Create(ctx context.Context, companyID int, name string, lines []TemplateLineInput) (*PostingTemplate, error) {
	if name == "" {
		return nil, validationErrf("posting template must have a name")
	}
	if err := validateTemplateLines(lines); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var templateID int
	err = tx.QueryRow(ctx, `
		INSERT INTO posting_templates (company_id, name, sort_order)
		VALUES ($1, $2, (SELECT COALESCE(MAX(sort_order), 0) + 1 FROM posting_templates WHERE company_id = $1))
		RETURNING id
	`, companyID, name).Scan(&templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert posting template: %w", err)
	}

	if err := insertTemplateLines(ctx, tx, templateID, lines); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit posting template: %w", err)
	}
	return s.Get(ctx, templateID)
}

func insertTemplateLines(ctx context.Context, tx pgx.Tx, templateID int, lines []TemplateLineInput) error {
	for i, line := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO posting_template_lines (template_id, line_order, account_number, formula, description)
			VALUES ($1, $2, $3, $4, $5)
		`, templateID, i+1, line.AccountNumber, line.Formula, line.Description); err != nil {
			return fmt.Errorf("failed to insert template line %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *templateService) Update(ctx context.Context, templateID int, name string, lines []TemplateLineInput) (*PostingTemplate, error) {
	if name == "" {
		return nil, validationErrf("posting template must have a name")
	}
	if err := validateTemplateLines(lines); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "UPDATE posting_templates SET name = $1 WHERE id = $2", name, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to update posting template %d: %w", templateID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, referenceErrf("posting template %d not found", templateID)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM posting_template_lines WHERE template_id = $1", templateID); err != nil {
		return nil, fmt.Errorf("failed to replace template lines: %w", err)
	}
	if err := insertTemplateLines(ctx, tx, templateID, lines); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit template update: %w", err)
	}
	return s.Get(ctx, templateID)
}

func (s *templateService) Delete(ctx context.Context, templateID int) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM posting_templates WHERE id = $1", templateID)
	if err != nil {
		return fmt.Errorf("failed to delete posting template %d: %w", templateID, err)
	}
	if tag.RowsAffected() == 0 {
		return referenceErrf("posting template %d not found", templateID)
	}
	return nil
}

func (s *templateService) Get(ctx context.Context, templateID int) (*PostingTemplate, error) {
	var t PostingTemplate
	err := s.pool.QueryRow(ctx,
		"SELECT id, company_id, name, sort_order FROM posting_templates WHERE id = $1",
		templateID,
	).Scan(&t.ID, &t.CompanyID, &t.Name, &t.SortOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("posting template %d not found", templateID)
		}
		return nil, fmt.Errorf("failed to fetch posting template %d: %w", templateID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, template_id, line_order, account_number, formula, description
		FROM posting_template_lines
		WHERE template_id = $1
		ORDER BY line_order
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query template lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l PostingTemplateLine
		if err := rows.Scan(&l.ID, &l.TemplateID, &l.LineOrder, &l.AccountNumber, &l.Formula, &l.Description); err != nil {
			return nil, fmt.Errorf("failed to scan template line: %w", err)
		}
		t.Lines = append(t.Lines, l)
	}
	return &t, rows.Err()
}

func (s *templateService) List(ctx context.Context, companyID int) ([]PostingTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, name, sort_order
		FROM posting_templates
		WHERE company_id = $1
		ORDER BY sort_order, id
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posting templates: %w", err)
	}
	defer rows.Close()

	var templates []PostingTemplate
	for rows.Next() {
		var t PostingTemplate
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Name, &t.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan posting template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posting templates: %w", err)
	}

	for i := range templates {
		full, err := s.Get(ctx, templates[i].ID)
		if err != nil {
			return nil, err
		}
		templates[i].Lines = full.Lines
	}
	return templates, nil
}

func (s *templateService) Reorder(ctx context.Context, companyID int, orderedIDs []int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, id := range orderedIDs {
		tag, err := tx.Exec(ctx,
			"UPDATE posting_templates SET sort_order = $1 WHERE id = $2 AND company_id = $3",
			i+1, id, companyID,
		)
		if err != nil {
			return fmt.Errorf("failed to reorder posting template %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return referenceErrf("posting template %d not found for company %d", id, companyID)
		}
	}
	return tx.Commit(ctx)
}

// evaluateTemplate expands template lines for one amount. Positive results
// become debits, negative become credits; an exact zero is a degenerate
// posting and rejected.
func evaluateTemplate(name string, lines []PostingTemplateLine, amount decimal.Decimal) (*TemplateResult, error) {
	if len(lines) == 0 {
		return nil, validationErrf("posting template %q has no lines", name)
	}

	result := &TemplateResult{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, line := range lines {
		formula, err := ParseFormula(line.Formula)
		if err != nil {
			return nil, fmt.Errorf("template %q line %d: %w", name, line.LineOrder, err)
		}
		value, err := formula.Eval(amount)
		if err != nil {
			return nil, fmt.Errorf("template %q line %d: %w", name, line.LineOrder, err)
		}

		value = value.Round(2)
		if value.IsZero() {
			return nil, validationErrf("template %q line %d evaluates to zero for amount %s",
				name, line.LineOrder, amount.StringFixed(2))
		}

		out := LineInput{AccountNumber: line.AccountNumber, Description: line.Description}
		if value.IsPositive() {
			out.Debit = value
			result.TotalDebit = result.TotalDebit.Add(value)
		} else {
			out.Credit = value.Abs()
			result.TotalCredit = result.TotalCredit.Add(value.Abs())
		}
		result.Lines = append(result.Lines, out)
	}

	if !balanced(result.TotalDebit, result.TotalCredit) {
		return nil, validationErrf("unbalanced template %q: debits %s != credits %s",
			name, result.TotalDebit.StringFixed(2), result.TotalCredit.StringFixed(2))
	}
	return result, nil
}

func (s *templateService) Execute(ctx context.Context, templateID int, amount decimal.Decimal) (*TemplateResult, error) {
	template, err := s.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return evaluateTemplate(template.Name, template.Lines, amount)
}

func (s *templateService) Post(ctx context.Context, companyID, fiscalYearID, templateID int, amount decimal.Decimal, date, series string, verifications VerificationService) (*Verification, error) {
	template, err := s.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if template.CompanyID != companyID {
		return nil, referenceErrf("posting template %d does not belong to company %d", templateID, companyID)
	}

	result, err := evaluateTemplate(template.Name, template.Lines, amount)
	if err != nil {
		return nil, err
	}

	input := VerificationInput{
		Series:          series,
		TransactionDate: date,
		Description:     template.Name,
		Lines:           result.Lines,
	}
	return verifications.Create(ctx, companyID, fiscalYearID, input)
}
