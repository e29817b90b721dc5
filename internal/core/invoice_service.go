package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Verification series used by invoice posting. Issued invoices land in F,
// payments in B.
const (
	seriesInvoices = "F"
	seriesPayments = "B"
)

// InvoiceLineItem is one invoice line as entered by the caller. Net, VAT
// and gross are derived, never stored from input.
type InvoiceLineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// InvoiceService manages customer invoices through their lifecycle and posts
// the resulting business events as verifications.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, companyID, customerID int, invoiceDate, dueDate string, lines []InvoiceLineItem) (*Invoice, error)
	UpdateInvoiceLines(ctx context.Context, invoiceID int, lines []InvoiceLineItem) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error)
	ListInvoices(ctx context.Context, companyID int) ([]Invoice, error)
	// IssueInvoice posts DR accounts receivable against revenue and outgoing
	// VAT per rate on accrual basis; on cash basis it only flips the status.
	IssueInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*Invoice, error)
	// RegisterPayment books DR bank / CR accounts receivable and appends to
	// the invoice payment history. Partial payments are allowed; each gets
	// its own verification.
	RegisterPayment(ctx context.Context, invoiceID, fiscalYearID int, amount decimal.Decimal, paymentDate string) (*Invoice, error)
	CancelInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*Invoice, error)
}

type invoiceService struct {
	pool          *pgxpool.Pool
	verifications VerificationService
	defaults      DefaultAccountService
}

func NewInvoiceService(pool *pgxpool.Pool, verifications VerificationService, defaults DefaultAccountService) InvoiceService {
	return &invoiceService{pool: pool, verifications: verifications, defaults: defaults}
}

var hundred = decimal.NewFromInt(100)

// supportedVATRates are the Swedish rates the role mapping covers, in the
// order posting lines are emitted.
var supportedVATRates = []decimal.Decimal{
	decimal.NewFromInt(25),
	decimal.NewFromInt(12),
	decimal.NewFromInt(6),
	decimal.Zero,
}

func vatRateSupported(rate decimal.Decimal) bool {
	for _, r := range supportedVATRates {
		if rate.Equal(r) {
			return true
		}
	}
	return false
}

func revenueRoleForRate(rate decimal.Decimal) (DefaultRole, error) {
	switch {
	case rate.Equal(decimal.NewFromInt(25)):
		return RoleRevenue25, nil
	case rate.Equal(decimal.NewFromInt(12)):
		return RoleRevenue12, nil
	case rate.Equal(decimal.NewFromInt(6)):
		return RoleRevenue6, nil
	case rate.IsZero():
		return RoleRevenue0, nil
	}
	return "", validationErrf("unsupported VAT rate %s%%", rate.String())
}

func outgoingVATRoleForRate(rate decimal.Decimal) (DefaultRole, error) {
	switch {
	case rate.Equal(decimal.NewFromInt(25)):
		return RoleOutgoingVAT25, nil
	case rate.Equal(decimal.NewFromInt(12)):
		return RoleOutgoingVAT12, nil
	case rate.Equal(decimal.NewFromInt(6)):
		return RoleOutgoingVAT6, nil
	}
	return "", validationErrf("no outgoing VAT role for rate %s%%", rate.String())
}

func incomingVATRoleForRate(rate decimal.Decimal) (DefaultRole, error) {
	switch {
	case rate.Equal(decimal.NewFromInt(25)):
		return RoleIncomingVAT25, nil
	case rate.Equal(decimal.NewFromInt(12)):
		return RoleIncomingVAT12, nil
	case rate.Equal(decimal.NewFromInt(6)):
		return RoleIncomingVAT6, nil
	}
	return "", validationErrf("no incoming VAT role for rate %s%%", rate.String())
}

// rateTotal is the net and VAT booked under one VAT rate.
type rateTotal struct {
	Rate decimal.Decimal
	Net  decimal.Decimal
	VAT  decimal.Decimal
}

// invoiceLineAmounts derives net, VAT and gross for one line. Net is rounded
// before VAT is applied so line gross always equals net + VAT exactly.
func invoiceLineAmounts(quantity, unitPrice, vatRate decimal.Decimal) (net, vat, gross decimal.Decimal) {
	net = quantity.Mul(unitPrice).Round(2)
	vat = net.Mul(vatRate).Div(hundred).Round(2)
	return net, vat, net.Add(vat)
}

// invoiceRateTotals groups invoice lines by VAT rate in the canonical rate
// order and returns the grand total.
func invoiceRateTotals(lines []InvoiceLine) ([]rateTotal, decimal.Decimal) {
	total := decimal.Zero
	var totals []rateTotal
	for _, rate := range supportedVATRates {
		rt := rateTotal{Rate: rate, Net: decimal.Zero, VAT: decimal.Zero}
		for _, line := range lines {
			if !line.VATRate.Equal(rate) {
				continue
			}
			net, vat, gross := invoiceLineAmounts(line.Quantity, line.UnitPrice, line.VATRate)
			rt.Net = rt.Net.Add(net)
			rt.VAT = rt.VAT.Add(vat)
			total = total.Add(gross)
		}
		if !rt.Net.IsZero() || !rt.VAT.IsZero() {
			totals = append(totals, rt)
		}
	}
	return totals, total
}

// buildIssuePostingLines turns per-rate totals into a balanced line set:
// DR accounts receivable for the total, CR revenue net per rate, CR outgoing
// VAT per rate. Rate 0 books no VAT line. roleAccount maps each required
// role to a resolved account number; a missing role is a reference error.
func buildIssuePostingLines(totals []rateTotal, total decimal.Decimal, roleAccount map[DefaultRole]int, description string) ([]LineInput, error) {
	arAccount, ok := roleAccount[RoleAccountsReceivable]
	if !ok {
		return nil, referenceErrf("no default account mapped for role %q", RoleAccountsReceivable)
	}

	lines := []LineInput{{AccountNumber: arAccount, Debit: total, Description: description}}
	for _, rt := range totals {
		revenueRole, err := revenueRoleForRate(rt.Rate)
		if err != nil {
			return nil, err
		}
		revenueAccount, ok := roleAccount[revenueRole]
		if !ok {
			return nil, referenceErrf("no default account mapped for role %q", revenueRole)
		}
		lines = append(lines, LineInput{AccountNumber: revenueAccount, Credit: rt.Net, Description: description})

		if rt.VAT.IsZero() {
			continue
		}
		vatRole, err := outgoingVATRoleForRate(rt.Rate)
		if err != nil {
			return nil, err
		}
		vatAccount, ok := roleAccount[vatRole]
		if !ok {
			return nil, referenceErrf("no default account mapped for role %q", vatRole)
		}
		lines = append(lines, LineInput{AccountNumber: vatAccount, Credit: rt.VAT, Description: description})
	}
	return lines, nil
}

func validateInvoiceLineItems(lines []InvoiceLineItem) error {
	if len(lines) == 0 {
		return validationErrf("invoice must have at least one line")
	}
	for i, line := range lines {
		if !line.Quantity.IsPositive() {
			return validationErrf("invoice line %d: quantity must be positive", i+1)
		}
		if line.UnitPrice.IsNegative() {
			return validationErrf("invoice line %d: unit price cannot be negative", i+1)
		}
		if !vatRateSupported(line.VATRate) {
			return validationErrf("invoice line %d: unsupported VAT rate %s%%", i+1, line.VATRate.String())
		}
	}
	return nil
}

func parseISODate(field, value string) error {
	if value == "" {
		return validationErrf("%s is required", field)
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return validationErrf("%s must be yyyy-mm-dd, got %q", field, value)
	}
	return nil
}

func (s *invoiceService) CreateInvoice(ctx context.Context, companyID, customerID int, invoiceDate, dueDate string, lines []InvoiceLineItem) (*Invoice, error) {
	if err := parseISODate("invoice date", invoiceDate); err != nil {
		return nil, err
	}
	if err := parseISODate("due date", dueDate); err != nil {
		return nil, err
	}
	if err := validateInvoiceLineItems(lines); err != nil {
		return nil, err
	}

	var custCompanyID int
	err := s.pool.QueryRow(ctx,
		"SELECT company_id FROM customers WHERE id = $1", customerID,
	).Scan(&custCompanyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("customer %d not found", customerID)
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}
	if custCompanyID != companyID {
		return nil, referenceErrf("customer %d does not belong to company %d", customerID, companyID)
	}

	total := invoiceInputTotal(lines)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var invoiceID int
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (company_id, customer_id, invoice_date, due_date, status, payment_status, total_amount, paid_amount)
		VALUES ($1, $2, $3, $4, 'draft', 'unpaid', $5, 0)
		RETURNING id
	`, companyID, customerID, invoiceDate, dueDate, total).Scan(&invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	if err := insertInvoiceLines(ctx, tx, invoiceID, lines); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}
	return s.GetInvoice(ctx, invoiceID)
}

func invoiceInputTotal(lines []InvoiceLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		_, _, gross := invoiceLineAmounts(line.Quantity, line.UnitPrice, line.VATRate)
		total = total.Add(gross)
	}
	return total
}

func insertInvoiceLines(ctx context.Context, tx pgx.Tx, invoiceID int, lines []InvoiceLineItem) error {
	for i, line := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoice_lines (invoice_id, line_order, description, quantity, unit_price, vat_rate)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, invoiceID, i+1, line.Description, line.Quantity, line.UnitPrice, line.VATRate); err != nil {
			return fmt.Errorf("failed to insert invoice line %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *invoiceService) UpdateInvoiceLines(ctx context.Context, invoiceID int, lines []InvoiceLineItem) (*Invoice, error) {
	if err := validateInvoiceLineItems(lines); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status InvoiceStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM invoices WHERE id = $1 FOR UPDATE", invoiceID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}
	if status != InvoiceDraft {
		return nil, conflictErrf("invoice %d is %s, only draft invoices can be edited", invoiceID, status)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM invoice_lines WHERE invoice_id = $1", invoiceID); err != nil {
		return nil, fmt.Errorf("failed to replace invoice lines: %w", err)
	}
	if err := insertInvoiceLines(ctx, tx, invoiceID, lines); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET total_amount = $1 WHERE id = $2",
		invoiceInputTotal(lines), invoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to update invoice total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice update: %w", err)
	}
	return s.GetInvoice(ctx, invoiceID)
}

const invoiceColumns = `
	i.id, i.company_id, i.customer_id, c.name, i.invoice_date::text, i.due_date::text,
	i.status, i.payment_status, i.total_amount, i.paid_amount,
	i.sent_at, i.verification_id, i.created_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.CustomerID, &inv.CustomerName,
		&inv.InvoiceDate, &inv.DueDate, &inv.Status, &inv.PaymentStatus,
		&inv.TotalAmount, &inv.PaidAmount, &inv.SentAt, &inv.VerificationID, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.id = $1
	`, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", invoiceID, err)
	}

	if inv.Lines, err = s.fetchInvoiceLines(ctx, invoiceID); err != nil {
		return nil, err
	}
	if inv.Payments, err = s.fetchInvoicePayments(ctx, invoiceID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) fetchInvoiceLines(ctx context.Context, invoiceID int) ([]InvoiceLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, line_order, description, quantity, unit_price, vat_rate
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_order
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineOrder, &l.Description, &l.Quantity, &l.UnitPrice, &l.VATRate); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *invoiceService) fetchInvoicePayments(ctx context.Context, invoiceID int) ([]InvoicePayment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, amount, payment_date::text, reference, verification_id, created_at
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice payments: %w", err)
	}
	defer rows.Close()

	var payments []InvoicePayment
	for rows.Next() {
		var p InvoicePayment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaymentDate, &p.Reference, &p.VerificationID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invoice payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *invoiceService) ListInvoices(ctx context.Context, companyID int) ([]Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.company_id = $1
		ORDER BY i.invoice_date DESC, i.id DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// resolveRoleAccounts resolves each role to its mapped account number,
// failing on the first unmapped role so posting aborts before any write.
func (s *invoiceService) resolveRoleAccounts(ctx context.Context, companyID int, roles []DefaultRole) (map[DefaultRole]int, error) {
	out := make(map[DefaultRole]int, len(roles))
	for _, role := range roles {
		account, err := s.defaults.Resolve(ctx, companyID, role)
		if err != nil {
			return nil, err
		}
		out[role] = account.Number
	}
	return out, nil
}

func issueRoles(totals []rateTotal) ([]DefaultRole, error) {
	roles := []DefaultRole{RoleAccountsReceivable}
	for _, rt := range totals {
		revenueRole, err := revenueRoleForRate(rt.Rate)
		if err != nil {
			return nil, err
		}
		roles = append(roles, revenueRole)
		if rt.VAT.IsZero() {
			continue
		}
		vatRole, err := outgoingVATRoleForRate(rt.Rate)
		if err != nil {
			return nil, err
		}
		roles = append(roles, vatRole)
	}
	return roles, nil
}

func (s *invoiceService) companyBasis(ctx context.Context, companyID int) (AccountingBasis, error) {
	var basis AccountingBasis
	err := s.pool.QueryRow(ctx,
		"SELECT basis FROM companies WHERE id = $1", companyID,
	).Scan(&basis)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", referenceErrf("company %d not found", companyID)
		}
		return "", fmt.Errorf("failed to fetch company %d: %w", companyID, err)
	}
	return basis, nil
}

// invoiceState is the mutable invoice row re-read under FOR UPDATE inside
// every transition transaction. The pre-transaction fetch only shapes the
// posting; the locked state decides whether the transition may happen.
type invoiceState struct {
	Status         InvoiceStatus
	PaymentStatus  PaymentStatus
	TotalAmount    decimal.Decimal
	PaidAmount     decimal.Decimal
	VerificationID *int
}

func lockInvoiceState(ctx context.Context, tx pgx.Tx, invoiceID int) (*invoiceState, error) {
	var st invoiceState
	err := tx.QueryRow(ctx, `
		SELECT status, payment_status, total_amount, paid_amount, verification_id
		FROM invoices WHERE id = $1 FOR UPDATE
	`, invoiceID).Scan(&st.Status, &st.PaymentStatus, &st.TotalAmount, &st.PaidAmount, &st.VerificationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("failed to lock invoice %d: %w", invoiceID, err)
	}
	return &st, nil
}

func (s *invoiceService) IssueInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*Invoice, error) {
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceDraft {
		return nil, conflictErrf("invoice %d is %s, only draft invoices can be issued", invoiceID, inv.Status)
	}
	if !inv.TotalAmount.IsPositive() {
		return nil, validationErrf("invoice %d total must be positive, got %s", invoiceID, inv.TotalAmount.StringFixed(2))
	}

	basis, err := s.companyBasis(ctx, inv.CompanyID)
	if err != nil {
		return nil, err
	}

	if basis == BasisCash {
		// Cash basis recognizes on payment; issuing is a status change only.
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockInvoiceState(ctx, tx, invoiceID)
		if err != nil {
			return nil, err
		}
		if st.Status != InvoiceDraft {
			return nil, conflictErrf("invoice %d is %s, only draft invoices can be issued", invoiceID, st.Status)
		}
		if _, err := tx.Exec(ctx,
			"UPDATE invoices SET status = 'issued', sent_at = NOW() WHERE id = $1",
			invoiceID,
		); err != nil {
			return nil, fmt.Errorf("failed to issue invoice %d: %w", invoiceID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit invoice issue: %w", err)
		}
		return s.GetInvoice(ctx, invoiceID)
	}

	totals, total := invoiceRateTotals(inv.Lines)
	roles, err := issueRoles(totals)
	if err != nil {
		return nil, err
	}
	roleAccount, err := s.resolveRoleAccounts(ctx, inv.CompanyID, roles)
	if err != nil {
		return nil, err
	}
	description := fmt.Sprintf("Invoice %d, %s", inv.ID, inv.CustomerName)
	lines, err := buildIssuePostingLines(totals, total, roleAccount, description)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Re-check under the row lock: a concurrent issue or cancel between the
	// fetch above and here must not produce a second posting.
	st, err := lockInvoiceState(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	if st.Status != InvoiceDraft {
		return nil, conflictErrf("invoice %d is %s, only draft invoices can be issued", invoiceID, st.Status)
	}

	verificationID, err := s.verifications.CreateInTx(ctx, tx, inv.CompanyID, fiscalYearID, VerificationInput{
		Series:          seriesInvoices,
		TransactionDate: inv.InvoiceDate,
		Description:     description,
		Lines:           lines,
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET status = 'issued', sent_at = NOW(), verification_id = $1 WHERE id = $2",
		verificationID, invoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark invoice %d issued: %w", invoiceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice issue: %w", err)
	}
	return s.GetInvoice(ctx, invoiceID)
}

// applyPayment updates the cumulative paid amount and derives the payment
// status. Paid means cumulative covers the total within rounding tolerance.
func paymentStatusFor(paid, total decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total.Sub(balanceTolerance)):
		return PaymentPaid
	case paid.IsPositive():
		return PaymentPartiallyPaid
	}
	return PaymentUnpaid
}

func (s *invoiceService) RegisterPayment(ctx context.Context, invoiceID, fiscalYearID int, amount decimal.Decimal, paymentDate string) (*Invoice, error) {
	if !amount.IsPositive() {
		return nil, validationErrf("payment amount must be positive, got %s", amount.StringFixed(2))
	}
	if err := parseISODate("payment date", paymentDate); err != nil {
		return nil, err
	}

	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceIssued {
		return nil, conflictErrf("invoice %d is %s, only issued invoices accept payments", invoiceID, inv.Status)
	}

	roleAccount, err := s.resolveRoleAccounts(ctx, inv.CompanyID, []DefaultRole{RoleBank, RoleAccountsReceivable})
	if err != nil {
		return nil, err
	}

	reference := uuid.NewString()
	description := fmt.Sprintf("Payment for invoice %d", inv.ID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The status and the cumulative paid amount are only trustworthy under
	// the row lock; concurrent payments serialize here.
	st, err := lockInvoiceState(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}
	if st.Status != InvoiceIssued {
		return nil, conflictErrf("invoice %d is %s, only issued invoices accept payments", invoiceID, st.Status)
	}
	open := st.TotalAmount.Sub(st.PaidAmount)
	if amount.GreaterThan(open.Add(balanceTolerance)) {
		return nil, validationErrf("payment %s exceeds open amount %s on invoice %d",
			amount.StringFixed(2), open.StringFixed(2), invoiceID)
	}

	verificationID, err := s.verifications.CreateInTx(ctx, tx, inv.CompanyID, fiscalYearID, VerificationInput{
		Series:          seriesPayments,
		TransactionDate: paymentDate,
		Description:     description,
		Lines: []LineInput{
			{AccountNumber: roleAccount[RoleBank], Debit: amount, Description: description},
			{AccountNumber: roleAccount[RoleAccountsReceivable], Credit: amount, Description: description},
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO invoice_payments (invoice_id, amount, payment_date, reference, verification_id)
		VALUES ($1, $2, $3, $4, $5)
	`, invoiceID, amount, paymentDate, reference, verificationID); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	newPaid := st.PaidAmount.Add(amount)
	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET paid_amount = $1, payment_status = $2 WHERE id = $3",
		newPaid, string(paymentStatusFor(newPaid, st.TotalAmount)), invoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return s.GetInvoice(ctx, invoiceID)
}

func (s *invoiceService) CancelInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*Invoice, error) {
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := lockInvoiceState(ctx, tx, invoiceID)
	if err != nil {
		return nil, err
	}

	switch st.Status {
	case InvoiceCancelled:
		return s.GetInvoice(ctx, invoiceID)
	case InvoiceDraft:
		if _, err := tx.Exec(ctx,
			"UPDATE invoices SET status = 'cancelled' WHERE id = $1", invoiceID,
		); err != nil {
			return nil, fmt.Errorf("failed to cancel invoice %d: %w", invoiceID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit invoice cancellation: %w", err)
		}
		return s.GetInvoice(ctx, invoiceID)
	}

	if st.PaymentStatus != PaymentUnpaid {
		return nil, conflictErrf("invoice %d has registered payments and cannot be cancelled", invoiceID)
	}

	// Accrual issues posted a verification; undo it with an offsetting
	// reversal in the same series. Cash issues posted nothing.
	if st.VerificationID != nil {
		original, err := s.verifications.Get(ctx, *st.VerificationID)
		if err != nil {
			return nil, err
		}
		reversal := VerificationInput{
			Series:          original.Series,
			TransactionDate: original.TransactionDate,
			Description:     fmt.Sprintf("Cancellation of invoice %d", inv.ID),
		}
		for _, line := range original.Lines {
			reversal.Lines = append(reversal.Lines, LineInput{
				AccountNumber: line.AccountNumber,
				Debit:         line.Credit,
				Credit:        line.Debit,
				Description:   line.Description,
			})
		}
		if _, err := s.verifications.CreateInTx(ctx, tx, inv.CompanyID, fiscalYearID, reversal); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET status = 'cancelled' WHERE id = $1", invoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to cancel invoice %d: %w", invoiceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice cancellation: %w", err)
	}
	return s.GetInvoice(ctx, invoiceID)
}
