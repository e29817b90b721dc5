package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Supplier invoices land in series L, their payments in series B alongside
// customer invoice payments.
const seriesSupplierInvoices = "L"

// SupplierInvoiceLineItem is one supplier invoice line as entered by the
// caller. Amount is the net amount; ExpenseAccountNumber overrides the
// default expense role for this line when non-nil.
type SupplierInvoiceLineItem struct {
	Description          string          `json:"description"`
	Amount               decimal.Decimal `json:"amount"`
	VATRate              decimal.Decimal `json:"vat_rate"`
	ExpenseAccountNumber *int            `json:"expense_account_number,omitempty"`
}

// SupplierInvoiceService manages supplier invoices and posts registration
// and payment events as verifications.
type SupplierInvoiceService interface {
	CreateSupplierInvoice(ctx context.Context, companyID, supplierID int, invoiceNumber, invoiceDate, dueDate string, lines []SupplierInvoiceLineItem) (*SupplierInvoice, error)
	UpdateSupplierInvoiceLines(ctx context.Context, supplierInvoiceID int, lines []SupplierInvoiceLineItem) (*SupplierInvoice, error)
	GetSupplierInvoice(ctx context.Context, supplierInvoiceID int) (*SupplierInvoice, error)
	ListSupplierInvoices(ctx context.Context, companyID int) ([]SupplierInvoice, error)
	// RegisterSupplierInvoice posts DR expense per line and DR incoming VAT
	// per rate against CR accounts payable for the total.
	RegisterSupplierInvoice(ctx context.Context, supplierInvoiceID, fiscalYearID int) (*SupplierInvoice, error)
	// PaySupplierInvoice books DR accounts payable / CR bank and appends to
	// the payment history, same partial payment rules as customer invoices.
	PaySupplierInvoice(ctx context.Context, supplierInvoiceID, fiscalYearID int, amount decimal.Decimal, paymentDate string) (*SupplierInvoice, error)
}

type supplierInvoiceService struct {
	pool          *pgxpool.Pool
	verifications VerificationService
	defaults      DefaultAccountService
}

func NewSupplierInvoiceService(pool *pgxpool.Pool, verifications VerificationService, defaults DefaultAccountService) SupplierInvoiceService {
	return &supplierInvoiceService{pool: pool, verifications: verifications, defaults: defaults}
}

func validateSupplierLineItems(lines []SupplierInvoiceLineItem) error {
	if len(lines) == 0 {
		return validationErrf("supplier invoice must have at least one line")
	}
	for i, line := range lines {
		if !line.Amount.IsPositive() {
			return validationErrf("supplier invoice line %d: amount must be positive", i+1)
		}
		if !vatRateSupported(line.VATRate) {
			return validationErrf("supplier invoice line %d: unsupported VAT rate %s%%", i+1, line.VATRate.String())
		}
		if line.ExpenseAccountNumber != nil && *line.ExpenseAccountNumber <= 0 {
			return validationErrf("supplier invoice line %d: expense account number must be positive", i+1)
		}
	}
	return nil
}

func supplierLineVAT(line SupplierInvoiceLine) decimal.Decimal {
	return line.Amount.Round(2).Mul(line.VATRate).Div(hundred).Round(2)
}

func supplierInvoiceTotal(lines []SupplierInvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount.Round(2)).Add(supplierLineVAT(line))
	}
	return total
}

// buildRegisterPostingLines turns supplier invoice lines into a balanced
// set: DR expense net per line (default expense role unless the line
// overrides the account), DR incoming VAT per rate, CR accounts payable
// for the gross total.
func buildRegisterPostingLines(lines []SupplierInvoiceLine, roleAccount map[DefaultRole]int, description string) ([]LineInput, decimal.Decimal, error) {
	var out []LineInput
	for _, line := range lines {
		accountNumber := 0
		if line.ExpenseAccountNumber != nil {
			accountNumber = *line.ExpenseAccountNumber
		} else {
			mapped, ok := roleAccount[RoleDefaultExpense]
			if !ok {
				return nil, decimal.Zero, referenceErrf("no default account mapped for role %q", RoleDefaultExpense)
			}
			accountNumber = mapped
		}
		desc := line.Description
		if desc == "" {
			desc = description
		}
		out = append(out, LineInput{AccountNumber: accountNumber, Debit: line.Amount.Round(2), Description: desc})
	}

	for _, rate := range supportedVATRates {
		if rate.IsZero() {
			continue
		}
		vat := decimal.Zero
		for _, line := range lines {
			if line.VATRate.Equal(rate) {
				vat = vat.Add(supplierLineVAT(line))
			}
		}
		if vat.IsZero() {
			continue
		}
		vatRole, err := incomingVATRoleForRate(rate)
		if err != nil {
			return nil, decimal.Zero, err
		}
		vatAccount, ok := roleAccount[vatRole]
		if !ok {
			return nil, decimal.Zero, referenceErrf("no default account mapped for role %q", vatRole)
		}
		out = append(out, LineInput{AccountNumber: vatAccount, Debit: vat, Description: description})
	}

	apAccount, ok := roleAccount[RoleAccountsPayable]
	if !ok {
		return nil, decimal.Zero, referenceErrf("no default account mapped for role %q", RoleAccountsPayable)
	}
	total := supplierInvoiceTotal(lines)
	out = append(out, LineInput{AccountNumber: apAccount, Credit: total, Description: description})
	return out, total, nil
}

func (s *supplierInvoiceService) CreateSupplierInvoice(ctx context.Context, companyID, supplierID int, invoiceNumber, invoiceDate, dueDate string, lines []SupplierInvoiceLineItem) (*SupplierInvoice, error) {
	if invoiceNumber == "" {
		return nil, validationErrf("supplier invoice number is required")
	}
	if err := parseISODate("invoice date", invoiceDate); err != nil {
		return nil, err
	}
	if err := parseISODate("due date", dueDate); err != nil {
		return nil, err
	}
	if err := validateSupplierLineItems(lines); err != nil {
		return nil, err
	}

	var supCompanyID int
	err := s.pool.QueryRow(ctx,
		"SELECT company_id FROM suppliers WHERE id = $1", supplierID,
	).Scan(&supCompanyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("supplier %d not found", supplierID)
		}
		return nil, fmt.Errorf("failed to fetch supplier %d: %w", supplierID, err)
	}
	if supCompanyID != companyID {
		return nil, referenceErrf("supplier %d does not belong to company %d", supplierID, companyID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var invoiceID int
	err = tx.QueryRow(ctx, `
		INSERT INTO supplier_invoices (company_id, supplier_id, invoice_number, invoice_date, due_date, status, payment_status, total_amount, paid_amount)
		VALUES ($1, $2, $3, $4, $5, 'draft', 'unpaid', $6, 0)
		RETURNING id
	`, companyID, supplierID, invoiceNumber, invoiceDate, dueDate, supplierInputTotal(lines)).Scan(&invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert supplier invoice: %w", err)
	}

	if err := insertSupplierInvoiceLines(ctx, tx, invoiceID, lines); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit supplier invoice: %w", err)
	}
	return s.GetSupplierInvoice(ctx, invoiceID)
}

func supplierInputTotal(lines []SupplierInvoiceLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		net := line.Amount.Round(2)
		total = total.Add(net).Add(net.Mul(line.VATRate).Div(hundred).Round(2))
	}
	return total
}

func insertSupplierInvoiceLines(ctx context.Context, tx pgx.Tx, supplierInvoiceID int, lines []SupplierInvoiceLineItem) error {
	for i, line := range lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO supplier_invoice_lines (supplier_invoice_id, line_order, description, amount, vat_rate, expense_account_number)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, supplierInvoiceID, i+1, line.Description, line.Amount.Round(2), line.VATRate, line.ExpenseAccountNumber); err != nil {
			return fmt.Errorf("failed to insert supplier invoice line %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *supplierInvoiceService) UpdateSupplierInvoiceLines(ctx context.Context, supplierInvoiceID int, lines []SupplierInvoiceLineItem) (*SupplierInvoice, error) {
	if err := validateSupplierLineItems(lines); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := lockSupplierInvoiceState(ctx, tx, supplierInvoiceID)
	if err != nil {
		return nil, err
	}
	if st.Status != InvoiceDraft {
		return nil, conflictErrf("supplier invoice %d is %s, only draft invoices can be edited", supplierInvoiceID, st.Status)
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM supplier_invoice_lines WHERE supplier_invoice_id = $1", supplierInvoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to replace supplier invoice lines: %w", err)
	}
	if err := insertSupplierInvoiceLines(ctx, tx, supplierInvoiceID, lines); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE supplier_invoices SET total_amount = $1 WHERE id = $2",
		supplierInputTotal(lines), supplierInvoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to update supplier invoice total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit supplier invoice update: %w", err)
	}
	return s.GetSupplierInvoice(ctx, supplierInvoiceID)
}

const supplierInvoiceColumns = `
	si.id, si.company_id, si.supplier_id, s.name, si.invoice_number,
	si.invoice_date::text, si.due_date::text, si.status, si.payment_status,
	si.total_amount, si.paid_amount, si.verification_id, si.created_at`

func scanSupplierInvoice(row pgx.Row) (*SupplierInvoice, error) {
	var inv SupplierInvoice
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.SupplierID, &inv.SupplierName,
		&inv.InvoiceNumber, &inv.InvoiceDate, &inv.DueDate, &inv.Status, &inv.PaymentStatus,
		&inv.TotalAmount, &inv.PaidAmount, &inv.VerificationID, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *supplierInvoiceService) GetSupplierInvoice(ctx context.Context, supplierInvoiceID int) (*SupplierInvoice, error) {
	inv, err := scanSupplierInvoice(s.pool.QueryRow(ctx, `
		SELECT `+supplierInvoiceColumns+`
		FROM supplier_invoices si
		JOIN suppliers s ON s.id = si.supplier_id
		WHERE si.id = $1
	`, supplierInvoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("supplier invoice %d not found", supplierInvoiceID)
		}
		return nil, fmt.Errorf("failed to fetch supplier invoice %d: %w", supplierInvoiceID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, supplier_invoice_id, line_order, description, amount, vat_rate, expense_account_number
		FROM supplier_invoice_lines
		WHERE supplier_invoice_id = $1
		ORDER BY line_order
	`, supplierInvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplier invoice lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l SupplierInvoiceLine
		if err := rows.Scan(&l.ID, &l.SupplierInvoiceID, &l.LineOrder, &l.Description, &l.Amount, &l.VATRate, &l.ExpenseAccountNumber); err != nil {
			return nil, fmt.Errorf("failed to scan supplier invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	payRows, err := s.pool.Query(ctx, `
		SELECT id, supplier_invoice_id, amount, payment_date::text, reference, verification_id, created_at
		FROM supplier_invoice_payments
		WHERE supplier_invoice_id = $1
		ORDER BY created_at, id
	`, supplierInvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplier invoice payments: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var p SupplierInvoicePayment
		if err := payRows.Scan(&p.ID, &p.SupplierInvoiceID, &p.Amount, &p.PaymentDate, &p.Reference, &p.VerificationID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier invoice payment: %w", err)
		}
		inv.Payments = append(inv.Payments, p)
	}
	return inv, payRows.Err()
}

func (s *supplierInvoiceService) ListSupplierInvoices(ctx context.Context, companyID int) ([]SupplierInvoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+supplierInvoiceColumns+`
		FROM supplier_invoices si
		JOIN suppliers s ON s.id = si.supplier_id
		WHERE si.company_id = $1
		ORDER BY si.invoice_date DESC, si.id DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query supplier invoices: %w", err)
	}
	defer rows.Close()

	var invoices []SupplierInvoice
	for rows.Next() {
		inv, err := scanSupplierInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supplier invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (s *supplierInvoiceService) resolveRoleAccounts(ctx context.Context, companyID int, roles []DefaultRole) (map[DefaultRole]int, error) {
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

func registerRoles(lines []SupplierInvoiceLine) ([]DefaultRole, error) {
	roles := []DefaultRole{RoleAccountsPayable}
	needExpense := false
	for _, line := range lines {
		if line.ExpenseAccountNumber == nil {
			needExpense = true
		}
	}
	if needExpense {
		roles = append(roles, RoleDefaultExpense)
	}
	for _, rate := range supportedVATRates {
		if rate.IsZero() {
			continue
		}
		present := false
		for _, line := range lines {
			if line.VATRate.Equal(rate) && !supplierLineVAT(line).IsZero() {
				present = true
			}
		}
		if !present {
			continue
		}
		vatRole, err := incomingVATRoleForRate(rate)
		if err != nil {
			return nil, err
		}
		roles = append(roles, vatRole)
	}
	return roles, nil
}

// supplierInvoiceState mirrors invoiceState on the payable side: mutable
// fields re-read under FOR UPDATE before any transition.
type supplierInvoiceState struct {
	Status        InvoiceStatus
	PaymentStatus PaymentStatus
	TotalAmount   decimal.Decimal
	PaidAmount    decimal.Decimal
}

func lockSupplierInvoiceState(ctx context.Context, tx pgx.Tx, supplierInvoiceID int) (*supplierInvoiceState, error) {
	var st supplierInvoiceState
	err := tx.QueryRow(ctx, `
		SELECT status, payment_status, total_amount, paid_amount
		FROM supplier_invoices WHERE id = $1 FOR UPDATE
	`, supplierInvoiceID).Scan(&st.Status, &st.PaymentStatus, &st.TotalAmount, &st.PaidAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, referenceErrf("supplier invoice %d not found", supplierInvoiceID)
		}
		return nil, fmt.Errorf("failed to lock supplier invoice %d: %w", supplierInvoiceID, err)
	}
	return &st, nil
}

func (s *supplierInvoiceService) RegisterSupplierInvoice(ctx context.Context, supplierInvoiceID, fiscalYearID int) (*SupplierInvoice, error) {
	inv, err := s.GetSupplierInvoice(ctx, supplierInvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceDraft {
		return nil, conflictErrf("supplier invoice %d is %s, only drafts can be registered", supplierInvoiceID, inv.Status)
	}

	roles, err := registerRoles(inv.Lines)
	if err != nil {
		return nil, err
	}
	roleAccount, err := s.resolveRoleAccounts(ctx, inv.CompanyID, roles)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Supplier invoice %s, %s", inv.InvoiceNumber, inv.SupplierName)
	lines, _, err := buildRegisterPostingLines(inv.Lines, roleAccount, description)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Re-check under the row lock so two concurrent registrations cannot
	// both post.
	st, err := lockSupplierInvoiceState(ctx, tx, supplierInvoiceID)
	if err != nil {
		return nil, err
	}
	if st.Status != InvoiceDraft {
		return nil, conflictErrf("supplier invoice %d is %s, only drafts can be registered", supplierInvoiceID, st.Status)
	}

	verificationID, err := s.verifications.CreateInTx(ctx, tx, inv.CompanyID, fiscalYearID, VerificationInput{
		Series:          seriesSupplierInvoices,
		TransactionDate: inv.InvoiceDate,
		Description:     description,
		Lines:           lines,
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		"UPDATE supplier_invoices SET status = 'issued', verification_id = $1 WHERE id = $2",
		verificationID, supplierInvoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark supplier invoice %d issued: %w", supplierInvoiceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit supplier invoice registration: %w", err)
	}
	return s.GetSupplierInvoice(ctx, supplierInvoiceID)
}

func (s *supplierInvoiceService) PaySupplierInvoice(ctx context.Context, supplierInvoiceID, fiscalYearID int, amount decimal.Decimal, paymentDate string) (*SupplierInvoice, error) {
	if !amount.IsPositive() {
		return nil, validationErrf("payment amount must be positive, got %s", amount.StringFixed(2))
	}
	if err := parseISODate("payment date", paymentDate); err != nil {
		return nil, err
	}

	inv, err := s.GetSupplierInvoice(ctx, supplierInvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceIssued {
		return nil, conflictErrf("supplier invoice %d is %s, only registered invoices accept payments", supplierInvoiceID, inv.Status)
	}

	roleAccount, err := s.resolveRoleAccounts(ctx, inv.CompanyID, []DefaultRole{RoleAccountsPayable, RoleBank})
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Payment of supplier invoice %s", inv.InvoiceNumber)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Concurrent payments serialize on the row lock; the open amount is
	// computed from the locked state.
	st, err := lockSupplierInvoiceState(ctx, tx, supplierInvoiceID)
	if err != nil {
		return nil, err
	}
	if st.Status != InvoiceIssued {
		return nil, conflictErrf("supplier invoice %d is %s, only registered invoices accept payments", supplierInvoiceID, st.Status)
	}
	open := st.TotalAmount.Sub(st.PaidAmount)
	if amount.GreaterThan(open.Add(balanceTolerance)) {
		return nil, validationErrf("payment %s exceeds open amount %s on supplier invoice %d",
			amount.StringFixed(2), open.StringFixed(2), supplierInvoiceID)
	}

	verificationID, err := s.verifications.CreateInTx(ctx, tx, inv.CompanyID, fiscalYearID, VerificationInput{
		Series:          seriesPayments,
		TransactionDate: paymentDate,
		Description:     description,
		Lines: []LineInput{
			{AccountNumber: roleAccount[RoleAccountsPayable], Debit: amount, Description: description},
			{AccountNumber: roleAccount[RoleBank], Credit: amount, Description: description},
		},
	})
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO supplier_invoice_payments (supplier_invoice_id, amount, payment_date, reference, verification_id)
		VALUES ($1, $2, $3, $4, $5)
	`, supplierInvoiceID, amount, paymentDate, uuid.NewString(), verificationID); err != nil {
		return nil, fmt.Errorf("failed to record supplier payment: %w", err)
	}

	newPaid := st.PaidAmount.Add(amount)
	if _, err := tx.Exec(ctx,
		"UPDATE supplier_invoices SET paid_amount = $1, payment_status = $2 WHERE id = $3",
		newPaid, string(paymentStatusFor(newPaid, st.TotalAmount)), supplierInvoiceID,
	); err != nil {
		return nil, fmt.Errorf("failed to update supplier payment status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit supplier payment: %w", err)
	}
	return s.GetSupplierInvoice(ctx, supplierInvoiceID)
}
