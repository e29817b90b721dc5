package app

import (
	"context"

	"bookkeeping-engine/internal/core"

	"github.com/shopspring/decimal"
)

// ApplicationService is the single interface all adapters call. It decouples
// presentation from business logic. Implementations must contain no
// fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// CreateCompany creates a tenant root with its accounting basis.
	CreateCompany(ctx context.Context, req CreateCompanyRequest) (*core.Company, error)

	// GetCompany returns a company by ID.
	GetCompany(ctx context.Context, companyID int) (*core.Company, error)

	// CreateFiscalYear creates a fiscal year; ranges for one company never overlap.
	CreateFiscalYear(ctx context.Context, companyID int, startDate, endDate string, current bool) (*core.FiscalYear, error)

	// GetCurrentFiscalYear returns the company's current fiscal year.
	GetCurrentFiscalYear(ctx context.Context, companyID int) (*core.FiscalYear, error)

	// SetCurrentFiscalYear marks the given year current and clears the flag elsewhere.
	SetCurrentFiscalYear(ctx context.Context, fiscalYearID int) error

	// CloseFiscalYear closes the year and locks every verification in it.
	CloseFiscalYear(ctx context.Context, fiscalYearID int) error

	// CreateAccount adds an account to the chart; opening balance seeds current.
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*core.Account, error)

	// UpdateAccount renames or retypes an account.
	UpdateAccount(ctx context.Context, accountID int, name string, accountType core.AccountType) (*core.Account, error)

	// SetOpeningBalance replaces the opening balance, delta-adjusting current.
	SetOpeningBalance(ctx context.Context, accountID int, openingBalance decimal.Decimal) (*core.Account, error)

	// DeactivateAccount hides an account from new postings; history is kept.
	DeactivateAccount(ctx context.Context, accountID int) error

	// ReactivateAccount makes a deactivated account postable again.
	ReactivateAccount(ctx context.Context, accountID int) error

	// DeleteAccount removes an unused account. Posted activity, a default
	// role mapping or template use blocks deletion.
	DeleteAccount(ctx context.Context, accountID int) error

	// GetAccounts lists the chart for a fiscal year ordered by account number.
	GetAccounts(ctx context.Context, companyID, fiscalYearID int) ([]core.Account, error)

	// CheckLedger recomputes every cached balance from posted lines and
	// returns the accounts that drifted.
	CheckLedger(ctx context.Context, companyID, fiscalYearID int) ([]core.BalanceDrift, error)

	// CreateVerification posts a balanced verification with the next gapless
	// number in its series.
	CreateVerification(ctx context.Context, companyID, fiscalYearID int, input core.VerificationInput) (*core.Verification, error)

	// UpdateVerification edits metadata of an unlocked verification.
	UpdateVerification(ctx context.Context, verificationID int, transactionDate, description string) error

	// LockVerification makes a verification immutable. Idempotent.
	LockVerification(ctx context.Context, verificationID int) error

	// ReverseVerification posts an offsetting verification in the same series.
	ReverseVerification(ctx context.Context, verificationID int, description string) (*core.Verification, error)

	// GetVerification returns one verification with its lines.
	GetVerification(ctx context.Context, verificationID int) (*core.Verification, error)

	// ListVerifications lists verifications, optionally filtered by series.
	ListVerifications(ctx context.Context, companyID, fiscalYearID int, series string) ([]core.Verification, error)

	// SetDefaultAccount maps a role to an account for business-event posting.
	SetDefaultAccount(ctx context.Context, companyID int, role core.DefaultRole, accountID int) error

	// RemoveDefaultAccount clears a role mapping.
	RemoveDefaultAccount(ctx context.Context, companyID int, role core.DefaultRole) error

	// ListDefaultAccounts returns all role mappings for a company.
	ListDefaultAccounts(ctx context.Context, companyID int) ([]core.DefaultAccount, error)

	// InitializeDefaultAccounts maps unmapped roles to standard BAS accounts
	// present in the chart. Returns how many roles were mapped.
	InitializeDefaultAccounts(ctx context.Context, companyID, fiscalYearID int) (int, error)

	// CreatePostingTemplate saves a reusable template; formulas are parsed
	// and rejected at save time.
	CreatePostingTemplate(ctx context.Context, req SaveTemplateRequest) (*core.PostingTemplate, error)

	// UpdatePostingTemplate replaces a template's name and lines.
	UpdatePostingTemplate(ctx context.Context, templateID int, req SaveTemplateRequest) (*core.PostingTemplate, error)

	// DeletePostingTemplate removes a template and its lines.
	DeletePostingTemplate(ctx context.Context, templateID int) error

	// ListPostingTemplates lists templates ordered by sort order.
	ListPostingTemplates(ctx context.Context, companyID int) ([]core.PostingTemplate, error)

	// ReorderPostingTemplates persists a new display order.
	ReorderPostingTemplates(ctx context.Context, companyID int, orderedIDs []int) error

	// PreviewPostingTemplate expands a template for an amount without posting.
	PreviewPostingTemplate(ctx context.Context, templateID int, amount decimal.Decimal) (*core.TemplateResult, error)

	// PostTemplate expands a template and commits the result as a verification.
	PostTemplate(ctx context.Context, req PostTemplateRequest) (*core.Verification, error)

	// CreateCustomer adds a customer for invoicing.
	CreateCustomer(ctx context.Context, companyID int, name, email string) (*core.Customer, error)

	// ListCustomers returns all customers for a company.
	ListCustomers(ctx context.Context, companyID int) ([]core.Customer, error)

	// CreateSupplier adds a supplier for supplier invoices.
	CreateSupplier(ctx context.Context, companyID int, name, email string) (*core.Supplier, error)

	// ListSuppliers returns all suppliers for a company.
	ListSuppliers(ctx context.Context, companyID int) ([]core.Supplier, error)

	// CreateInvoice creates a draft customer invoice.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*core.Invoice, error)

	// UpdateInvoiceLines replaces the lines of a draft invoice.
	UpdateInvoiceLines(ctx context.Context, invoiceID int, lines []core.InvoiceLineItem) (*core.Invoice, error)

	// GetInvoice returns one invoice with lines and payment history.
	GetInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error)

	// ListInvoices lists a company's invoices, newest first.
	ListInvoices(ctx context.Context, companyID int) ([]core.Invoice, error)

	// IssueInvoice issues a draft invoice, posting receivable, revenue and
	// outgoing VAT on accrual basis.
	IssueInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*core.Invoice, error)

	// RegisterInvoicePayment books a full or partial payment against an
	// issued invoice.
	RegisterInvoicePayment(ctx context.Context, req PaymentRequest) (*core.Invoice, error)

	// CancelInvoice cancels a draft silently or reverses an unpaid issued invoice.
	CancelInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*core.Invoice, error)

	// CreateSupplierInvoice creates a draft supplier invoice.
	CreateSupplierInvoice(ctx context.Context, req CreateSupplierInvoiceRequest) (*core.SupplierInvoice, error)

	// UpdateSupplierInvoiceLines replaces the lines of a draft supplier invoice.
	UpdateSupplierInvoiceLines(ctx context.Context, supplierInvoiceID int, lines []core.SupplierInvoiceLineItem) (*core.SupplierInvoice, error)

	// GetSupplierInvoice returns one supplier invoice with lines and payments.
	GetSupplierInvoice(ctx context.Context, supplierInvoiceID int) (*core.SupplierInvoice, error)

	// ListSupplierInvoices lists a company's supplier invoices, newest first.
	ListSupplierInvoices(ctx context.Context, companyID int) ([]core.SupplierInvoice, error)

	// RegisterSupplierInvoice posts expense, incoming VAT and payable.
	RegisterSupplierInvoice(ctx context.Context, supplierInvoiceID, fiscalYearID int) (*core.SupplierInvoice, error)

	// PaySupplierInvoice books a full or partial payment against a
	// registered supplier invoice.
	PaySupplierInvoice(ctx context.Context, req PaymentRequest) (*core.SupplierInvoice, error)

	// GetAccountLedger returns the chronological movement of one account
	// with a running balance.
	GetAccountLedger(ctx context.Context, companyID, fiscalYearID, accountNumber int, fromDate, toDate string) (*core.LedgerReport, error)

	// GetTrialBalance returns opening, period movement and closing per account.
	GetTrialBalance(ctx context.Context, companyID, fiscalYearID int) (*TrialBalanceResult, error)

	// GetVATReport aggregates outgoing and incoming VAT for a period.
	GetVATReport(ctx context.Context, companyID int, fromDate, toDate string) (*core.VATReport, error)

	// ImportChart bulk-creates accounts, skipping numbers that already exist.
	ImportChart(ctx context.Context, companyID, fiscalYearID int, accounts []ImportAccountRequest) (*ImportResult, error)

	// ImportVerifications bulk-posts verifications in input order, stopping
	// at the first failure so series numbering stays contiguous.
	ImportVerifications(ctx context.Context, companyID, fiscalYearID int, inputs []core.VerificationInput) (*ImportResult, error)
}
