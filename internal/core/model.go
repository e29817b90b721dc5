package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountingBasis controls whether invoice issuance posts to the ledger
// (accrual) or only payment does (cash).
type AccountingBasis string

const (
	BasisAccrual AccountingBasis = "accrual"
	BasisCash    AccountingBasis = "cash"
)

type Company struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	OrgNumber string          `json:"org_number"`
	Basis     AccountingBasis `json:"basis"`
	VATPeriod string          `json:"vat_period"` // monthly, quarterly, yearly
	CreatedAt time.Time       `json:"created_at"`
}

// FiscalYear scopes accounts and verifications. Dates are ISO yyyy-mm-dd.
// Ranges for one company never overlap.
type FiscalYear struct {
	ID        int    `json:"id"`
	CompanyID int    `json:"company_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Closed    bool   `json:"closed"`
	Current   bool   `json:"current"`
}

type AccountType string

const (
	AccountAsset           AccountType = "asset"
	AccountEquityLiability AccountType = "equity_liability"
	AccountRevenue         AccountType = "revenue"
	AccountMaterialCost    AccountType = "material_cost"
	AccountExternalCost    AccountType = "external_cost"
	AccountPersonnelCost   AccountType = "personnel_cost"
	AccountFinancialCost   AccountType = "financial_cost"
)

// Account is one row in a company's chart for one fiscal year.
// CurrentBalance is maintained as opening_balance + Σ(debit − credit) over
// all lines posted to the account; CheckBalances recomputes it as an oracle.
type Account struct {
	ID             int             `json:"id"`
	CompanyID      int             `json:"company_id"`
	FiscalYearID   int             `json:"fiscal_year_id"`
	Number         int             `json:"account_number"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"account_type"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Verification is a single double-entry journal transaction, identified by
// (series, verification_number) within its company and fiscal year. Once
// locked it is immutable; corrections go through Reverse.
type Verification struct {
	ID              int               `json:"id"`
	CompanyID       int               `json:"company_id"`
	FiscalYearID    int               `json:"fiscal_year_id"`
	Series          string            `json:"series"`
	Number          int64             `json:"verification_number"`
	TransactionDate string            `json:"transaction_date"`
	Description     string            `json:"description"`
	Locked          bool              `json:"locked"`
	CreatedAt       time.Time         `json:"created_at"`
	Lines           []TransactionLine `json:"lines"`
}

type TransactionLine struct {
	ID             int             `json:"id"`
	VerificationID int             `json:"verification_id"`
	LineOrder      int             `json:"line_order"`
	AccountID      int             `json:"account_id"`
	AccountNumber  int             `json:"account_number"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	Description    string          `json:"description"`
}

// DefaultRole is a semantic account role a company maps to one concrete
// ledger account. The enumeration is fixed; at most one mapping per role.
type DefaultRole string

const (
	RoleRevenue25          DefaultRole = "revenue_25"
	RoleRevenue12          DefaultRole = "revenue_12"
	RoleRevenue6           DefaultRole = "revenue_6"
	RoleRevenue0           DefaultRole = "revenue_0"
	RoleOutgoingVAT25      DefaultRole = "outgoing_vat_25"
	RoleOutgoingVAT12      DefaultRole = "outgoing_vat_12"
	RoleOutgoingVAT6       DefaultRole = "outgoing_vat_6"
	RoleIncomingVAT25      DefaultRole = "incoming_vat_25"
	RoleIncomingVAT12      DefaultRole = "incoming_vat_12"
	RoleIncomingVAT6       DefaultRole = "incoming_vat_6"
	RoleAccountsReceivable DefaultRole = "accounts_receivable"
	RoleAccountsPayable    DefaultRole = "accounts_payable"
	RoleDefaultExpense     DefaultRole = "default_expense"
	RoleBank               DefaultRole = "bank"
)

// AllDefaultRoles lists every member of the role enumeration.
var AllDefaultRoles = []DefaultRole{
	RoleRevenue25, RoleRevenue12, RoleRevenue6, RoleRevenue0,
	RoleOutgoingVAT25, RoleOutgoingVAT12, RoleOutgoingVAT6,
	RoleIncomingVAT25, RoleIncomingVAT12, RoleIncomingVAT6,
	RoleAccountsReceivable, RoleAccountsPayable, RoleDefaultExpense, RoleBank,
}

type DefaultAccount struct {
	ID            int         `json:"id"`
	CompanyID     int         `json:"company_id"`
	Role          DefaultRole `json:"role"`
	AccountID     int         `json:"account_id"`
	AccountNumber int         `json:"account_number"`
}

// PostingTemplate is a reusable recipe for generating a balanced line set
// from one scalar amount. Line formulas reference {total}.
type PostingTemplate struct {
	ID        int                   `json:"id"`
	CompanyID int                   `json:"company_id"`
	Name      string                `json:"name"`
	SortOrder int                   `json:"sort_order"`
	Lines     []PostingTemplateLine `json:"lines"`
}

type PostingTemplateLine struct {
	ID            int    `json:"id"`
	TemplateID    int    `json:"template_id"`
	LineOrder     int    `json:"line_order"`
	AccountNumber int    `json:"account_number"`
	Formula       string `json:"formula"`
	Description   string `json:"description"`
}

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceIssued    InvoiceStatus = "issued"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
)

type Customer struct {
	ID        int       `json:"id"`
	CompanyID int       `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Supplier struct {
	ID        int       `json:"id"`
	CompanyID int       `json:"company_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Invoice is a customer invoice. Status moves forward only
// (draft → issued → cancelled); payment status is tracked independently.
type Invoice struct {
	ID             int              `json:"id"`
	CompanyID      int              `json:"company_id"`
	CustomerID     int              `json:"customer_id"`
	CustomerName   string           `json:"customer_name"`
	InvoiceDate    string           `json:"invoice_date"`
	DueDate        string           `json:"due_date"`
	Status         InvoiceStatus    `json:"status"`
	PaymentStatus  PaymentStatus    `json:"payment_status"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	PaidAmount     decimal.Decimal  `json:"paid_amount"`
	SentAt         *time.Time       `json:"sent_at,omitempty"`
	VerificationID *int             `json:"verification_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Lines          []InvoiceLine    `json:"lines"`
	Payments       []InvoicePayment `json:"payments"`
}

type InvoiceLine struct {
	ID          int             `json:"id"`
	InvoiceID   int             `json:"invoice_id"`
	LineOrder   int             `json:"line_order"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"` // percent: 25, 12, 6 or 0
}

type InvoicePayment struct {
	ID             int             `json:"id"`
	InvoiceID      int             `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentDate    string          `json:"payment_date"`
	Reference      string          `json:"reference"`
	VerificationID *int            `json:"verification_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SupplierInvoice struct {
	ID             int                      `json:"id"`
	CompanyID      int                      `json:"company_id"`
	SupplierID     int                      `json:"supplier_id"`
	SupplierName   string                   `json:"supplier_name"`
	InvoiceNumber  string                   `json:"invoice_number"`
	InvoiceDate    string                   `json:"invoice_date"`
	DueDate        string                   `json:"due_date"`
	Status         InvoiceStatus            `json:"status"`
	PaymentStatus  PaymentStatus            `json:"payment_status"`
	TotalAmount    decimal.Decimal          `json:"total_amount"`
	PaidAmount     decimal.Decimal          `json:"paid_amount"`
	VerificationID *int                     `json:"verification_id,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	Lines          []SupplierInvoiceLine    `json:"lines"`
	Payments       []SupplierInvoicePayment `json:"payments"`
}

// SupplierInvoiceLine carries a net amount. ExpenseAccountNumber overrides
// the default_expense role for this line when non-nil.
type SupplierInvoiceLine struct {
	ID                   int             `json:"id"`
	SupplierInvoiceID    int             `json:"supplier_invoice_id"`
	LineOrder            int             `json:"line_order"`
	Description          string          `json:"description"`
	Amount               decimal.Decimal `json:"amount"`
	VATRate              decimal.Decimal `json:"vat_rate"`
	ExpenseAccountNumber *int            `json:"expense_account_number,omitempty"`
}

type SupplierInvoicePayment struct {
	ID                int             `json:"id"`
	SupplierInvoiceID int             `json:"supplier_invoice_id"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentDate       string          `json:"payment_date"`
	Reference         string          `json:"reference"`
	VerificationID    *int            `json:"verification_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
