package app

import (
	"github.com/shopspring/decimal"

	"bookkeeping-engine/internal/core"
)

// CreateCompanyRequest is the input for creating a new company.
type CreateCompanyRequest struct {
	Name      string
	OrgNumber string
	Basis     core.AccountingBasis // accrual | cash
	VATPeriod string               // monthly | quarterly | yearly; empty means quarterly
}

// CreateAccountRequest is the input for adding one account to the chart.
type CreateAccountRequest struct {
	CompanyID      int
	FiscalYearID   int
	AccountNumber  int
	Name           string
	AccountType    core.AccountType
	OpeningBalance decimal.Decimal
}

// SaveTemplateRequest is the input for creating or replacing a posting template.
type SaveTemplateRequest struct {
	CompanyID int
	Name      string
	Lines     []core.TemplateLineInput
}

// PostTemplateRequest is the input for expanding a template into a verification.
type PostTemplateRequest struct {
	CompanyID       int
	FiscalYearID    int
	TemplateID      int
	Amount          decimal.Decimal
	TransactionDate string // YYYY-MM-DD
	Series          string
}

// CreateInvoiceRequest is the input for creating a draft customer invoice.
type CreateInvoiceRequest struct {
	CompanyID   int
	CustomerID  int
	InvoiceDate string // YYYY-MM-DD
	DueDate     string // YYYY-MM-DD
	Lines       []core.InvoiceLineItem
}

// CreateSupplierInvoiceRequest is the input for creating a draft supplier invoice.
type CreateSupplierInvoiceRequest struct {
	CompanyID     int
	SupplierID    int
	InvoiceNumber string // the supplier's own invoice number
	InvoiceDate   string // YYYY-MM-DD
	DueDate       string // YYYY-MM-DD
	Lines         []core.SupplierInvoiceLineItem
}

// PaymentRequest is the input for registering a payment against a customer
// or supplier invoice.
type PaymentRequest struct {
	InvoiceID    int
	FiscalYearID int
	Amount       decimal.Decimal
	PaymentDate  string // YYYY-MM-DD
}

// ImportAccountRequest is one account row in a chart import.
type ImportAccountRequest struct {
	AccountNumber  int
	Name           string
	AccountType    core.AccountType
	OpeningBalance decimal.Decimal
}
