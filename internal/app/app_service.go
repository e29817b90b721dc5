package app

import (
	"context"
	"fmt"

	"bookkeeping-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type appService struct {
	pool             *pgxpool.Pool
	companies        core.CompanyService
	fiscalYears      core.FiscalYearService
	accounts         core.AccountService
	verifications    core.VerificationService
	defaults         core.DefaultAccountService
	templates        core.TemplateService
	invoices         core.InvoiceService
	supplierInvoices core.SupplierInvoiceService
	reports          core.ReportingService
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	pool *pgxpool.Pool,
	companies core.CompanyService,
	fiscalYears core.FiscalYearService,
	accounts core.AccountService,
	verifications core.VerificationService,
	defaults core.DefaultAccountService,
	templates core.TemplateService,
	invoices core.InvoiceService,
	supplierInvoices core.SupplierInvoiceService,
	reports core.ReportingService,
) ApplicationService {
	return &appService{
		pool:             pool,
		companies:        companies,
		fiscalYears:      fiscalYears,
		accounts:         accounts,
		verifications:    verifications,
		defaults:         defaults,
		templates:        templates,
		invoices:         invoices,
		supplierInvoices: supplierInvoices,
		reports:          reports,
	}
}

func (s *appService) CreateCompany(ctx context.Context, req CreateCompanyRequest) (*core.Company, error) {
	return s.companies.CreateCompany(ctx, req.Name, req.OrgNumber, req.Basis, req.VATPeriod)
}

func (s *appService) GetCompany(ctx context.Context, companyID int) (*core.Company, error) {
	return s.companies.GetCompany(ctx, companyID)
}

func (s *appService) CreateFiscalYear(ctx context.Context, companyID int, startDate, endDate string, current bool) (*core.FiscalYear, error) {
	return s.fiscalYears.Create(ctx, companyID, startDate, endDate, current)
}

func (s *appService) GetCurrentFiscalYear(ctx context.Context, companyID int) (*core.FiscalYear, error) {
	return s.fiscalYears.GetCurrent(ctx, companyID)
}

func (s *appService) SetCurrentFiscalYear(ctx context.Context, fiscalYearID int) error {
	return s.fiscalYears.SetCurrent(ctx, fiscalYearID)
}

func (s *appService) CloseFiscalYear(ctx context.Context, fiscalYearID int) error {
	return s.fiscalYears.Close(ctx, fiscalYearID)
}

func (s *appService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*core.Account, error) {
	return s.accounts.Create(ctx, req.CompanyID, req.FiscalYearID, req.AccountNumber,
		req.Name, req.AccountType, req.OpeningBalance)
}

func (s *appService) UpdateAccount(ctx context.Context, accountID int, name string, accountType core.AccountType) (*core.Account, error) {
	return s.accounts.Update(ctx, accountID, name, accountType)
}

func (s *appService) SetOpeningBalance(ctx context.Context, accountID int, openingBalance decimal.Decimal) (*core.Account, error) {
	return s.accounts.SetOpeningBalance(ctx, accountID, openingBalance)
}

func (s *appService) DeactivateAccount(ctx context.Context, accountID int) error {
	return s.accounts.Deactivate(ctx, accountID)
}

func (s *appService) ReactivateAccount(ctx context.Context, accountID int) error {
	return s.accounts.Reactivate(ctx, accountID)
}

func (s *appService) DeleteAccount(ctx context.Context, accountID int) error {
	return s.accounts.Delete(ctx, accountID)
}

func (s *appService) GetAccounts(ctx context.Context, companyID, fiscalYearID int) ([]core.Account, error) {
	return s.accounts.List(ctx, companyID, fiscalYearID)
}

func (s *appService) CheckLedger(ctx context.Context, companyID, fiscalYearID int) ([]core.BalanceDrift, error) {
	return s.accounts.CheckBalances(ctx, companyID, fiscalYearID)
}

func (s *appService) CreateVerification(ctx context.Context, companyID, fiscalYearID int, input core.VerificationInput) (*core.Verification, error) {
	return s.verifications.Create(ctx, companyID, fiscalYearID, input)
}

func (s *appService) UpdateVerification(ctx context.Context, verificationID int, transactionDate, description string) error {
	return s.verifications.Update(ctx, verificationID, transactionDate, description)
}

func (s *appService) LockVerification(ctx context.Context, verificationID int) error {
	return s.verifications.Lock(ctx, verificationID)
}

func (s *appService) ReverseVerification(ctx context.Context, verificationID int, description string) (*core.Verification, error) {
	return s.verifications.Reverse(ctx, verificationID, description)
}

func (s *appService) GetVerification(ctx context.Context, verificationID int) (*core.Verification, error) {
	return s.verifications.Get(ctx, verificationID)
}

func (s *appService) ListVerifications(ctx context.Context, companyID, fiscalYearID int, series string) ([]core.Verification, error) {
	return s.verifications.List(ctx, companyID, fiscalYearID, series)
}

func (s *appService) SetDefaultAccount(ctx context.Context, companyID int, role core.DefaultRole, accountID int) error {
	return s.defaults.SetDefault(ctx, companyID, role, accountID)
}

func (s *appService) RemoveDefaultAccount(ctx context.Context, companyID int, role core.DefaultRole) error {
	return s.defaults.RemoveDefault(ctx, companyID, role)
}

func (s *appService) ListDefaultAccounts(ctx context.Context, companyID int) ([]core.DefaultAccount, error) {
	return s.defaults.List(ctx, companyID)
}

func (s *appService) InitializeDefaultAccounts(ctx context.Context, companyID, fiscalYearID int) (int, error) {
	return s.defaults.InitializeDefaults(ctx, companyID, fiscalYearID)
}

func (s *appService) CreatePostingTemplate(ctx context.Context, req SaveTemplateRequest) (*core.PostingTemplate, error) {
	return s.templates.Create(ctx, req.CompanyID, req.Name, req.Lines)
}

func (s *appService) UpdatePostingTemplate(ctx context.Context, templateID int, req SaveTemplateRequest) (*core.PostingTemplate, error) {
	return s.templates.Update(ctx, templateID, req.Name, req.Lines)
}

func (s *appService) DeletePostingTemplate(ctx context.Context, templateID int) error {
	return s.templates.Delete(ctx, templateID)
}

func (s *appService) ListPostingTemplates(ctx context.Context, companyID int) ([]core.PostingTemplate, error) {
	return s.templates.List(ctx, companyID)
}

func (s *appService) ReorderPostingTemplates(ctx context.Context, companyID int, orderedIDs []int) error {
	return s.templates.Reorder(ctx, companyID, orderedIDs)
}

func (s *appService) PreviewPostingTemplate(ctx context.Context, templateID int, amount decimal.Decimal) (*core.TemplateResult, error) {
	return s.templates.Execute(ctx, templateID, amount)
}

func (s *appService) PostTemplate(ctx context.Context, req PostTemplateRequest) (*core.Verification, error) {
	return s.templates.Post(ctx, req.CompanyID, req.FiscalYearID, req.TemplateID,
		req.Amount, req.TransactionDate, req.Series, s.verifications)
}

func (s *appService) CreateCustomer(ctx context.Context, companyID int, name, email string) (*core.Customer, error) {
	return s.companies.CreateCustomer(ctx, companyID, name, email)
}

func (s *appService) ListCustomers(ctx context.Context, companyID int) ([]core.Customer, error) {
	return s.companies.ListCustomers(ctx, companyID)
}

func (s *appService) CreateSupplier(ctx context.Context, companyID int, name, email string) (*core.Supplier, error) {
	return s.companies.CreateSupplier(ctx, companyID, name, email)
}

func (s *appService) ListSuppliers(ctx context.Context, companyID int) ([]core.Supplier, error) {
	return s.companies.ListSuppliers(ctx, companyID)
}

func (s *appService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*core.Invoice, error) {
	return s.invoices.CreateInvoice(ctx, req.CompanyID, req.CustomerID, req.InvoiceDate, req.DueDate, req.Lines)
}

func (s *appService) UpdateInvoiceLines(ctx context.Context, invoiceID int, lines []core.InvoiceLineItem) (*core.Invoice, error) {
	return s.invoices.UpdateInvoiceLines(ctx, invoiceID, lines)
}

func (s *appService) GetInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error) {
	return s.invoices.GetInvoice(ctx, invoiceID)
}

func (s *appService) ListInvoices(ctx context.Context, companyID int) ([]core.Invoice, error) {
	return s.invoices.ListInvoices(ctx, companyID)
}

func (s *appService) IssueInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*core.Invoice, error) {
	return s.invoices.IssueInvoice(ctx, invoiceID, fiscalYearID)
}

func (s *appService) RegisterInvoicePayment(ctx context.Context, req PaymentRequest) (*core.Invoice, error) {
	return s.invoices.RegisterPayment(ctx, req.InvoiceID, req.FiscalYearID, req.Amount, req.PaymentDate)
}

func (s *appService) CancelInvoice(ctx context.Context, invoiceID, fiscalYearID int) (*core.Invoice, error) {
	return s.invoices.CancelInvoice(ctx, invoiceID, fiscalYearID)
}

func (s *appService) CreateSupplierInvoice(ctx context.Context, req CreateSupplierInvoiceRequest) (*core.SupplierInvoice, error) {
	return s.supplierInvoices.CreateSupplierInvoice(ctx, req.CompanyID, req.SupplierID,
		req.InvoiceNumber, req.InvoiceDate, req.DueDate, req.Lines)
}

func (s *appService) UpdateSupplierInvoiceLines(ctx context.Context, supplierInvoiceID int, lines []core.SupplierInvoiceLineItem) (*core.SupplierInvoice, error) {
	return s.supplierInvoices.UpdateSupplierInvoiceLines(ctx, supplierInvoiceID, lines)
}

func (s *appService) GetSupplierInvoice(ctx context.Context, supplierInvoiceID int) (*core.SupplierInvoice, error) {
	return s.supplierInvoices.GetSupplierInvoice(ctx, supplierInvoiceID)
}

func (s *appService) ListSupplierInvoices(ctx context.Context, companyID int) ([]core.SupplierInvoice, error) {
	return s.supplierInvoices.ListSupplierInvoices(ctx, companyID)
}

func (s *appService) RegisterSupplierInvoice(ctx context.Context, supplierInvoiceID, fiscalYearID int) (*core.SupplierInvoice, error) {
	return s.supplierInvoices.RegisterSupplierInvoice(ctx, supplierInvoiceID, fiscalYearID)
}

func (s *appService) PaySupplierInvoice(ctx context.Context, req PaymentRequest) (*core.SupplierInvoice, error) {
	return s.supplierInvoices.PaySupplierInvoice(ctx, req.InvoiceID, req.FiscalYearID, req.Amount, req.PaymentDate)
}

func (s *appService) GetAccountLedger(ctx context.Context, companyID, fiscalYearID, accountNumber int, fromDate, toDate string) (*core.LedgerReport, error) {
	return s.reports.AccountLedger(ctx, companyID, fiscalYearID, accountNumber, fromDate, toDate)
}

func (s *appService) GetTrialBalance(ctx context.Context, companyID, fiscalYearID int) (*TrialBalanceResult, error) {
	company, err := s.companies.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	year, err := s.fiscalYears.Get(ctx, fiscalYearID)
	if err != nil {
		return nil, err
	}
	rows, err := s.reports.TrialBalance(ctx, companyID, fiscalYearID)
	if err != nil {
		return nil, err
	}
	return &TrialBalanceResult{
		CompanyID:   companyID,
		CompanyName: company.Name,
		FiscalYear:  year,
		Rows:        rows,
	}, nil
}

func (s *appService) GetVATReport(ctx context.Context, companyID int, fromDate, toDate string) (*core.VATReport, error) {
	return s.reports.VATReport(ctx, companyID, fromDate, toDate)
}

// ImportChart bulk-creates accounts. Accounts whose number already exists in
// the fiscal year are skipped, not treated as errors, so re-imports are safe.
func (s *appService) ImportChart(ctx context.Context, companyID, fiscalYearID int, accounts []ImportAccountRequest) (*ImportResult, error) {
	result := &ImportResult{}
	for _, a := range accounts {
		_, err := s.accounts.Create(ctx, companyID, fiscalYearID, a.AccountNumber,
			a.Name, a.AccountType, a.OpeningBalance)
		if err != nil {
			if core.IsConflict(err) {
				result.Skipped++
				continue
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("account %d: %v", a.AccountNumber, err))
			continue
		}
		result.Imported++
	}
	return result, nil
}

// ImportVerifications posts verifications in input order and stops at the
// first failure. Stopping keeps the series numbering contiguous with the
// source material instead of importing around a hole.
func (s *appService) ImportVerifications(ctx context.Context, companyID, fiscalYearID int, inputs []core.VerificationInput) (*ImportResult, error) {
	result := &ImportResult{}
	for i, input := range inputs {
		if _, err := s.verifications.Create(ctx, companyID, fiscalYearID, input); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("verification %d: %v", i+1, err))
			return result, err
		}
		result.Imported++
	}
	return result, nil
}
