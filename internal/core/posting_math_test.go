package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testRoleAccounts = map[DefaultRole]int{
	RoleAccountsReceivable: 1510,
	RoleAccountsPayable:    2440,
	RoleBank:               1930,
	RoleRevenue25:          3001,
	RoleRevenue12:          3002,
	RoleRevenue6:           3003,
	RoleRevenue0:           3004,
	RoleOutgoingVAT25:      2611,
	RoleOutgoingVAT12:      2621,
	RoleOutgoingVAT6:       2631,
	RoleIncomingVAT25:      2641,
	RoleIncomingVAT12:      2641,
	RoleIncomingVAT6:       2641,
	RoleDefaultExpense:     4000,
}

func TestInvoiceLineAmounts(t *testing.T) {
	net, vat, gross := invoiceLineAmounts(dec("4"), dec("250"), dec("25"))
	if !net.Equal(dec("1000")) {
		t.Errorf("net: want 1000, got %s", net)
	}
	if !vat.Equal(dec("250")) {
		t.Errorf("vat: want 250, got %s", vat)
	}
	if !gross.Equal(dec("1250")) {
		t.Errorf("gross: want 1250, got %s", gross)
	}

	// Rounding happens on net before VAT so gross always equals net + vat.
	net, vat, gross = invoiceLineAmounts(dec("3"), dec("33.333"), dec("25"))
	if !gross.Equal(net.Add(vat)) {
		t.Errorf("gross %s != net %s + vat %s", gross, net, vat)
	}
}

func TestBuildIssuePostingLines_SingleRate(t *testing.T) {
	lines := []InvoiceLine{
		{Quantity: dec("1"), UnitPrice: dec("1000"), VATRate: dec("25")},
	}
	totals, total := invoiceRateTotals(lines)
	if !total.Equal(dec("1250")) {
		t.Fatalf("total: want 1250, got %s", total)
	}

	posting, err := buildIssuePostingLines(totals, total, testRoleAccounts, "Invoice 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posting) != 3 {
		t.Fatalf("want 3 posting lines, got %d", len(posting))
	}

	if posting[0].AccountNumber != 1510 || !posting[0].Debit.Equal(dec("1250")) {
		t.Errorf("receivable line wrong: %+v", posting[0])
	}
	if posting[1].AccountNumber != 3001 || !posting[1].Credit.Equal(dec("1000")) {
		t.Errorf("revenue line wrong: %+v", posting[1])
	}
	if posting[2].AccountNumber != 2611 || !posting[2].Credit.Equal(dec("250")) {
		t.Errorf("VAT line wrong: %+v", posting[2])
	}

	assertPostingBalanced(t, posting)
}

func TestBuildIssuePostingLines_MixedRates(t *testing.T) {
	lines := []InvoiceLine{
		{Quantity: dec("1"), UnitPrice: dec("1000"), VATRate: dec("25")},
		{Quantity: dec("2"), UnitPrice: dec("100"), VATRate: dec("12")},
		{Quantity: dec("1"), UnitPrice: dec("500"), VATRate: dec("0")},
	}
	totals, total := invoiceRateTotals(lines)
	// 1250 + 224 + 500
	if !total.Equal(dec("1974")) {
		t.Fatalf("total: want 1974, got %s", total)
	}

	posting, err := buildIssuePostingLines(totals, total, testRoleAccounts, "Invoice 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// AR + (revenue 25 + vat 25) + (revenue 12 + vat 12) + revenue 0, no VAT
	// line for the zero rate.
	if len(posting) != 6 {
		t.Fatalf("want 6 posting lines, got %d", len(posting))
	}
	for _, line := range posting {
		if line.AccountNumber == 3004 && !line.Credit.Equal(dec("500")) {
			t.Errorf("zero-rate revenue wrong: %+v", line)
		}
	}

	assertPostingBalanced(t, posting)
}

func TestBuildIssuePostingLines_MissingRole(t *testing.T) {
	lines := []InvoiceLine{
		{Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("25")},
	}
	totals, total := invoiceRateTotals(lines)

	partial := map[DefaultRole]int{
		RoleAccountsReceivable: 1510,
		RoleRevenue25:          3001,
		// outgoing_vat_25 deliberately unmapped
	}
	_, err := buildIssuePostingLines(totals, total, partial, "Invoice 3")
	if err == nil {
		t.Fatal("expected missing-role error, got nil")
	}
	if !IsReference(err) {
		t.Errorf("expected a reference error, got %T: %v", err, err)
	}
}

func TestBuildRegisterPostingLines(t *testing.T) {
	overrideAccount := 5010
	lines := []SupplierInvoiceLine{
		{LineOrder: 1, Amount: dec("1000"), VATRate: dec("25")},
		{LineOrder: 2, Amount: dec("200"), VATRate: dec("25"), ExpenseAccountNumber: &overrideAccount},
		{LineOrder: 3, Amount: dec("50"), VATRate: dec("0")},
	}

	posting, total, err := buildRegisterPostingLines(lines, testRoleAccounts, "Supplier invoice 42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1000 + 250 + 200 + 50 + 50 VAT on line 2
	if !total.Equal(dec("1550")) {
		t.Fatalf("total: want 1550, got %s", total)
	}

	// 3 expense debits, 1 incoming VAT debit, 1 payable credit.
	if len(posting) != 5 {
		t.Fatalf("want 5 posting lines, got %d", len(posting))
	}
	if posting[0].AccountNumber != 4000 || !posting[0].Debit.Equal(dec("1000")) {
		t.Errorf("default expense line wrong: %+v", posting[0])
	}
	if posting[1].AccountNumber != 5010 || !posting[1].Debit.Equal(dec("200")) {
		t.Errorf("override expense line wrong: %+v", posting[1])
	}
	if posting[3].AccountNumber != 2641 || !posting[3].Debit.Equal(dec("300")) {
		t.Errorf("incoming VAT line wrong: %+v", posting[3])
	}
	last := posting[len(posting)-1]
	if last.AccountNumber != 2440 || !last.Credit.Equal(dec("1550")) {
		t.Errorf("payable line wrong: %+v", last)
	}

	assertPostingBalanced(t, posting)
}

func TestPaymentStatusFor(t *testing.T) {
	total := dec("1250")

	if got := paymentStatusFor(dec("0"), total); got != PaymentUnpaid {
		t.Errorf("zero paid: want unpaid, got %s", got)
	}
	if got := paymentStatusFor(dec("500"), total); got != PaymentPartiallyPaid {
		t.Errorf("partial: want partially_paid, got %s", got)
	}
	if got := paymentStatusFor(dec("1250"), total); got != PaymentPaid {
		t.Errorf("exact: want paid, got %s", got)
	}
	if got := paymentStatusFor(dec("1249.99"), total); got != PaymentPaid {
		t.Errorf("within tolerance: want paid, got %s", got)
	}
	if got := paymentStatusFor(dec("1249.98"), total); got != PaymentPartiallyPaid {
		t.Errorf("outside tolerance: want partially_paid, got %s", got)
	}
}

func TestEvaluateTemplate(t *testing.T) {
	lines := []PostingTemplateLine{
		{LineOrder: 1, AccountNumber: 1930, Formula: "-{total}"},
		{LineOrder: 2, AccountNumber: 5010, Formula: "{total} * 0.8"},
		{LineOrder: 3, AccountNumber: 2641, Formula: "{total} * 0.2"},
	}

	result, err := evaluateTemplate("Rent", lines, dec("12500"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Lines) != 3 {
		t.Fatalf("want 3 lines, got %d", len(result.Lines))
	}
	if !result.Lines[0].Credit.Equal(dec("12500")) {
		t.Errorf("negative result should book a credit: %+v", result.Lines[0])
	}
	if !result.Lines[1].Debit.Equal(dec("10000")) {
		t.Errorf("net line wrong: %+v", result.Lines[1])
	}
	if !result.TotalDebit.Equal(result.TotalCredit) {
		t.Errorf("totals differ: %s vs %s", result.TotalDebit, result.TotalCredit)
	}
}

func TestEvaluateTemplate_Degenerate(t *testing.T) {
	lines := []PostingTemplateLine{
		{LineOrder: 1, AccountNumber: 1930, Formula: "{total} * 0"},
		{LineOrder: 2, AccountNumber: 5010, Formula: "{total}"},
	}
	if _, err := evaluateTemplate("Broken", lines, dec("100")); err == nil {
		t.Fatal("expected zero-line error, got nil")
	}
}

func TestEvaluateTemplate_Unbalanced(t *testing.T) {
	lines := []PostingTemplateLine{
		{LineOrder: 1, AccountNumber: 1930, Formula: "-{total}"},
		{LineOrder: 2, AccountNumber: 5010, Formula: "{total} * 0.9"},
	}
	_, err := evaluateTemplate("Skewed", lines, dec("1000"))
	if err == nil {
		t.Fatal("expected unbalanced error, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("expected a validation error, got %T: %v", err, err)
	}
}

func assertPostingBalanced(t *testing.T, lines []LineInput) {
	t.Helper()
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	for _, line := range lines {
		totalDebit = totalDebit.Add(line.Debit)
		totalCredit = totalCredit.Add(line.Credit)
	}
	if !totalDebit.Equal(totalCredit) {
		t.Errorf("posting not balanced: debits %s != credits %s", totalDebit, totalCredit)
	}
}
