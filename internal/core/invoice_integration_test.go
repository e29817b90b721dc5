package core_test

import (
	"context"
	"sync"
	"testing"

	"bookkeeping-engine/internal/core"
)

func TestInvoice_IssueAccrualPostsVerification(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if inv.Status != core.InvoiceDraft || inv.PaymentStatus != core.PaymentUnpaid {
		t.Fatalf("new invoice state wrong: %s / %s", inv.Status, inv.PaymentStatus)
	}
	if !inv.TotalAmount.Equal(d("1250")) {
		t.Fatalf("total: want 1250, got %s", inv.TotalAmount)
	}

	issued, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID)
	if err != nil {
		t.Fatalf("IssueInvoice failed: %v", err)
	}
	if issued.Status != core.InvoiceIssued {
		t.Errorf("status: want issued, got %s", issued.Status)
	}
	if issued.VerificationID == nil {
		t.Fatal("issued invoice must reference its verification")
	}
	if issued.SentAt == nil {
		t.Error("issued invoice must have sent_at set")
	}

	if got := accountBalance(t, pool, fx, 1510); !got.Equal(d("1250")) {
		t.Errorf("receivable: want 1250, got %s", got)
	}
	if got := accountBalance(t, pool, fx, 3001); !got.Equal(d("-1000")) {
		t.Errorf("revenue: want -1000, got %s", got)
	}
	if got := accountBalance(t, pool, fx, 2611); !got.Equal(d("-250")) {
		t.Errorf("outgoing VAT: want -250, got %s", got)
	}

	// Issuing twice must fail.
	if _, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID); err == nil {
		t.Fatal("expected second issue to fail")
	}
	assertCleanLedger(t, pool, fx)
}

func TestInvoice_IssueCashBasisDoesNotPost(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisCash)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	issued, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID)
	if err != nil {
		t.Fatalf("IssueInvoice failed: %v", err)
	}
	if issued.Status != core.InvoiceIssued {
		t.Errorf("status: want issued, got %s", issued.Status)
	}
	if issued.VerificationID != nil {
		t.Error("cash basis issue must not post a verification")
	}
	if got := accountBalance(t, pool, fx, 1510); !got.IsZero() {
		t.Errorf("receivable on cash basis: want 0, got %s", got)
	}
}

func TestInvoice_PartialPayments(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if _, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID); err != nil {
		t.Fatalf("IssueInvoice failed: %v", err)
	}

	after, err := invoices.RegisterPayment(ctx, inv.ID, fx.FiscalYear.ID, d("500"), "2026-02-15")
	if err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	if after.PaymentStatus != core.PaymentPartiallyPaid {
		t.Errorf("after 500: want partially_paid, got %s", after.PaymentStatus)
	}
	if !after.PaidAmount.Equal(d("500")) {
		t.Errorf("paid amount: want 500, got %s", after.PaidAmount)
	}

	// Overpayment on the open amount is rejected.
	if _, err := invoices.RegisterPayment(ctx, inv.ID, fx.FiscalYear.ID, d("1000"), "2026-02-20"); err == nil {
		t.Fatal("expected overpayment to be rejected")
	}

	after, err = invoices.RegisterPayment(ctx, inv.ID, fx.FiscalYear.ID, d("750"), "2026-02-20")
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if after.PaymentStatus != core.PaymentPaid {
		t.Errorf("after full payment: want paid, got %s", after.PaymentStatus)
	}
	if !after.PaidAmount.Equal(d("1250")) {
		t.Errorf("paid amount: want 1250, got %s", after.PaidAmount)
	}
	if len(after.Payments) != 2 {
		t.Errorf("payment history: want 2 entries, got %d", len(after.Payments))
	}
	for _, p := range after.Payments {
		if p.VerificationID == nil {
			t.Error("each payment must have its own verification")
		}
		if p.Reference == "" {
			t.Error("each payment must carry a reference")
		}
	}

	if got := accountBalance(t, pool, fx, 1510); !got.IsZero() {
		t.Errorf("receivable after full payment: want 0, got %s", got)
	}
	if got := accountBalance(t, pool, fx, 1930); !got.Equal(d("1250")) {
		t.Errorf("bank after full payment: want 1250, got %s", got)
	}
	assertCleanLedger(t, pool, fx)
}

func TestInvoice_CancelIssuedUnpaidReverses(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if _, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID); err != nil {
		t.Fatalf("IssueInvoice failed: %v", err)
	}

	cancelled, err := invoices.CancelInvoice(ctx, inv.ID, fx.FiscalYear.ID)
	if err != nil {
		t.Fatalf("CancelInvoice failed: %v", err)
	}
	if cancelled.Status != core.InvoiceCancelled {
		t.Errorf("status: want cancelled, got %s", cancelled.Status)
	}
	for _, number := range []int{1510, 3001, 2611} {
		if got := accountBalance(t, pool, fx, number); !got.IsZero() {
			t.Errorf("account %d after cancellation: want 0, got %s", number, got)
		}
	}
	assertCleanLedger(t, pool, fx)
}

func TestInvoice_CancelWithPaymentsRejected(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if _, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID); err != nil {
		t.Fatalf("IssueInvoice failed: %v", err)
	}
	if _, err := invoices.RegisterPayment(ctx, inv.ID, fx.FiscalYear.ID, d("100"), "2026-02-15"); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	_, err = invoices.CancelInvoice(ctx, inv.ID, fx.FiscalYear.ID)
	if err == nil {
		t.Fatal("expected cancellation with payments to fail")
	}
	if !core.IsConflict(err) {
		t.Errorf("expected a conflict error, got %T: %v", err, err)
	}
}

func TestInvoice_UpdateLinesDraftOnly(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	updated, err := invoices.UpdateInvoiceLines(ctx, inv.ID, []core.InvoiceLineItem{
		{Description: "Consulting", Quantity: d("2"), UnitPrice: d("1000"), VATRate: d("25")},
	})
	if err != nil {
		t.Fatalf("UpdateInvoiceLines failed: %v", err)
	}
	if !updated.TotalAmount.Equal(d("2500")) {
		t.Errorf("updated total: want 2500, got %s", updated.TotalAmount)
	}

	if _, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID); err != nil {
		t.Fatalf("IssueInvoice failed: %v", err)
	}
	_, err = invoices.UpdateInvoiceLines(ctx, inv.ID, []core.InvoiceLineItem{
		{Description: "Consulting", Quantity: d("3"), UnitPrice: d("1000"), VATRate: d("25")},
	})
	if err == nil {
		t.Fatal("expected editing an issued invoice to fail")
	}
	if !core.IsConflict(err) {
		t.Errorf("expected a conflict error, got %T: %v", err, err)
	}
}

func TestInvoice_ConcurrentIssuePostsOnce(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	// Racing issuers all observe the draft; the row lock must let exactly
	// one of them post.
	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !core.IsConflict(err) {
			t.Errorf("losing issuer: expected a conflict error, got %T: %v", err, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("want exactly 1 successful issue, got %d", succeeded)
	}

	posted, err := verifications.List(ctx, fx.Company.ID, fx.FiscalYear.ID, "F")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(posted) != 1 {
		t.Fatalf("want exactly 1 invoice verification, got %d", len(posted))
	}
	if got := accountBalance(t, pool, fx, 1510); !got.Equal(d("1250")) {
		t.Errorf("receivable: want 1250, got %s", got)
	}
	assertCleanLedger(t, pool, fx)
}

func TestInvoice_ConcurrentPaymentsAccumulate(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	defaults := core.NewDefaultAccountService(pool)
	invoices := core.NewInvoiceService(pool, verifications, defaults)

	inv, err := invoices.CreateInvoice(ctx, fx.Company.ID, fx.CustomerID, "2026-02-01", "2026-03-01",
		[]core.InvoiceLineItem{
			{Description: "Consulting", Quantity: d("1"), UnitPrice: d("1000"), VATRate: d("25")},
		})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if _, err := invoices.IssueInvoice(ctx, inv.ID, fx.FiscalYear.ID); err != nil {
		t.Fatalf("IssueInvoice failed: %v", err)
	}

	// Two racing 500 payments both fit in the 1250 total. Each must see the
	// other's cumulative effect, not a stale paid amount.
	const workers = 2
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := invoices.RegisterPayment(ctx, inv.ID, fx.FiscalYear.ID, d("500"), "2026-02-15")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent payment failed: %v", err)
		}
	}

	after, err := invoices.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if !after.PaidAmount.Equal(d("1000")) {
		t.Errorf("paid amount: want 1000, got %s", after.PaidAmount)
	}
	if after.PaymentStatus != core.PaymentPartiallyPaid {
		t.Errorf("payment status: want partially_paid, got %s", after.PaymentStatus)
	}
	if len(after.Payments) != workers {
		t.Errorf("payment history: want %d entries, got %d", workers, len(after.Payments))
	}

	// The invoice and the ledger agree.
	if got := accountBalance(t, pool, fx, 1930); !got.Equal(d("1000")) {
		t.Errorf("bank: want 1000, got %s", got)
	}
	if got := accountBalance(t, pool, fx, 1510); !got.Equal(d("250")) {
		t.Errorf("receivable: want 250, got %s", got)
	}
	assertCleanLedger(t, pool, fx)
}
