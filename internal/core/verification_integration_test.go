package core_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"bookkeeping-engine/internal/core"
)

func simpleInput(series, date string) core.VerificationInput {
	return core.VerificationInput{
		Series:          series,
		TransactionDate: date,
		Description:     "Test posting",
		Lines: []core.LineInput{
			{AccountNumber: 1930, Debit: d("1250.00")},
			{AccountNumber: 3001, Credit: d("1000.00")},
			{AccountNumber: 2611, Credit: d("250.00")},
		},
	}
}

func TestVerification_CreateUpdatesBalances(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)

	v, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if v.Number != 1 {
		t.Errorf("first verification in series: want number 1, got %d", v.Number)
	}
	if len(v.Lines) != 3 {
		t.Errorf("want 3 lines, got %d", len(v.Lines))
	}

	if got := accountBalance(t, pool, fx, 1930); !got.Equal(d("1250")) {
		t.Errorf("bank balance: want 1250, got %s", got)
	}
	if got := accountBalance(t, pool, fx, 3001); !got.Equal(d("-1000")) {
		t.Errorf("revenue balance: want -1000, got %s", got)
	}
	if got := accountBalance(t, pool, fx, 2611); !got.Equal(d("-250")) {
		t.Errorf("VAT balance: want -250, got %s", got)
	}

	assertCleanLedger(t, pool, fx)
}

func TestVerification_RejectsUnknownAccount(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)

	input := core.VerificationInput{
		Series:          "A",
		TransactionDate: "2026-02-10",
		Lines: []core.LineInput{
			{AccountNumber: 9999, Debit: d("100")},
			{AccountNumber: 3001, Credit: d("100")},
		},
	}
	_, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, input)
	if err == nil {
		t.Fatal("expected unknown-account error, got nil")
	}
	if !core.IsReference(err) {
		t.Errorf("expected a reference error, got %T: %v", err, err)
	}

	// Nothing may have been written, including the sequence counter.
	v, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create after failed attempt: %v", err)
	}
	if v.Number != 1 {
		t.Errorf("failed attempt must not consume a number: want 1, got %d", v.Number)
	}
}

func TestVerification_RejectsDateOutsideFiscalYear(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)

	_, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2025-12-31"))
	if err == nil {
		t.Fatal("expected out-of-range date to fail, got nil")
	}
	if !core.IsValidation(err) {
		t.Errorf("expected a validation error, got %T: %v", err, err)
	}
}

func TestVerification_GaplessConcurrentNumbering(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)

	const workers = 50
	numbers := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-03-01"))
			if err != nil {
				t.Errorf("concurrent Create failed: %v", err)
				return
			}
			numbers <- v.Number
		}()
	}
	wg.Wait()
	close(numbers)

	var got []int64
	for n := range numbers {
		got = append(got, n)
	}
	if len(got) != workers {
		t.Fatalf("want %d verifications, got %d", workers, len(got))
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, n := range got {
		if n != int64(i+1) {
			t.Fatalf("sequence has a gap or duplicate at position %d: %v", i, got)
		}
	}

	assertCleanLedger(t, pool, fx)
}

func TestVerification_LockIsIdempotentAndFinal(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)

	v, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := verifications.Lock(ctx, v.ID); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := verifications.Lock(ctx, v.ID); err != nil {
		t.Fatalf("second Lock must be a no-op, got: %v", err)
	}

	err = verifications.Update(ctx, v.ID, "2026-02-11", "Edited")
	if err == nil {
		t.Fatal("expected update of locked verification to fail")
	}
	if !core.IsConflict(err) {
		t.Errorf("expected a conflict error, got %T: %v", err, err)
	}
}

func TestVerification_UpdateMetadata(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)

	v, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := verifications.Update(ctx, v.ID, " 2026-03-01 ", "Korrigerad text"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := verifications.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TransactionDate != "2026-03-01" || got.Description != "Korrigerad text" {
		t.Errorf("metadata not updated: date=%s description=%q", got.TransactionDate, got.Description)
	}

	for _, bad := range []string{"", "03/01/2026", "2027-06-01"} {
		err := verifications.Update(ctx, v.ID, bad, "x")
		if err == nil {
			t.Fatalf("expected update with date %q to fail", bad)
		}
		if !core.IsValidation(err) {
			t.Errorf("date %q: expected a validation error, got %T: %v", bad, err, err)
		}
	}
}

func TestVerification_Reverse(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)

	v, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := verifications.Lock(ctx, v.ID); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	rev, err := verifications.Reverse(ctx, v.ID, "Correction")
	if err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}
	if rev.Series != v.Series {
		t.Errorf("reversal must stay in series %s, got %s", v.Series, rev.Series)
	}
	if rev.Number != v.Number+1 {
		t.Errorf("reversal number: want %d, got %d", v.Number+1, rev.Number)
	}

	// All balances return to zero.
	for _, number := range []int{1930, 3001, 2611} {
		if got := accountBalance(t, pool, fx, number); !got.IsZero() {
			t.Errorf("account %d after reversal: want 0, got %s", number, got)
		}
	}
	assertCleanLedger(t, pool, fx)
}

func TestVerification_DeleteOnlyInDevelopment(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	production := core.NewVerificationService(pool, false)
	development := core.NewVerificationService(pool, true)

	v, err := production.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := production.Delete(ctx, v.ID); err == nil {
		t.Fatal("expected Delete to be rejected when disabled")
	}

	if err := development.Delete(ctx, v.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := accountBalance(t, pool, fx, 1930); !got.IsZero() {
		t.Errorf("bank balance after delete: want 0, got %s", got)
	}

	// Numbers are never reused; the deleted number stays a permanent gap.
	next, err := production.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-11"))
	if err != nil {
		t.Fatalf("Create after delete failed: %v", err)
	}
	if next.Number != v.Number+1 {
		t.Errorf("deleted number must not be reused: want %d, got %d", v.Number+1, next.Number)
	}
	assertCleanLedger(t, pool, fx)
}

func TestVerification_LockedNeverDeletable(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	development := core.NewVerificationService(pool, true)

	v, err := development.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := development.Lock(ctx, v.ID); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// Delete is enabled on this service, the lock must still win.
	err = development.Delete(ctx, v.ID)
	if err == nil {
		t.Fatal("expected delete of locked verification to fail")
	}
	if !core.IsConflict(err) {
		t.Errorf("expected a conflict error, got %T: %v", err, err)
	}

	if got := accountBalance(t, pool, fx, 1930); !got.Equal(d("1250")) {
		t.Errorf("failed delete must not touch balances: want 1250, got %s", got)
	}
	assertCleanLedger(t, pool, fx)
}

func TestFiscalYear_RejectsOverlap(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	fiscalYears := core.NewFiscalYearService(pool)

	// The fixture year runs 2026-01-01 to 2026-12-31.
	cases := []struct {
		name  string
		start string
		end   string
	}{
		{"contained", "2026-03-01", "2026-06-30"},
		{"straddles start", "2025-07-01", "2026-06-30"},
		{"straddles end", "2026-07-01", "2027-06-30"},
		{"covers", "2025-01-01", "2027-12-31"},
	}
	for _, tc := range cases {
		if _, err := fiscalYears.Create(ctx, fx.Company.ID, tc.start, tc.end, false); err == nil {
			t.Errorf("%s: expected overlapping fiscal year to be rejected", tc.name)
		} else if !core.IsConflict(err) {
			t.Errorf("%s: expected a conflict error, got %T: %v", tc.name, err, err)
		}
	}

	// An adjacent year is fine.
	if _, err := fiscalYears.Create(ctx, fx.Company.ID, "2027-01-01", "2027-12-31", false); err != nil {
		t.Fatalf("adjacent fiscal year should be accepted: %v", err)
	}
}

func TestFiscalYear_CloseLocksVerifications(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	fx := seedCompany(t, pool, core.BasisAccrual)
	ctx := context.Background()

	verifications := core.NewVerificationService(pool, false)
	fiscalYears := core.NewFiscalYearService(pool)

	v, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-10"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := fiscalYears.Close(ctx, fx.FiscalYear.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := verifications.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Locked {
		t.Error("closing the fiscal year must lock its verifications")
	}

	if _, err := verifications.Create(ctx, fx.Company.ID, fx.FiscalYear.ID, simpleInput("A", "2026-02-11")); err == nil {
		t.Fatal("expected posting into a closed year to fail")
	}
}
