package core_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"bookkeeping-engine/internal/core"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestVerificationInput_Normalize(t *testing.T) {
	in := core.VerificationInput{
		Series:          "  a ",
		TransactionDate: " 2026-03-01 ",
		Description:     "  Rent march  ",
	}
	in.Normalize()

	if in.Series != "A" {
		t.Errorf("expected series A, got %q", in.Series)
	}
	if in.TransactionDate != "2026-03-01" {
		t.Errorf("expected trimmed date, got %q", in.TransactionDate)
	}
	if in.Description != "Rent march" {
		t.Errorf("expected trimmed description, got %q", in.Description)
	}
}

func TestVerificationInput_Validate(t *testing.T) {
	tests := []struct {
		name      string
		series    string
		date      string
		lines     []core.LineInput
		expectErr bool
	}{
		{
			name:   "Happy path",
			series: "A",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("1250.00")},
				{AccountNumber: 3001, Credit: d("1000.00")},
				{AccountNumber: 2611, Credit: d("250.00")},
			},
			expectErr: false,
		},
		{
			name:   "Balanced within tolerance",
			series: "A",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("100.00")},
				{AccountNumber: 3001, Credit: d("99.99")},
			},
			expectErr: false,
		},
		{
			name:   "Unbalanced beyond tolerance",
			series: "A",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("100.00")},
				{AccountNumber: 3001, Credit: d("99.98")},
			},
			expectErr: true,
		},
		{
			name:   "Missing series",
			series: "",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("100")},
				{AccountNumber: 3001, Credit: d("100")},
			},
			expectErr: true,
		},
		{
			name:   "Malformed date",
			series: "A",
			date:   "15/01/2026",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("100")},
				{AccountNumber: 3001, Credit: d("100")},
			},
			expectErr: true,
		},
		{
			name:   "Single line",
			series: "A",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("100")},
			},
			expectErr: true,
		},
		{
			name:   "Negative amount",
			series: "A",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("-100")},
				{AccountNumber: 3001, Credit: d("-100")},
			},
			expectErr: true,
		},
		{
			name:   "Both debit and credit set",
			series: "A",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930, Debit: d("100"), Credit: d("100")},
				{AccountNumber: 3001, Credit: d("100")},
			},
			expectErr: true,
		},
		{
			name:   "Neither debit nor credit set",
			series: "A",
			date:   "2026-01-15",
			lines: []core.LineInput{
				{AccountNumber: 1930},
				{AccountNumber: 3001, Credit: d("0")},
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := core.VerificationInput{
				Series:          tt.series,
				TransactionDate: tt.date,
				Description:     "test",
				Lines:           tt.lines,
			}
			err := in.Validate()
			if tt.expectErr && err == nil {
				t.Errorf("expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
			if tt.expectErr && err != nil && !core.IsValidation(err) {
				t.Errorf("expected a validation error type, got %T: %v", err, err)
			}
		})
	}
}
