package finance

import (
	"errors"
	"math"
	"testing"

	"github.com/bitfantasy/salesync/internal/sales/entity"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func TestCalculateMargins(t *testing.T) {
	// gross = 10000 - 7000 - 150 - 120 - 80 = 2650
	// commissionable = 2650 - 500 = 2150
	result := CalculateMargins(10000, 7000, 150, 120, 80, 500)

	if !almostEqual(result.GrossMargin, 2650) {
		t.Errorf("Expected gross margin 2650, got %v", result.GrossMargin)
	}
	if !almostEqual(result.CommissionableMargin, 2150) {
		t.Errorf("Expected commissionable margin 2150, got %v", result.CommissionableMargin)
	}
	if !almostEqual(result.Breakdown.SaleAmountExVAT, 10000) {
		t.Errorf("Expected breakdown ex VAT 10000, got %v", result.Breakdown.SaleAmountExVAT)
	}
}

func TestCalculateMarginsNegative(t *testing.T) {
	// Negative margins are data, not errors
	result := CalculateMargins(1000, 1500, 50, 0, 0, 0)
	if !almostEqual(result.GrossMargin, -550) {
		t.Errorf("Expected gross margin -550, got %v", result.GrossMargin)
	}
	if !almostEqual(result.CommissionableMargin, -550) {
		t.Errorf("Expected commissionable margin -550, got %v", result.CommissionableMargin)
	}
}

func TestCalculateMarginsRounding(t *testing.T) {
	result := CalculateMargins(100.555, 50.333, 0, 0, 0, 0)
	if !almostEqual(result.GrossMargin, 50.22) {
		t.Errorf("Expected rounded gross margin 50.22, got %v", result.GrossMargin)
	}
}

func TestCalculateVATStandard(t *testing.T) {
	vat, err := CalculateVAT(entity.VATSchemeStandard, 1000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !almostEqual(vat.IncVAT, 1200) {
		t.Errorf("Expected inc VAT 1200, got %v", vat.IncVAT)
	}
	if !almostEqual(vat.VATAmount, 200) {
		t.Errorf("Expected VAT amount 200, got %v", vat.VATAmount)
	}
	if vat.Rate != 0.20 {
		t.Errorf("Expected rate 0.20, got %v", vat.Rate)
	}
}

func TestCalculateVATZeroRateSchemes(t *testing.T) {
	for _, scheme := range []string{entity.VATSchemeExport, entity.VATSchemeMargin} {
		vat, err := CalculateVAT(scheme, 5000)
		if err != nil {
			t.Fatalf("Unexpected error for scheme %s: %v", scheme, err)
		}
		if !almostEqual(vat.IncVAT, 5000) {
			t.Errorf("Scheme %s: expected inc VAT 5000, got %v", scheme, vat.IncVAT)
		}
		if vat.VATAmount != 0 {
			t.Errorf("Scheme %s: expected zero VAT amount, got %v", scheme, vat.VATAmount)
		}
	}
}

func TestCalculateVATUnknownScheme(t *testing.T) {
	_, err := CalculateVAT("reduced", 1000)
	if err == nil {
		t.Fatal("Expected error for unknown scheme")
	}
	var unknown *ErrUnknownVATScheme
	if !errors.As(err, &unknown) {
		t.Errorf("Expected ErrUnknownVATScheme, got %T", err)
	}
	if unknown.Scheme != "reduced" {
		t.Errorf("Expected scheme 'reduced' in error, got %q", unknown.Scheme)
	}
}

func TestValidateSaleVATConsistent(t *testing.T) {
	v, err := ValidateSaleVAT(entity.VATSchemeStandard, 1000, 1200)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !v.IsValid {
		t.Errorf("Expected valid, got discrepancy %v", v.Discrepancy)
	}
}

func TestValidateSaleVATWithinTolerance(t *testing.T) {
	// 99p off is within the £1 tolerance
	v, err := ValidateSaleVAT(entity.VATSchemeStandard, 1000, 1200.99)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !v.IsValid {
		t.Errorf("Expected valid within tolerance, discrepancy %v", v.Discrepancy)
	}
}

func TestValidateSaleVATDiscrepancy(t *testing.T) {
	v, err := ValidateSaleVAT(entity.VATSchemeStandard, 1000, 1250)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v.IsValid {
		t.Error("Expected invalid for £50 discrepancy")
	}
	if !almostEqual(v.Discrepancy, 50) {
		t.Errorf("Expected discrepancy 50, got %v", v.Discrepancy)
	}
}

func TestValidateSaleVATLegacyDivisionBug(t *testing.T) {
	// Dirty pattern: the real total landed in inc_vat, ex_vat was wrongly
	// back-computed as total/1.2 under a zero-rate scheme
	v, err := ValidateSaleVAT(entity.VATSchemeMargin, 10000, 12000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !v.LegacyDivisionBug {
		t.Error("Expected legacy division bug to be flagged")
	}
	if v.IsValid {
		t.Error("Legacy bug records must be invalid")
	}

	// Remediation keeps the original inc_vat on both fields
	ex, inc := RemediateLegacyVAT(12000)
	if ex != 12000 || inc != 12000 {
		t.Errorf("Expected 12000/12000 after remediation, got %v/%v", ex, inc)
	}
}

func TestValidateSaleVATZeroRateEqualAmountsNotFlagged(t *testing.T) {
	// ex == inc under zero rate is the correct shape, never the bug
	v, err := ValidateSaleVAT(entity.VATSchemeExport, 5000, 5000)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v.LegacyDivisionBug {
		t.Error("Equal amounts must not be flagged as legacy bug")
	}
	if !v.IsValid {
		t.Error("Expected valid")
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.004, 1.00},
		{1.006, 1.01},
		{-2.556, -2.56},
		{2650.0, 2650.0},
		{0, 0},
	}
	for _, c := range cases {
		if got := Round2(c.in); !almostEqual(got, c.want) {
			t.Errorf("Round2(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
