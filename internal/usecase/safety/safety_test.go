package safety

import (
	"errors"
	"testing"
	"time"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/loan"

	"github.com/shopspring/decimal"
)

func TestHealthFactor(t *testing.T) {
	tests := []struct {
		name       string
		coll, debt int64
		want       float64
		wantColor  collateral.SafetyColor
	}{
		{"scenario 25000 over 10000", 25000, 10000, 2.5, collateral.ColorGreen},
		{"nothing outstanding", 100, 0, MaxHealthFactor, collateral.ColorGreen},
		{"yellow band", 12000, 10000, 1.2, collateral.ColorYellow},
		{"exact green edge", 13000, 10000, 1.3, collateral.ColorGreen},
		{"red", 9000, 10000, 0.9, collateral.ColorRed},
		{"no collateral", 0, 10000, 0, collateral.ColorRed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HealthFactor(tt.coll, tt.debt)
			if got != tt.want {
				t.Fatalf("HealthFactor(%d,%d) = %v, want %v", tt.coll, tt.debt, got, tt.want)
			}
			if c := Color(got); c != tt.wantColor {
				t.Fatalf("Color(%v) = %s, want %s", got, c, tt.wantColor)
			}
		})
	}
}

func TestHealthFactor_Monotonic(t *testing.T) {
	const debt = 7919
	prev := HealthFactor(0, debt)
	for c := int64(1); c <= 50000; c += 997 {
		hf := HealthFactor(c, debt)
		if hf < prev {
			t.Fatalf("not non-decreasing in collateral at %d: %v < %v", c, hf, prev)
		}
		prev = hf
	}

	const coll = 30011
	prev = HealthFactor(coll, 1)
	for d := int64(2); d <= 60000; d += 1009 {
		hf := HealthFactor(coll, d)
		if hf > prev {
			t.Fatalf("not non-increasing in outstanding at %d: %v > %v", d, hf, prev)
		}
		prev = hf
	}
}

func TestBuildSchedule_SumsToPrincipal(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for principal := int64(1); principal < 50000; principal += 1237 {
		for count := 1; count <= 12; count++ {
			lines := BuildSchedule(principal, count, 30*count, 72, start)
			if len(lines) != count {
				t.Fatalf("len = %d, want %d", len(lines), count)
			}
			var sum int64
			for i, l := range lines {
				if l.SequenceNo != i+1 {
					t.Fatalf("sequence %d at index %d", l.SequenceNo, i)
				}
				if i > 0 && l.AmountMinor > lines[i-1].AmountMinor {
					t.Fatalf("remainder not front-loaded: %+v", lines)
				}
				sum += l.AmountMinor
			}
			if sum != principal {
				t.Fatalf("principal %d count %d: sum %d", principal, count, sum)
			}
		}
	}
}

func TestBuildSchedule_Scenario(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lines := BuildSchedule(10000, 4, 120, 72, start)
	for _, l := range lines {
		if l.AmountMinor != 2500 {
			t.Fatalf("amount = %d, want 2500", l.AmountMinor)
		}
	}
	if want := start.AddDate(0, 0, 120); !lines[3].DueAt.Equal(want) {
		t.Fatalf("last due = %v, want %v", lines[3].DueAt, want)
	}
	if want := lines[0].DueAt.Add(72 * time.Hour); !lines[0].GraceDeadline.Equal(want) {
		t.Fatalf("grace = %v, want %v", lines[0].GraceDeadline, want)
	}

	odd := BuildSchedule(10002, 4, 120, 0, start)
	got := []int64{odd[0].AmountMinor, odd[1].AmountMinor, odd[2].AmountMinor, odd[3].AmountMinor}
	want := []int64{2501, 2501, 2500, 2500}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("remainder distribution = %v, want %v", got, want)
		}
	}
}

func TestPreviewLateFee(t *testing.T) {
	due := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	l := &loan.Loan{GraceWindowHours: 72, LateFeeFlatMinor: 100, LateFeeBps: 200}
	inst := &loan.Installment{DueAt: due, AmountMinor: 2500, Status: loan.InstallmentDue}

	if p := PreviewLateFee(l, inst, due.Add(-time.Hour)); p.InGrace || p.PastGrace || p.FeeMinor != 0 {
		t.Fatalf("before due: %+v", p)
	}
	if p := PreviewLateFee(l, inst, due.Add(48*time.Hour)); !p.InGrace || p.FeeMinor != 0 {
		t.Fatalf("inside grace: %+v", p)
	}
	p := PreviewLateFee(l, inst, due.Add(73*time.Hour))
	if !p.PastGrace || p.FeeMinor != 150 {
		t.Fatalf("past grace: %+v, want fee 150", p)
	}

	inst.Status = loan.InstallmentPaid
	if p := PreviewLateFee(l, inst, due.Add(100*time.Hour)); p.FeeMinor != 0 {
		t.Fatalf("paid installment must not accrue: %+v", p)
	}
}

func TestRequiredDepositAndLTV(t *testing.T) {
	if got := RequiredDepositMinor(10000, 5000); got != 20000 {
		t.Fatalf("RequiredDepositMinor = %d, want 20000", got)
	}
	if got := RequiredDepositMinor(10001, 3000); got != 33337 {
		t.Fatalf("RequiredDepositMinor rounding = %d, want 33337", got)
	}
	if got := CurrentLTVBps(25000, 10000); got != 4000 {
		t.Fatalf("CurrentLTVBps = %d, want 4000", got)
	}
	if got := CurrentLTVBps(0, 1); got != 10000 {
		t.Fatalf("CurrentLTVBps no collateral = %d", got)
	}
}

func TestValueMinor(t *testing.T) {
	got, err := ValueMinor(decimal.RequireFromString("0.5"), decimal.RequireFromString("500.009"), "inr")
	if err != nil {
		t.Fatalf("ValueMinor: %v", err)
	}
	if got != 25000 {
		t.Fatalf("ValueMinor = %d, want 25000 (floored)", got)
	}
	if _, err := ValueMinor(decimal.NewFromInt(1), decimal.NewFromInt(1), "XYZ"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("unsupported currency: want validation error, got %v", err)
	}
}
