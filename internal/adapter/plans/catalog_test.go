package plans

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bnpl-engine/internal/domain/errs"
)

func TestCatalog_Builtins(t *testing.T) {
	c := NewCatalog()
	p, err := c.Lookup("bnpl_4x")
	if err != nil {
		t.Fatalf("Lookup err: %v", err)
	}
	if p.InstallmentCount != 4 || p.TenureDays != 120 {
		t.Fatalf("unexpected plan: %+v", p)
	}
	if got := len(c.IDs()); got != 4 {
		t.Fatalf("IDs len = %d, want 4", got)
	}
}

func TestCatalog_UnknownPlan(t *testing.T) {
	_, err := NewCatalog().Lookup("NOPE")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestCatalog_LoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	body := `
plans:
  - id: emi_3m
    installment_count: 3
    tenure_days: 90
    ltv_bps: 4000
    danger_limit_bps: 7000
    liquidation_threshold_bps: 8000
    grace_window_hours: 48
    late_fee_flat_minor: 50
    late_fee_bps: 100
  - id: PAY_IN_2
    installment_count: 2
    tenure_days: 30
    ltv_bps: 6000
    danger_limit_bps: 7000
    liquidation_threshold_bps: 9000
    grace_window_hours: 24
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := NewCatalog()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	p, _ := c.Lookup("EMI_3M")
	if p.LTVBps != 4000 || p.GraceWindowHours != 48 {
		t.Fatalf("override not applied: %+v", p)
	}
	if _, err := c.Lookup("pay_in_2"); err != nil {
		t.Fatalf("new plan missing: %v", err)
	}
}

func TestCatalog_RejectsBadThresholds(t *testing.T) {
	body := []byte(`
plans:
  - id: BAD
    installment_count: 2
    tenure_days: 30
    ltv_bps: 5000
    danger_limit_bps: 9000
    liquidation_threshold_bps: 8000
`)
	if err := NewCatalog().Load(body); err == nil {
		t.Fatal("expected error for danger >= liquidation threshold")
	}
}
