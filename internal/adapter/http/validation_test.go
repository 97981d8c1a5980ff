package http

import (
	"errors"
	"strings"
	"testing"
)

func containsFieldMsg(list []FieldError, field, substr string) bool {
	for _, e := range list {
		if e.Field == field && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestHex32Validation(t *testing.T) {
	type P struct {
		LoanID string `validate:"hex32"`
	}
	cv := NewValidator()

	if err := cv.Validate(P{LoanID: strings.Repeat("a", 32)}); err != nil {
		t.Fatalf("expected valid hex32, got err: %v", err)
	}
	for _, s := range []string{
		"",
		strings.Repeat("A", 32),
		"deadbeef",
		strings.Repeat("g", 32),
		"3f9a6a1b3d544fbe8b3a6b3e8d6b2c8",
	} {
		err := cv.Validate(P{LoanID: s})
		if err == nil {
			t.Fatalf("expected error for %q", s)
		}
		if fe := ToFieldErrors(err); !containsFieldMsg(fe, "LoanID", "32-char lowercase hex") {
			t.Fatalf("expected hex32 message for %q, got: %+v", s, fe)
		}
	}
}

func TestBpsValidation(t *testing.T) {
	type P struct {
		LTV int `validate:"bps"`
	}
	cv := NewValidator()
	for _, v := range []int{0, 5000, 10000} {
		if err := cv.Validate(P{LTV: v}); err != nil {
			t.Fatalf("expected bps OK for %d, got %v", v, err)
		}
	}
	for _, v := range []int{-1, 10001} {
		err := cv.Validate(P{LTV: v})
		if err == nil {
			t.Fatalf("expected bps error for %d", v)
		}
		if fe := ToFieldErrors(err); !containsFieldMsg(fe, "LTV", "basis points") {
			t.Fatalf("unexpected mapping for %d: %+v", v, fe)
		}
	}
}

func TestAssetAndCurrencyValidation(t *testing.T) {
	type P struct {
		Asset    string `validate:"asset"`
		Currency string `validate:"currency"`
	}
	cv := NewValidator()
	if err := cv.Validate(P{Asset: "eth", Currency: "INR"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	err := cv.Validate(P{Asset: "E", Currency: "RUPEE"})
	if err == nil {
		t.Fatal("expected errors")
	}
	fe := ToFieldErrors(err)
	if !containsFieldMsg(fe, "Asset", "asset symbol") || !containsFieldMsg(fe, "Currency", "3-letter") {
		t.Fatalf("unexpected mapping: %+v", fe)
	}
}

func TestRequiredAndBoundsMapping(t *testing.T) {
	type P struct {
		Name string `validate:"required"`
		Min  int    `validate:"gte=10"`
		Max  int    `validate:"lte=5"`
		Amt  int64  `validate:"gt=0"`
	}
	cv := NewValidator()

	err := cv.Validate(P{Name: "", Min: 9, Max: 6, Amt: 0})
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	fe := ToFieldErrors(err)
	if !containsFieldMsg(fe, "Name", "is required") {
		t.Fatalf("missing 'is required' for Name: %+v", fe)
	}
	if !containsFieldMsg(fe, "Min", "greater than or equal to 10") {
		t.Fatalf("missing gte message for Min: %+v", fe)
	}
	if !containsFieldMsg(fe, "Max", "less than or equal to 5") {
		t.Fatalf("missing lte message for Max: %+v", fe)
	}
	if !containsFieldMsg(fe, "Amt", "greater than 0") {
		t.Fatalf("missing gt message for Amt: %+v", fe)
	}
}

func TestToFieldErrors_NonValidation(t *testing.T) {
	fe := ToFieldErrors(errors.New("boom"))
	if len(fe) != 1 || fe[0].Field != "_" || fe[0].Message != "boom" {
		t.Fatalf("unexpected mapping: %+v", fe)
	}
}
