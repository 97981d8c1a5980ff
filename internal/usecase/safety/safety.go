// Package safety holds the pure computations behind the safety meter:
// health factor, safety colour, late fees and installment schedules.
// Nothing here touches storage; callers pass current persisted state.
package safety

import (
	"strings"
	"time"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/loan"

	"github.com/shopspring/decimal"
)

// MaxHealthFactor stands in for infinity when nothing is outstanding. It is
// finite so it survives JSON encoding.
const MaxHealthFactor = 1e9

const (
	GreenThreshold  = 1.30
	YellowThreshold = 1.10
)

// HealthFactor is total collateral over outstanding debt.
func HealthFactor(totalCollateralMinor, outstandingMinor int64) float64 {
	if outstandingMinor <= 0 {
		return MaxHealthFactor
	}
	if totalCollateralMinor <= 0 {
		return 0
	}
	hf := float64(totalCollateralMinor) / float64(outstandingMinor)
	if hf > MaxHealthFactor {
		return MaxHealthFactor
	}
	return hf
}

func Color(hf float64) collateral.SafetyColor {
	switch {
	case hf >= GreenThreshold:
		return collateral.ColorGreen
	case hf >= YellowThreshold:
		return collateral.ColorYellow
	default:
		return collateral.ColorRed
	}
}

// CurrentLTVBps is outstanding debt as a share of collateral, in basis points.
// It saturates at 10000 when there is no collateral left.
func CurrentLTVBps(totalCollateralMinor, outstandingMinor int64) int {
	if outstandingMinor <= 0 {
		return 0
	}
	if totalCollateralMinor <= 0 {
		return 10000
	}
	bps := outstandingMinor * 10000 / totalCollateralMinor
	if bps > 10000 {
		return 10000
	}
	return int(bps)
}

// RequiredDepositMinor is the collateral value needed so that principal sits at
// ltvBps of it, rounded up.
func RequiredDepositMinor(principalMinor int64, ltvBps int) int64 {
	if ltvBps <= 0 {
		return 0
	}
	return (principalMinor*10000 + int64(ltvBps) - 1) / int64(ltvBps)
}

type LateFeePreview struct {
	GraceDeadline time.Time `json:"grace_deadline"`
	InGrace       bool      `json:"in_grace"`
	PastGrace     bool      `json:"past_grace"`
	FeeMinor      int64     `json:"fee_minor"`
}

// PreviewLateFee computes the fee owed on inst at asOf. No fee is due inside the
// grace window or once the installment is settled.
func PreviewLateFee(l *loan.Loan, inst *loan.Installment, asOf time.Time) LateFeePreview {
	deadline := inst.DueAt.Add(time.Duration(l.GraceWindowHours) * time.Hour)
	p := LateFeePreview{GraceDeadline: deadline}
	if inst.Status.Settled() || inst.UnpaidPrincipalMinor() == 0 {
		return p
	}
	if !asOf.After(inst.DueAt) {
		return p
	}
	if !asOf.After(deadline) {
		p.InGrace = true
		return p
	}
	p.PastGrace = true
	p.FeeMinor = l.LateFeeFlatMinor + inst.AmountMinor*int64(l.LateFeeBps)/10000
	return p
}

type ScheduleLine struct {
	SequenceNo    int
	DueAt         time.Time
	GraceDeadline time.Time
	AmountMinor   int64
}

// BuildSchedule splits principal into count installments spread evenly over
// tenureDays. Amounts sum exactly to principal; the remainder goes one minor
// unit at a time to the earliest installments.
func BuildSchedule(principalMinor int64, count, tenureDays, graceHours int, start time.Time) []ScheduleLine {
	if count <= 0 {
		return nil
	}
	base := principalMinor / int64(count)
	rem := principalMinor % int64(count)
	out := make([]ScheduleLine, 0, count)
	for i := 1; i <= count; i++ {
		amt := base
		if int64(i) <= rem {
			amt++
		}
		due := start.AddDate(0, 0, i*tenureDays/count)
		out = append(out, ScheduleLine{
			SequenceNo:    i,
			DueAt:         due,
			GraceDeadline: due.Add(time.Duration(graceHours) * time.Hour),
			AmountMinor:   amt,
		})
	}
	return out
}

var currencyExponent = map[string]int32{
	"INR": 2,
	"USD": 2,
	"EUR": 2,
}

// CurrencyExponent returns the number of minor-unit digits for currency.
func CurrencyExponent(currency string) (int32, error) {
	exp, ok := currencyExponent[strings.ToUpper(currency)]
	if !ok {
		return 0, errs.Invalid("currency", "unsupported currency "+currency)
	}
	return exp, nil
}

// ValueMinor converts units of an asset at price (major units) into minor
// units of currency, rounding down.
func ValueMinor(units, price decimal.Decimal, currency string) (int64, error) {
	exp, err := CurrencyExponent(currency)
	if err != nil {
		return 0, err
	}
	v := units.Mul(price).Shift(exp).Floor()
	if !v.IsInteger() || v.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, errs.Invalid("units", "collateral value out of range")
	}
	return v.IntPart(), nil
}
