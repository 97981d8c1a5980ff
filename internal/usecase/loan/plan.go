package loan

import (
	"context"
	"errors"
	"strings"

	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/risk"
	"bnpl-engine/internal/domain/uow"
	"bnpl-engine/internal/usecase/safety"
	"bnpl-engine/pkg/id"

	"github.com/sirupsen/logrus"
)

func (u *Usecase) CreatePlan(ctx context.Context, in CreatePlanInput) (*PlanResult, error) {
	return runIdempotent(ctx, u, "createPlan", in.IdempotencyKey, func() (*PlanResult, error) {
		return u.createPlan(ctx, in)
	})
}

func applyOverrides(p *domain.Plan, in CreatePlanInput) {
	if in.TenureDays != nil {
		p.TenureDays = *in.TenureDays
	}
	if in.InstallmentCount != nil {
		p.InstallmentCount = *in.InstallmentCount
	}
	if in.LTVBps != nil {
		p.LTVBps = *in.LTVBps
	}
	if in.DangerLimitBps != nil {
		p.DangerLimitBps = *in.DangerLimitBps
	}
	if in.LiquidationThresholdBps != nil {
		p.LiquidationThresholdBps = *in.LiquidationThresholdBps
	}
	if in.GraceWindowHours != nil {
		p.GraceWindowHours = *in.GraceWindowHours
	}
	if in.LateFeeFlatMinor != nil {
		p.LateFeeFlatMinor = *in.LateFeeFlatMinor
	}
	if in.LateFeeBps != nil {
		p.LateFeeBps = *in.LateFeeBps
	}
}

func (u *Usecase) createPlan(ctx context.Context, in CreatePlanInput) (*PlanResult, error) {
	switch {
	case strings.TrimSpace(in.BorrowerID) == "":
		return nil, errs.Invalid("borrower_id", "is required")
	case strings.TrimSpace(in.MerchantID) == "":
		return nil, errs.Invalid("merchant_id", "is required")
	case in.PrincipalMinor <= 0:
		return nil, errs.Invalid("principal_minor", "must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if _, err := safety.CurrencyExponent(currency); err != nil {
		return nil, err
	}

	plan, err := u.plans.Lookup(in.PlanID)
	if err != nil {
		return nil, err
	}
	applyOverrides(&plan, in)
	switch {
	case plan.InstallmentCount <= 0:
		return nil, errs.Invalid("installment_count", "must be positive")
	case plan.TenureDays <= 0:
		return nil, errs.Invalid("tenure_days", "must be positive")
	case plan.LTVBps <= 0:
		return nil, errs.Invalid("ltv_bps", "must be positive")
	case plan.GraceWindowHours < 0:
		return nil, errs.Invalid("grace_window_hours", "must not be negative")
	case plan.LateFeeFlatMinor < 0:
		return nil, errs.Invalid("late_fee_flat_minor", "must not be negative")
	}

	score, err := u.scorer.Score(ctx, risk.Features{
		BorrowerID:          in.BorrowerID,
		PrincipalMinor:      in.PrincipalMinor,
		MonthlyIncomeMinor:  in.MonthlyIncomeMinor,
		PriorDefaults:       in.PriorDefaults,
		AccountAgeDays:      in.AccountAgeDays,
		InstallmentCount:    plan.InstallmentCount,
		ExistingActiveLoans: in.ExistingActiveLoans,
	})
	if err != nil {
		if errors.Is(err, errs.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, errs.External("risk", err)
	}
	ltv := plan.LTVBps
	if cut := risk.LTVHaircutBps(ltv, score.Tier); cut < ltv {
		ltv = cut
	}

	now := u.now()
	start := in.StartAt.UTC()
	if in.StartAt.IsZero() {
		start = now
	}

	l := &domain.Loan{
		LoanID:                  id.NewID32(),
		BorrowerID:              in.BorrowerID,
		MerchantID:              in.MerchantID,
		PlanID:                  plan.ID,
		PrincipalMinor:          in.PrincipalMinor,
		Currency:                currency,
		TenureDays:              plan.TenureDays,
		InstallmentCount:        plan.InstallmentCount,
		LTVBps:                  ltv,
		DangerLimitBps:          plan.DangerLimitBps,
		LiquidationThresholdBps: plan.LiquidationThresholdBps,
		GraceWindowHours:        plan.GraceWindowHours,
		LateFeeFlatMinor:        plan.LateFeeFlatMinor,
		LateFeeBps:              plan.LateFeeBps,
		RequiredDepositMinor:    safety.RequiredDepositMinor(in.PrincipalMinor, ltv),
		Status:                  domain.StatusDraft,
		OutstandingMinor:        in.PrincipalMinor,
		StateUpdatedAt:          now,
	}
	next := domain.StatusPendingKYC
	if in.KYCVerified {
		next = domain.StatusEligible
	}
	if err := u.setStatus(l, next); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, u.check(l.LoanID, err)
	}

	lines := safety.BuildSchedule(l.PrincipalMinor, l.InstallmentCount, l.TenureDays, l.GraceWindowHours, start)
	insts := make([]domain.Installment, 0, len(lines))
	for _, ln := range lines {
		insts = append(insts, domain.Installment{
			InstallmentID: id.NewID32(),
			LoanID:        l.LoanID,
			SequenceNo:    ln.SequenceNo,
			DueAt:         ln.DueAt,
			GraceDeadline: ln.GraceDeadline,
			AmountMinor:   ln.AmountMinor,
			Status:        domain.InstallmentUpcoming,
		})
	}

	var out *PlanResult
	err = u.uow.WithinTx(ctx, func(r uow.Repos) error {
		if err := r.Loans.Create(ctx, l); err != nil {
			return err
		}
		if err := r.Installments.CreateBatch(ctx, insts); err != nil {
			return err
		}
		if err := r.RiskScores.Create(ctx, &risk.Snapshot{
			LoanID:      l.LoanID,
			BorrowerID:  l.BorrowerID,
			Tier:        score.Tier,
			Probability: score.Probability,
			Source:      score.Source,
		}); err != nil {
			return err
		}
		if err := u.appendLedger(ctx, r, l, ledger.EntryPlanDisbursal, l.PrincipalMinor, "loan", l.LoanID, "merchant "+l.MerchantID); err != nil {
			return err
		}
		view, err := u.viewOf(ctx, r, l)
		if err != nil {
			return err
		}
		out = &PlanResult{LoanView: *view, Risk: score}
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.log.WithFields(logrus.Fields{
		"loan_id":  l.LoanID,
		"plan_id":  l.PlanID,
		"tier":     score.Tier,
		"ltv_bps":  l.LTVBps,
		"required": l.RequiredDepositMinor,
	}).Info("plan created")
	return out, nil
}
