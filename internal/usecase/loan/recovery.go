package loan

import (
	"context"
	"fmt"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
	"bnpl-engine/internal/usecase/safety"
	"bnpl-engine/pkg/id"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func (u *Usecase) recordSettlement(ctx context.Context, r uow.Repos, l *domain.Loan, g *collateral.LiquidationLog) (*ledger.Settlement, error) {
	s := &ledger.Settlement{
		SettlementID: uuid.NewString(),
		LoanID:       l.LoanID,
		MerchantID:   l.MerchantID,
		AmountMinor:  g.SeizedMinor,
		Currency:     l.Currency,
		Reason:       string(g.Action),
		SourceLogID:  g.LogID,
		Status:       ledger.SettlementPending,
	}
	if err := r.Settlements.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// seizedWithinNeeded is the algorithm's own guard, checked before anything is written.
func (u *Usecase) seizedWithinNeeded(loanID string, seized, needed int64) error {
	if seized <= needed {
		return nil
	}
	return u.check(loanID, &errs.InvariantViolationError{
		Invariant: "seized_within_needed",
		Detail:    fmt.Sprintf("loan %s seized %d needed %d", loanID, seized, needed),
	})
}

// ExecutePartialRecovery covers one missed installment, late fee included,
// from collateral and takes nothing beyond that.
func (u *Usecase) ExecutePartialRecovery(ctx context.Context, in PartialRecoveryInput) (*RecoveryResult, error) {
	return runIdempotent(ctx, u, "executePartialRecovery", in.IdempotencyKey, func() (*RecoveryResult, error) {
		return u.partialRecovery(ctx, in)
	})
}

func (u *Usecase) partialRecovery(ctx context.Context, in PartialRecoveryInput) (*RecoveryResult, error) {
	if in.LoanID == "" {
		return nil, errs.Invalid("loan_id", "is required")
	}
	asOf := in.AsOf.UTC()
	if in.AsOf.IsZero() {
		asOf = u.now()
	}
	initiatedBy := in.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "system"
	}

	var (
		out      *RecoveryResult
		released []returned
	)
	err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if l.Status != domain.StatusPartiallyRecovered {
			if err := domain.CheckTransition(l.Status, domain.StatusPartiallyRecovered); err != nil {
				return err
			}
		}
		insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
		if err != nil {
			return err
		}
		inst, err := findInstallment(insts, l.LoanID, in.SequenceNo)
		if err != nil {
			return err
		}
		if inst.Status.Settled() {
			return errs.Invalid("sequence_no", "installment already settled")
		}
		preview := safety.PreviewLateFee(l, inst, asOf)
		if !preview.PastGrace {
			return errs.Invalid("as_of", "installment is not past its grace deadline")
		}
		if inst.LateFeeMinor == 0 && preview.FeeMinor > 0 && !l.PenaltyPaused(asOf) {
			if err := u.applyFee(ctx, r, l, inst, preview.FeeMinor, colls, initiatedBy); err != nil {
				return err
			}
		}

		hf := safety.HealthFactor(totalAvailable(colls), l.OutstandingMinor)
		needed := inst.DueMinor()
		if needed == 0 {
			return errs.Invalid("sequence_no", "nothing due on installment")
		}
		missed := inst.UnpaidPrincipalMinor()
		penalty := needed - missed

		seizures, seized, err := u.seize(ctx, r, colls, needed)
		if err != nil {
			return err
		}
		if err := u.seizedWithinNeeded(l.LoanID, seized, needed); err != nil {
			return err
		}

		inst.RecoveredMinor += seized
		inst.Status = domain.InstallmentMissed
		if inst.DueMinor() == 0 {
			inst.Status = domain.InstallmentWaived
		}
		if err := r.Installments.Update(ctx, inst); err != nil {
			return err
		}
		l.OutstandingMinor -= seized
		l.RecoveredMinor += seized

		next := domain.StatusPartiallyRecovered
		if seized < needed {
			next = domain.StatusDelinquent
		}
		if l.Status != next {
			if err := u.setStatus(l, next); err != nil {
				return err
			}
		}

		g := &collateral.LiquidationLog{
			LogID:                 id.NewID32(),
			LoanID:                l.LoanID,
			InstallmentID:         inst.InstallmentID,
			Action:                collateral.ActionPartialRecovery,
			MissedAmountMinor:     missed,
			PenaltyMinor:          penalty,
			NeededMinor:           needed,
			SeizedMinor:           seized,
			ResidualMinor:         needed - seized,
			HealthFactorAtTrigger: hf,
			Seizures:              seizures,
			InitiatedBy:           initiatedBy,
			PolicyVersion:         PolicyVersion,
			Notes:                 in.Notes,
		}
		if l.OutstandingMinor == 0 {
			if err := u.setStatus(l, domain.StatusClosed); err != nil {
				return err
			}
			if released, err = u.releaseAll(ctx, r, l, colls); err != nil {
				return err
			}
			for _, it := range released {
				g.ReturnedMinor += it.AmountMinor
			}
		}
		if err := u.check(l.LoanID, g.Validate()); err != nil {
			return err
		}
		if err := r.Liquidations.Create(ctx, g); err != nil {
			return err
		}

		out = &RecoveryResult{Log: *g, Installment: inst}
		// one ledger entry per recovery, zero when nothing was left to seize
		if err := u.appendLedger(ctx, r, l, ledger.EntryPartialRecoverySeized, seized, "liquidation_log", g.LogID, in.Notes); err != nil {
			return err
		}
		if seized > 0 {
			if out.Settlement, err = u.recordSettlement(ctx, r, l, g); err != nil {
				return err
			}
		}
		if err := u.refreshHealth(ctx, r, l, colls); err != nil {
			return err
		}
		if err := u.saveLoan(ctx, r, l); err != nil {
			return err
		}
		out.Loan, out.Collaterals = *l, colls
		out.Safety = buildMeter(l, insts, colls, u.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.metrics.Seized(string(collateral.ActionPartialRecovery), out.Log.SeizedMinor)
	u.log.WithFields(logrus.Fields{
		"loan_id":  in.LoanID,
		"log_id":   out.Log.LogID,
		"needed":   out.Log.NeededMinor,
		"seized":   out.Log.SeizedMinor,
		"residual": out.Log.ResidualMinor,
		"status":   out.Loan.Status,
	}).Info("partial recovery executed")

	if out.Settlement != nil {
		if s, err := u.dispatchSettlement(ctx, out.Settlement.SettlementID); err == nil {
			out.Settlement = s
		} else {
			u.log.WithError(err).WithField("loan_id", in.LoanID).Warn("dispatch merchant settlement")
		}
	}
	out.Refunds = u.refund(ctx, &out.Loan, released)
	return out, nil
}

// ExecuteFullLiquidation seizes against the whole outstanding balance, returns
// any excess collateral and records what stays uncovered as bad debt.
func (u *Usecase) ExecuteFullLiquidation(ctx context.Context, in FullLiquidationInput) (*RecoveryResult, error) {
	return runIdempotent(ctx, u, "executeFullLiquidation", in.IdempotencyKey, func() (*RecoveryResult, error) {
		return u.fullLiquidation(ctx, in)
	})
}

func (u *Usecase) fullLiquidation(ctx context.Context, in FullLiquidationInput) (*RecoveryResult, error) {
	if in.LoanID == "" {
		return nil, errs.Invalid("loan_id", "is required")
	}
	initiatedBy := in.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "system"
	}

	var (
		out      *RecoveryResult
		released []returned
	)
	err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if err := domain.CheckTransition(l.Status, domain.StatusDefaulted); err != nil {
			return err
		}
		if l.Status.IsDispute() {
			return &errs.InvalidTransitionError{From: string(l.Status), To: string(domain.StatusDefaulted)}
		}
		if l.OutstandingMinor <= 0 {
			return errs.Invalid("outstanding_minor", "nothing outstanding; close the loan instead")
		}
		insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
		if err != nil {
			return err
		}

		hf := safety.HealthFactor(totalAvailable(colls), l.OutstandingMinor)
		needed := l.OutstandingMinor
		var penalty int64
		for i := range insts {
			if !insts[i].Status.Settled() {
				penalty += insts[i].DueMinor() - insts[i].UnpaidPrincipalMinor()
			}
		}
		penalty = min(penalty, needed)
		missed := needed - penalty

		seizures, seized, err := u.seize(ctx, r, colls, needed)
		if err != nil {
			return err
		}
		if err := u.seizedWithinNeeded(l.LoanID, seized, needed); err != nil {
			return err
		}

		// spread the seized value over the schedule, earliest first
		left := seized
		for i := range insts {
			inst := &insts[i]
			if inst.Status.Settled() {
				continue
			}
			take := min(inst.DueMinor(), left)
			inst.RecoveredMinor += take
			left -= take
			inst.Status = domain.InstallmentMissed
			if inst.DueMinor() == 0 {
				inst.Status = domain.InstallmentWaived
			}
			if err := r.Installments.Update(ctx, inst); err != nil {
				return err
			}
		}
		l.OutstandingMinor -= seized
		l.RecoveredMinor += seized

		if released, err = u.releaseAll(ctx, r, l, colls); err != nil {
			return err
		}
		g := &collateral.LiquidationLog{
			LogID:                 id.NewID32(),
			LoanID:                l.LoanID,
			Action:                collateral.ActionFullRecovery,
			MissedAmountMinor:     missed,
			PenaltyMinor:          penalty,
			NeededMinor:           needed,
			SeizedMinor:           seized,
			ResidualMinor:         needed - seized,
			HealthFactorAtTrigger: hf,
			Seizures:              seizures,
			InitiatedBy:           initiatedBy,
			PolicyVersion:         PolicyVersion,
			Notes:                 in.Notes,
		}
		for _, it := range released {
			g.ReturnedMinor += it.AmountMinor
		}
		if err := u.check(l.LoanID, g.Validate()); err != nil {
			return err
		}
		if err := r.Liquidations.Create(ctx, g); err != nil {
			return err
		}

		out = &RecoveryResult{Log: *g}
		if seized > 0 {
			if err := u.appendLedger(ctx, r, l, ledger.EntryFullRecoverySeized, seized, "liquidation_log", g.LogID, in.Notes); err != nil {
				return err
			}
			if out.Settlement, err = u.recordSettlement(ctx, r, l, g); err != nil {
				return err
			}
		}
		next := domain.StatusClosed
		if g.ResidualMinor > 0 {
			next = domain.StatusDefaulted
			if err := u.appendLedger(ctx, r, l, ledger.EntryBadDebt, g.ResidualMinor, "liquidation_log", g.LogID, "uncovered after full recovery"); err != nil {
				return err
			}
		}
		if err := u.setStatus(l, next); err != nil {
			return err
		}
		if err := u.saveLoan(ctx, r, l); err != nil {
			return err
		}
		out.Loan, out.Collaterals = *l, colls
		out.Safety = buildMeter(l, insts, colls, u.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.metrics.Seized(string(collateral.ActionFullRecovery), out.Log.SeizedMinor)
	u.log.WithFields(logrus.Fields{
		"loan_id":  in.LoanID,
		"log_id":   out.Log.LogID,
		"seized":   out.Log.SeizedMinor,
		"returned": out.Log.ReturnedMinor,
		"residual": out.Log.ResidualMinor,
		"status":   out.Loan.Status,
	}).Warn("full liquidation executed")

	if out.Settlement != nil {
		if s, err := u.dispatchSettlement(ctx, out.Settlement.SettlementID); err == nil {
			out.Settlement = s
		} else {
			u.log.WithError(err).WithField("loan_id", in.LoanID).Warn("dispatch merchant settlement")
		}
	}
	out.Refunds = u.refund(ctx, &out.Loan, released)
	return out, nil
}

func (u *Usecase) SettleMerchant(ctx context.Context, in SettleMerchantInput) (*ledger.Settlement, error) {
	if in.SettlementID == "" {
		return nil, errs.Invalid("settlement_id", "is required")
	}
	return runIdempotent(ctx, u, "settleMerchant", in.IdempotencyKey, func() (*ledger.Settlement, error) {
		return u.dispatchSettlement(ctx, in.SettlementID)
	})
}
