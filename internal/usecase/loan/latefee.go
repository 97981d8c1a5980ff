package loan

import (
	"context"
	"fmt"
	"strings"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
	"bnpl-engine/internal/usecase/safety"
	"bnpl-engine/pkg/id"

	"github.com/sirupsen/logrus"
)

// applyFee books fee on inst and moves a performing loan to OVERDUE.
func (u *Usecase) applyFee(ctx context.Context, r uow.Repos, l *domain.Loan, inst *domain.Installment, fee int64, colls []collateral.Collateral, initiatedBy string) error {
	hf := safety.HealthFactor(totalAvailable(colls), l.OutstandingMinor)

	inst.LateFeeMinor += fee
	if inst.Status == domain.InstallmentUpcoming {
		inst.Status = domain.InstallmentDue
	}
	if err := r.Installments.Update(ctx, inst); err != nil {
		return err
	}
	l.PenaltyAccruedMinor += fee
	l.OutstandingMinor += fee
	switch l.Status {
	case domain.StatusActive, domain.StatusGrace, domain.StatusPartiallyRecovered:
		if err := u.setStatus(l, domain.StatusOverdue); err != nil {
			return err
		}
	}
	if err := u.appendLedger(ctx, r, l, ledger.EntryLateFeeApplied, fee, "installment", inst.InstallmentID,
		fmt.Sprintf("installment %d", inst.SequenceNo)); err != nil {
		return err
	}
	missed := inst.UnpaidPrincipalMinor()
	g := &collateral.LiquidationLog{
		LogID:                 id.NewID32(),
		LoanID:                l.LoanID,
		InstallmentID:         inst.InstallmentID,
		Action:                collateral.ActionPenaltyApplied,
		MissedAmountMinor:     missed,
		PenaltyMinor:          fee,
		NeededMinor:           missed + fee,
		ResidualMinor:         missed + fee,
		HealthFactorAtTrigger: hf,
		InitiatedBy:           initiatedBy,
		PolicyVersion:         PolicyVersion,
	}
	if err := u.check(l.LoanID, g.Validate()); err != nil {
		return err
	}
	return r.Liquidations.Create(ctx, g)
}

// ApplyLateFee books the previewed late fee once per installment. It is a
// no-op, with a reason, inside the grace window or while penalties are paused.
func (u *Usecase) ApplyLateFee(ctx context.Context, in LateFeeInput) (*LateFeeResult, error) {
	return runIdempotent(ctx, u, "applyLateFee", in.IdempotencyKey, func() (*LateFeeResult, error) {
		return u.applyLateFee(ctx, in)
	})
}

func (u *Usecase) applyLateFee(ctx context.Context, in LateFeeInput) (*LateFeeResult, error) {
	if in.LoanID == "" {
		return nil, errs.Invalid("loan_id", "is required")
	}
	asOf := in.AsOf.UTC()
	if in.AsOf.IsZero() {
		asOf = u.now()
	}

	var out *LateFeeResult
	err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if err := acceptsPayments(l.Status); err != nil {
			return err
		}
		insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
		if err != nil {
			return err
		}
		inst, err := findInstallment(insts, l.LoanID, in.SequenceNo)
		if err != nil {
			return err
		}
		preview := safety.PreviewLateFee(l, inst, asOf)
		out = &LateFeeResult{Preview: preview}

		switch {
		case inst.LateFeeMinor > 0:
			out.Reason = "late fee already applied"
		case l.Status.IsDispute() || l.PenaltyPaused(asOf):
			out.Reason = "penalty accrual paused"
		case !preview.PastGrace || preview.FeeMinor == 0:
			out.Reason = "installment not past its grace deadline"
		}
		if out.Reason != "" {
			out.Loan, out.Installment = *l, *inst
			return nil
		}

		if err := u.applyFee(ctx, r, l, inst, preview.FeeMinor, colls, "system"); err != nil {
			return err
		}
		if err := u.refreshHealth(ctx, r, l, colls); err != nil {
			return err
		}
		if err := u.saveLoan(ctx, r, l); err != nil {
			return err
		}
		out.Loan, out.Installment = *l, *inst
		out.FeeMinor, out.Applied = preview.FeeMinor, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Applied {
		u.log.WithFields(logrus.Fields{"loan_id": in.LoanID, "sequence_no": out.Installment.SequenceNo, "fee": out.FeeMinor}).Info("late fee applied")
	}
	return out, nil
}

func (u *Usecase) WaiveLateFee(ctx context.Context, in WaiveLateFeeInput) (*LateFeeResult, error) {
	return runIdempotent(ctx, u, "waiveLateFee", in.IdempotencyKey, func() (*LateFeeResult, error) {
		return u.waiveLateFee(ctx, in)
	})
}

func (u *Usecase) waiveLateFee(ctx context.Context, in WaiveLateFeeInput) (*LateFeeResult, error) {
	switch {
	case in.LoanID == "":
		return nil, errs.Invalid("loan_id", "is required")
	case in.SequenceNo <= 0:
		return nil, errs.Invalid("sequence_no", "must be positive")
	case strings.TrimSpace(in.Reason) == "":
		return nil, errs.Invalid("reason", "is required")
	}

	var out *LateFeeResult
	err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if l.Status.IsTerminal() {
			return errs.Invalid("status", fmt.Sprintf("loan is %s", l.Status))
		}
		insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
		if err != nil {
			return err
		}
		inst, err := findInstallment(insts, l.LoanID, in.SequenceNo)
		if err != nil {
			return err
		}
		waivable := min(inst.LateFeeMinor, inst.DueMinor())
		if waivable <= 0 {
			return errs.Invalid("sequence_no", "no unpaid late fee on installment")
		}

		now := u.now()
		inst.LateFeeMinor -= waivable
		if inst.DueMinor() == 0 && !inst.Status.Settled() {
			inst.Status = domain.InstallmentPaid
			inst.PaidAt = &now
		}
		if err := r.Installments.Update(ctx, inst); err != nil {
			return err
		}
		l.PenaltyAccruedMinor -= waivable
		l.OutstandingMinor -= waivable
		if err := u.appendLedger(ctx, r, l, ledger.EntryLateFeeWaived, waivable, "installment", inst.InstallmentID, in.Reason); err != nil {
			return err
		}
		if err := u.refreshHealth(ctx, r, l, colls); err != nil {
			return err
		}
		if err := u.saveLoan(ctx, r, l); err != nil {
			return err
		}
		out = &LateFeeResult{
			Loan:        *l,
			Installment: *inst,
			Preview:     safety.PreviewLateFee(l, inst, now),
			FeeMinor:    waivable,
			Reason:      in.Reason,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
