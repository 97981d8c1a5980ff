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

	"github.com/sirupsen/logrus"
)

// enterDispute moves l into a dispute state and makes sure penalty accrual is paused.
func (u *Usecase) enterDispute(l *domain.Loan, to domain.Status, reason string, pauseDays int) error {
	if err := u.setStatus(l, to); err != nil {
		return err
	}
	now := u.now()
	if !l.PenaltyPaused(now) {
		if pauseDays <= 0 {
			pauseDays = defaultDisputePause
		}
		until := now.AddDate(0, 0, pauseDays)
		l.PenaltyPausedUntil = &until
	}
	l.DisputeReason = reason
	return nil
}

func (u *Usecase) leaveDispute(l *domain.Loan, to domain.Status) error {
	if err := u.setStatus(l, to); err != nil {
		return err
	}
	l.PenaltyPausedUntil = nil
	l.DisputeReason = ""
	return nil
}

func (u *Usecase) OpenDispute(ctx context.Context, in OpenDisputeInput) (*LoanView, error) {
	return runIdempotent(ctx, u, "openDispute", in.IdempotencyKey, func() (*LoanView, error) {
		switch {
		case in.LoanID == "":
			return nil, errs.Invalid("loan_id", "is required")
		case strings.TrimSpace(in.Reason) == "":
			return nil, errs.Invalid("reason", "is required")
		case in.PauseDays < 0 || in.PauseDays > 90:
			return nil, errs.Invalid("pause_days", "must be within 0..90")
		}
		to := domain.StatusDisputeOpen
		if in.Escalate {
			to = domain.StatusDisputed
		}
		var out *LoanView
		err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
			if err := u.enterDispute(l, to, in.Reason, in.PauseDays); err != nil {
				return err
			}
			if err := u.saveLoan(ctx, r, l); err != nil {
				return err
			}
			var err error
			out, err = u.viewOf(ctx, r, l)
			return err
		})
		if err != nil {
			return nil, err
		}
		u.log.WithFields(logrus.Fields{"loan_id": in.LoanID, "status": out.Loan.Status, "paused_until": out.Loan.PenaltyPausedUntil}).Info("dispute opened")
		return out, nil
	})
}

func (u *Usecase) ResolveDispute(ctx context.Context, in ResolveDisputeInput) (*LoanView, error) {
	return runIdempotent(ctx, u, "resolveDispute", in.IdempotencyKey, func() (*LoanView, error) {
		if in.LoanID == "" {
			return nil, errs.Invalid("loan_id", "is required")
		}
		to := domain.StatusOverdue
		if in.RestoreActive {
			to = domain.StatusActive
		}
		var out *LoanView
		err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
			if !l.Status.IsDispute() {
				return &errs.InvalidTransitionError{From: string(l.Status), To: string(to)}
			}
			if err := u.leaveDispute(l, to); err != nil {
				return err
			}
			if err := u.saveLoan(ctx, r, l); err != nil {
				return err
			}
			var err error
			out, err = u.viewOf(ctx, r, l)
			return err
		})
		if err != nil {
			return nil, err
		}
		u.log.WithFields(logrus.Fields{"loan_id": in.LoanID, "status": out.Loan.Status, "resolution": in.Resolution}).Info("dispute resolved")
		return out, nil
	})
}

// waiveUnsettled waives every installment that is neither paid nor waived.
func waiveUnsettled(ctx context.Context, r uow.Repos, insts []domain.Installment) error {
	for i := range insts {
		if insts[i].Status.Settled() {
			continue
		}
		insts[i].Status = domain.InstallmentWaived
		if err := r.Installments.Update(ctx, &insts[i]); err != nil {
			return err
		}
	}
	return nil
}

// cancelInTx cancels l. Its open installments are waived and its collateral
// released, so nothing of a cancelled loan is left for the sweeper.
func (u *Usecase) cancelInTx(ctx context.Context, r uow.Repos, l *domain.Loan) ([]returned, error) {
	if err := u.setStatus(l, domain.StatusCancelled); err != nil {
		return nil, err
	}
	insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
	if err != nil {
		return nil, err
	}
	if err := waiveUnsettled(ctx, r, insts); err != nil {
		return nil, err
	}
	return u.releaseAll(ctx, r, l, colls)
}

// closeInTx closes l and releases its collateral. With force, whatever is
// still outstanding is written off first.
func (u *Usecase) closeInTx(ctx context.Context, r uow.Repos, l *domain.Loan, force bool, reason string) ([]returned, []collateral.Collateral, error) {
	if err := domain.CheckTransition(l.Status, domain.StatusClosed); err != nil {
		return nil, nil, err
	}
	insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
	if err != nil {
		return nil, nil, err
	}
	if l.OutstandingMinor > 0 {
		if !force {
			return nil, nil, errs.Invalid("outstanding_minor", fmt.Sprintf("%d still outstanding", l.OutstandingMinor))
		}
		written := l.OutstandingMinor
		if err := waiveUnsettled(ctx, r, insts); err != nil {
			return nil, nil, err
		}
		l.WrittenOffMinor += written
		l.OutstandingMinor = 0
		if err := u.appendLedger(ctx, r, l, ledger.EntryWriteOff, written, "loan", l.LoanID, reason); err != nil {
			return nil, nil, err
		}
	}
	wasDispute := l.Status.IsDispute()
	if err := u.setStatus(l, domain.StatusClosed); err != nil {
		return nil, nil, err
	}
	if wasDispute {
		l.PenaltyPausedUntil = nil
		l.DisputeReason = ""
	}
	released, err := u.releaseAll(ctx, r, l, colls)
	if err != nil {
		return nil, nil, err
	}
	return released, colls, nil
}

// TransitionLoanState applies an explicit state change. Side effects of the
// target state (dispute pause, close rules, collateral release) go with it.
func (u *Usecase) TransitionLoanState(ctx context.Context, in TransitionInput) (*LoanView, error) {
	return runIdempotent(ctx, u, "transitionLoanState", in.IdempotencyKey, func() (*LoanView, error) {
		to := domain.Status(strings.ToUpper(strings.TrimSpace(string(in.To))))
		switch {
		case in.LoanID == "":
			return nil, errs.Invalid("loan_id", "is required")
		case !domain.KnownStatus(to):
			return nil, errs.Invalid("to", fmt.Sprintf("unknown status %q", in.To))
		}

		var (
			out      *LoanView
			released []returned
		)
		err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
			var err error
			switch {
			case to == domain.StatusClosed:
				released, _, err = u.closeInTx(ctx, r, l, false, in.Reason)
			case to.IsDispute():
				reason := in.Reason
				if reason == "" {
					reason = "manual transition"
				}
				err = u.enterDispute(l, to, reason, 0)
			case l.Status.IsDispute():
				err = u.leaveDispute(l, to)
			case to == domain.StatusCancelled:
				released, err = u.cancelInTx(ctx, r, l)
			default:
				err = u.setStatus(l, to)
			}
			if err != nil {
				return err
			}
			if err := u.saveLoan(ctx, r, l); err != nil {
				return err
			}
			out, err = u.viewOf(ctx, r, l)
			return err
		})
		if err != nil {
			return nil, err
		}
		out.Refunds = u.refund(ctx, &out.Loan, released)
		u.log.WithFields(logrus.Fields{"loan_id": in.LoanID, "to": to, "reason": in.Reason}).Info("loan state changed")
		return out, nil
	})
}

func (u *Usecase) CloseLoan(ctx context.Context, in CloseLoanInput) (*ReleaseResult, error) {
	return runIdempotent(ctx, u, "closeLoan", in.IdempotencyKey, func() (*ReleaseResult, error) {
		switch {
		case in.LoanID == "":
			return nil, errs.Invalid("loan_id", "is required")
		case in.Force && strings.TrimSpace(in.Reason) == "":
			return nil, errs.Invalid("reason", "is required for a forced close")
		}
		var (
			out      *ReleaseResult
			released []returned
		)
		err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
			var (
				colls []collateral.Collateral
				err   error
			)
			if released, colls, err = u.closeInTx(ctx, r, l, in.Force, in.Reason); err != nil {
				return err
			}
			if err := u.saveLoan(ctx, r, l); err != nil {
				return err
			}
			out = &ReleaseResult{Loan: *l, Released: colls}
			return nil
		})
		if err != nil {
			return nil, err
		}
		out.Refunds = u.refund(ctx, &out.Loan, released)
		u.log.WithFields(logrus.Fields{
			"loan_id":     in.LoanID,
			"forced":      in.Force,
			"written_off": out.Loan.WrittenOffMinor,
		}).Info("loan closed")
		return out, nil
	})
}

// ReleaseCollateral returns remaining collateral of a closed or cancelled
// loan. Already released collateral is left as is.
func (u *Usecase) ReleaseCollateral(ctx context.Context, in ReleaseCollateralInput) (*ReleaseResult, error) {
	return runIdempotent(ctx, u, "releaseCollateral", in.IdempotencyKey, func() (*ReleaseResult, error) {
		if in.LoanID == "" {
			return nil, errs.Invalid("loan_id", "is required")
		}
		var (
			out      *ReleaseResult
			released []returned
		)
		err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
			if !l.Status.IsTerminal() {
				return errs.Invalid("status", fmt.Sprintf("loan is %s; close or cancel it first", l.Status))
			}
			colls, err := r.Collaterals.ListByLoanID(ctx, l.LoanID)
			if err != nil {
				return err
			}
			if released, err = u.releaseAll(ctx, r, l, colls); err != nil {
				return err
			}
			out = &ReleaseResult{Loan: *l, Released: colls}
			return nil
		})
		if err != nil {
			return nil, err
		}
		out.Refunds = u.refund(ctx, &out.Loan, released)
		return out, nil
	})
}
