package loan

import (
	"context"
	"time"

	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
)

// PastDueInstallments lists UPCOMING/DUE installments whose due date is before asOf.
func (u *Usecase) PastDueInstallments(ctx context.Context, asOf time.Time, limit int) ([]domain.Installment, error) {
	var out []domain.Installment
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		var err error
		out, err = r.Installments.ListUnsettledDueBefore(ctx, asOf, limit)
		return err
	})
	return out, err
}

// MarkDue flags a past-due installment as DUE and moves an ACTIVE loan into
// GRACE. It reports whether anything changed.
func (u *Usecase) MarkDue(ctx context.Context, loanID string, seq int) (bool, error) {
	changed := false
	err := u.uow.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *domain.Loan) error {
		inst, err := r.Installments.GetBySequence(ctx, loanID, seq)
		if err != nil {
			return err
		}
		if inst.Status == domain.InstallmentUpcoming {
			inst.Status = domain.InstallmentDue
			if err := r.Installments.Update(ctx, inst); err != nil {
				return err
			}
			changed = true
		}
		if l.Status == domain.StatusActive {
			if err := u.setStatus(l, domain.StatusGrace); err != nil {
				return err
			}
			changed = true
		}
		if !changed {
			return nil
		}
		return u.saveLoan(ctx, r, l)
	})
	return changed, err
}
