package loan

import (
	"context"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
)

func (u *Usecase) GetLoan(ctx context.Context, loanID string) (*LoanView, error) {
	var out *LoanView
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		l, err := r.Loans.GetByLoanID(ctx, loanID)
		if err != nil {
			return err
		}
		out, err = u.viewOf(ctx, r, l)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *Usecase) ListBorrowerLoans(ctx context.Context, borrowerID string) ([]domain.Loan, error) {
	if borrowerID == "" {
		return nil, errs.Invalid("borrower_id", "is required")
	}
	var out []domain.Loan
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		var err error
		out, err = r.Loans.ListByBorrowerID(ctx, borrowerID)
		return err
	})
	return out, err
}

// AuditTrail is everything recorded against a loan that moved or priced money.
type AuditTrail struct {
	LoanID       string                      `json:"loan_id"`
	Ledger       []ledger.Entry              `json:"ledger"`
	Liquidations []collateral.LiquidationLog `json:"liquidations"`
	Settlements  []ledger.Settlement         `json:"settlements"`
}

func (u *Usecase) GetAuditTrail(ctx context.Context, loanID string) (*AuditTrail, error) {
	out := &AuditTrail{LoanID: loanID}
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		if _, err := r.Loans.GetByLoanID(ctx, loanID); err != nil {
			return err
		}
		var err error
		if out.Ledger, err = r.Ledger.ListByLoanID(ctx, loanID); err != nil {
			return err
		}
		if out.Liquidations, err = r.Liquidations.ListByLoanID(ctx, loanID); err != nil {
			return err
		}
		out.Settlements, err = r.Settlements.ListByLoanID(ctx, loanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
