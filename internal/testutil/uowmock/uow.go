package uowmock

import (
	"context"
	"errors"
	"sync/atomic"

	"bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
)

var _ uow.UnitOfWork = (*UoW)(nil)

var errUnimplemented = errors.New("uowmock: method not implemented")

// UoW is a function-backed uow.UnitOfWork. Unset functions return
// errUnimplemented.
type UoW struct {
	WithinTxFn     func(ctx context.Context, fn func(r uow.Repos) error) error
	WithinLoanTxFn func(ctx context.Context, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error

	calls atomic.Int64
}

func New() *UoW { return &UoW{} }

// Over runs every transaction body directly against repos, with no rollback.
// WithinLoanTx resolves the loan through repos.Loans.
func Over(repos uow.Repos) *UoW {
	return New().
		WithWithinTx(func(_ context.Context, fn func(uow.Repos) error) error {
			return fn(repos)
		}).
		WithWithinLoanTx(func(ctx context.Context, loanID string, fn func(uow.Repos, *loan.Loan) error) error {
			l, err := repos.Loans.GetByLoanID(ctx, loanID)
			if err != nil {
				return err
			}
			return fn(repos, l)
		})
}

// Failing returns a UoW whose transactions never run their body.
func Failing(err error) *UoW {
	return New().
		WithWithinTx(func(context.Context, func(uow.Repos) error) error { return err }).
		WithWithinLoanTx(func(context.Context, string, func(uow.Repos, *loan.Loan) error) error { return err })
}

func (m *UoW) WithWithinTx(fn func(context.Context, func(uow.Repos) error) error) *UoW {
	m.WithinTxFn = fn
	return m
}

func (m *UoW) WithWithinLoanTx(fn func(context.Context, string, func(uow.Repos, *loan.Loan) error) error) *UoW {
	m.WithinLoanTxFn = fn
	return m
}

// Calls is the number of transactions started on m.
func (m *UoW) Calls() int { return int(m.calls.Load()) }

func (m *UoW) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	m.calls.Add(1)
	if m.WithinTxFn != nil {
		return m.WithinTxFn(ctx, fn)
	}
	return errUnimplemented
}

func (m *UoW) WithinLoanTx(ctx context.Context, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error {
	m.calls.Add(1)
	if m.WithinLoanTxFn != nil {
		return m.WithinLoanTxFn(ctx, loanID, fn)
	}
	return errUnimplemented
}
