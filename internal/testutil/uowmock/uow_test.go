package uowmock

import (
	"context"
	"errors"
	"testing"

	"bnpl-engine/internal/domain/errs"
	ledgerDomain "bnpl-engine/internal/domain/ledger"
	"bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
	"bnpl-engine/internal/testutil/loanmock"
)

// nopLedger is the smallest ledger.Repository, enough to check forwarding.
type nopLedger struct{}

func (nopLedger) Append(context.Context, *ledgerDomain.Entry) error { return nil }
func (nopLedger) ListByLoanID(context.Context, string) ([]ledgerDomain.Entry, error) {
	return nil, nil
}

func TestOver_ForwardsRepos(t *testing.T) {
	loans := &loanmock.Repo{}
	repos := uow.Repos{Loans: loans, Ledger: nopLedger{}}
	m := Over(repos)

	ran := false
	err := m.WithinTx(context.Background(), func(r uow.Repos) error {
		ran = true
		if r.Loans != loans || r.Ledger != (nopLedger{}) {
			t.Fatalf("repos not forwarded: %+v", r)
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithinTx ran=%v err=%v", ran, err)
	}
	if m.Calls() != 1 {
		t.Fatalf("calls = %d", m.Calls())
	}
}

func TestOver_LoadsLoanForLoanTx(t *testing.T) {
	stored := &loan.Loan{LoanID: "LN-7", Status: loan.StatusActive, Version: 3}
	loans := &loanmock.Repo{
		GetByLoanIDFn: func(_ context.Context, id string) (*loan.Loan, error) {
			if id != "LN-7" {
				return nil, errs.NotFound("loan", id)
			}
			return stored, nil
		},
	}
	m := Over(uow.Repos{Loans: loans})

	err := m.WithinLoanTx(context.Background(), "LN-7", func(r uow.Repos, l *loan.Loan) error {
		if l != stored {
			t.Fatalf("loan not forwarded: %+v", l)
		}
		return r.Loans.Update(context.Background(), l)
	})
	if err != nil {
		t.Fatalf("WithinLoanTx err: %v", err)
	}
	if stored.Version != 4 {
		t.Fatalf("version = %d, want 4", stored.Version)
	}

	called := false
	err = m.WithinLoanTx(context.Background(), "LN-missing", func(uow.Repos, *loan.Loan) error {
		called = true
		return nil
	})
	if !errors.Is(err, errs.ErrNotFound) || called {
		t.Fatalf("missing loan: err=%v called=%v", err, called)
	}
}

func TestFailing_SkipsBody(t *testing.T) {
	conflict := &errs.VersionConflictError{Entity: "loan", ID: "LN-1", Version: 2}
	m := Failing(conflict)

	if err := m.WithinTx(context.Background(), func(uow.Repos) error {
		t.Fatal("body must not run")
		return nil
	}); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("WithinTx err = %v", err)
	}
	if err := m.WithinLoanTx(context.Background(), "LN-1", func(uow.Repos, *loan.Loan) error {
		t.Fatal("body must not run")
		return nil
	}); !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("WithinLoanTx err = %v", err)
	}
	if m.Calls() != 2 {
		t.Fatalf("calls = %d", m.Calls())
	}
}

func TestUnsetFunctions(t *testing.T) {
	m := New()
	if err := m.WithinTx(context.Background(), func(uow.Repos) error { return nil }); !errors.Is(err, errUnimplemented) {
		t.Fatalf("WithinTx = %v", err)
	}
	if err := m.WithinLoanTx(context.Background(), "x", func(uow.Repos, *loan.Loan) error { return nil }); !errors.Is(err, errUnimplemented) {
		t.Fatalf("WithinLoanTx = %v", err)
	}
}

func TestBodyErrorPropagates(t *testing.T) {
	boom := errors.New("ledger append failed")
	m := Over(uow.Repos{})
	if err := m.WithinTx(context.Background(), func(uow.Repos) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
