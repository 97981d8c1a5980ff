package memstore

import (
	"context"
	"errors"
	"testing"

	"bnpl-engine/internal/domain/errs"
	ledgerDomain "bnpl-engine/internal/domain/ledger"
	loanDomain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
)

func TestStore_RollbackRestoresEverything(t *testing.T) {
	s := New()
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := s.WithinTx(ctx, func(r uow.Repos) error {
		if err := r.Loans.Create(ctx, &loanDomain.Loan{LoanID: "L1"}); err != nil {
			return err
		}
		if err := r.Ledger.Append(ctx, &ledgerDomain.Entry{LoanID: "L1", EntryType: ledgerDomain.EntryPlanDisbursal}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("want sentinel, got %v", err)
	}
	if _, ok := s.Loan("L1"); ok {
		t.Fatal("loan survived rollback")
	}
	if got := s.LedgerEntries("L1"); len(got) != 0 {
		t.Fatalf("ledger survived rollback: %+v", got)
	}
}

func TestStore_UpdateChecksVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.WithinTx(ctx, func(r uow.Repos) error {
		return r.Loans.Create(ctx, &loanDomain.Loan{LoanID: "L1"})
	})

	err := s.WithinLoanTx(ctx, "L1", func(r uow.Repos, l *loanDomain.Loan) error {
		stale := *l
		if err := r.Loans.Update(ctx, l); err != nil {
			return err
		}
		return r.Loans.Update(ctx, &stale)
	})
	if !errors.Is(err, errs.ErrVersionConflict) {
		t.Fatalf("want version conflict, got %v", err)
	}
	if l, _ := s.Loan("L1"); l.Version != 1 {
		t.Fatalf("version = %d, want 1 after rollback", l.Version)
	}
}

func TestStore_FailLedgerAppend(t *testing.T) {
	s := New()
	s.FailLedgerAppend = errors.New("disk full")
	err := s.WithinTx(context.Background(), func(r uow.Repos) error {
		return r.Ledger.Append(context.Background(), &ledgerDomain.Entry{LoanID: "L1"})
	})
	if err == nil {
		t.Fatal("expected injected failure")
	}
}

func TestStore_WithinLoanTx_NotFound(t *testing.T) {
	err := New().WithinLoanTx(context.Background(), "nope", func(uow.Repos, *loanDomain.Loan) error {
		t.Fatal("callback must not run")
		return nil
	})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}
