package loanmock

import (
	"context"
	"errors"
	"testing"

	domain "bnpl-engine/internal/domain/loan"
)

func TestRepo_Create(t *testing.T) {
	ctx := context.Background()
	l := &domain.Loan{LoanID: "LN-1"}

	wantErr := errors.New("boom")
	called := false
	m := &Repo{
		CreateFn: func(gotCtx context.Context, got *domain.Loan) error {
			called = true
			if gotCtx != ctx || got != l {
				t.Fatalf("Create args not forwarded")
			}
			return wantErr
		},
	}
	if err := m.Create(ctx, l); !errors.Is(err, wantErr) {
		t.Fatalf("Create: want %v, got %v", wantErr, err)
	}
	if !called {
		t.Fatalf("CreateFn not called")
	}

	if err := (&Repo{}).Create(ctx, l); err != nil {
		t.Fatalf("Create default: want nil, got %v", err)
	}
}

func TestRepo_GetByLoanID(t *testing.T) {
	ctx := context.Background()
	want := &domain.Loan{LoanID: "LN-2"}

	m := &Repo{GetByLoanIDFn: func(_ context.Context, loanID string) (*domain.Loan, error) {
		if loanID != "LN-2" {
			t.Fatalf("loanID = %s", loanID)
		}
		return want, nil
	}}
	got, err := m.GetByLoanID(ctx, "LN-2")
	if err != nil || got != want {
		t.Fatalf("GetByLoanID: got %v, %v", got, err)
	}

	if _, err := (&Repo{}).GetByLoanID(ctx, "LN-2"); !errors.Is(err, errUnimplemented) {
		t.Fatalf("GetByLoanID default: want errUnimplemented, got %v", err)
	}
}

func TestRepo_Update_DefaultBumpsVersion(t *testing.T) {
	l := &domain.Loan{LoanID: "LN-3", Version: 4}
	if err := (&Repo{}).Update(context.Background(), l); err != nil {
		t.Fatalf("Update default: %v", err)
	}
	if l.Version != 5 {
		t.Fatalf("version = %d, want 5", l.Version)
	}

	wantErr := errors.New("conflict")
	m := &Repo{UpdateFn: func(context.Context, *domain.Loan) error { return wantErr }}
	if err := m.Update(context.Background(), l); !errors.Is(err, wantErr) {
		t.Fatalf("Update: want %v, got %v", wantErr, err)
	}
}

func TestRepo_ListByBorrowerID(t *testing.T) {
	m := &Repo{ListByBorrowerIDFn: func(_ context.Context, b string) ([]domain.Loan, error) {
		return []domain.Loan{{LoanID: "A", BorrowerID: b}}, nil
	}}
	got, err := m.ListByBorrowerID(context.Background(), "BR")
	if err != nil || len(got) != 1 || got[0].BorrowerID != "BR" {
		t.Fatalf("ListByBorrowerID: %+v, %v", got, err)
	}
	if _, err := (&Repo{}).ListByBorrowerID(context.Background(), "BR"); !errors.Is(err, errUnimplemented) {
		t.Fatalf("default: want errUnimplemented, got %v", err)
	}
}
