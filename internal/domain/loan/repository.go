package loan

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, l *Loan) error
	// GetByLoanID returns errs.NotFoundError when the loan does not exist.
	GetByLoanID(ctx context.Context, loanID string) (*Loan, error)
	// Update writes l only if the stored version still equals l.Version and
	// bumps l.Version on success; otherwise errs.VersionConflictError.
	Update(ctx context.Context, l *Loan) error
	ListByBorrowerID(ctx context.Context, borrowerID string) ([]Loan, error)
}

type InstallmentRepository interface {
	CreateBatch(ctx context.Context, items []Installment) error
	// ListByLoanID returns the schedule ordered by sequence number.
	ListByLoanID(ctx context.Context, loanID string) ([]Installment, error)
	GetBySequence(ctx context.Context, loanID string, seq int) (*Installment, error)
	Update(ctx context.Context, i *Installment) error
	// ListUnsettledDueBefore returns UPCOMING/DUE installments with due_at < asOf
	// that belong to loans in one of SweepableStatuses, oldest first.
	ListUnsettledDueBefore(ctx context.Context, asOf time.Time, limit int) ([]Installment, error)
}
