package ledger

import "context"

// Repository is append-only on purpose: there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	ListByLoanID(ctx context.Context, loanID string) ([]Entry, error)
}

type SettlementRepository interface {
	Create(ctx context.Context, s *Settlement) error
	GetBySettlementID(ctx context.Context, settlementID string) (*Settlement, error)
	Update(ctx context.Context, s *Settlement) error
	ListByLoanID(ctx context.Context, loanID string) ([]Settlement, error)
}
