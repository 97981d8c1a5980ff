package collateral

import "context"

type Repository interface {
	Create(ctx context.Context, c *Collateral) error
	GetByCollateralID(ctx context.Context, collateralID string) (*Collateral, error)
	// ListByLoanID returns collaterals in a stable order (created_at, id).
	ListByLoanID(ctx context.Context, loanID string) ([]Collateral, error)
	// Update is version-checked like loan.Repository.Update.
	Update(ctx context.Context, c *Collateral) error
}

type LiquidationLogRepository interface {
	Create(ctx context.Context, g *LiquidationLog) error
	ListByLoanID(ctx context.Context, loanID string) ([]LiquidationLog, error)
}
