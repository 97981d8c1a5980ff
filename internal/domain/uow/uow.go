package uow

import (
	"context"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/ledger"
	"bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/risk"
)

// Repos is the set of repositories bound to one transaction.
type Repos struct {
	Loans        loan.Repository
	Installments loan.InstallmentRepository
	Collaterals  collateral.Repository
	Liquidations collateral.LiquidationLogRepository
	Ledger       ledger.Repository
	Settlements  ledger.SettlementRepository
	RiskScores   risk.Repository
}

type UnitOfWork interface {
	// WithinTx commits when fn returns nil and rolls everything back otherwise,
	// ledger entries included.
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// WithinLoanTx loads the loan first, then passes it in.
	WithinLoanTx(ctx context.Context, loanID string, fn func(r Repos, l *loan.Loan) error) error
}
