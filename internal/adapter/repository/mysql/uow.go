package mysql

import (
	"context"

	collDomain "bnpl-engine/internal/domain/collateral"
	ledgerDomain "bnpl-engine/internal/domain/ledger"
	"bnpl-engine/internal/domain/loan"
	riskDomain "bnpl-engine/internal/domain/risk"
	"bnpl-engine/internal/domain/uow"

	"gorm.io/gorm"
)

type GormUoW struct{ db *gorm.DB }

func NewGormUoW(db *gorm.DB) *GormUoW { return &GormUoW{db: db} }

func reposFor(tx *gorm.DB) uow.Repos {
	return uow.Repos{
		Loans:        &LoanRepository{db: tx},
		Installments: &InstallmentRepository{db: tx},
		Collaterals:  &CollateralRepository{db: tx},
		Liquidations: &LiquidationLogRepository{db: tx},
		Ledger:       &LedgerRepository{db: tx},
		Settlements:  &SettlementRepository{db: tx},
		RiskScores:   &RiskScoreRepository{db: tx},
	}
}

func (u *GormUoW) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(reposFor(tx))
	})
}

func (u *GormUoW) WithinLoanTx(ctx context.Context, loanID string, fn func(r uow.Repos, l *loan.Loan) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// lock the loan row up-front to prevent races
		l, err := (&LoanRepository{db: tx}).getByLoanIDForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		return fn(reposFor(tx), l)
	})
}

// Migrate creates or alters every table the engine owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&loan.Loan{},
		&loan.Installment{},
		&collDomain.Collateral{},
		&collDomain.LiquidationLog{},
		&ledgerDomain.Entry{},
		&ledgerDomain.Settlement{},
		&riskDomain.Snapshot{},
	)
}
