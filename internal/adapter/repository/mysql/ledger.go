package mysql

import (
	"context"

	ledgerDomain "bnpl-engine/internal/domain/ledger"

	"gorm.io/gorm"
)

// LedgerRepository only inserts; entries are immutable once written.
type LedgerRepository struct{ db *gorm.DB }

func NewLedgerRepository(db *gorm.DB) *LedgerRepository { return &LedgerRepository{db: db} }

func (r *LedgerRepository) Append(ctx context.Context, e *ledgerDomain.Entry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *LedgerRepository) ListByLoanID(ctx context.Context, loanID string) ([]ledgerDomain.Entry, error) {
	var out []ledgerDomain.Entry
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

type SettlementRepository struct{ db *gorm.DB }

func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func (r *SettlementRepository) Create(ctx context.Context, s *ledgerDomain.Settlement) error {
	if s.Version == 0 {
		s.Version = 1
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SettlementRepository) GetBySettlementID(ctx context.Context, settlementID string) (*ledgerDomain.Settlement, error) {
	var out ledgerDomain.Settlement
	res := r.db.WithContext(ctx).Where("settlement_id = ?", settlementID).First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error, "settlement", settlementID)
	}
	return &out, nil
}

func (r *SettlementRepository) Update(ctx context.Context, s *ledgerDomain.Settlement) error {
	return updateVersioned(ctx, r.db, s, &s.Version, "settlement", s.SettlementID)
}

func (r *SettlementRepository) ListByLoanID(ctx context.Context, loanID string) ([]ledgerDomain.Settlement, error) {
	var out []ledgerDomain.Settlement
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
