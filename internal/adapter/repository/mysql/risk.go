package mysql

import (
	"context"

	riskDomain "bnpl-engine/internal/domain/risk"

	"gorm.io/gorm"
)

type RiskScoreRepository struct{ db *gorm.DB }

func NewRiskScoreRepository(db *gorm.DB) *RiskScoreRepository { return &RiskScoreRepository{db: db} }

func (r *RiskScoreRepository) Create(ctx context.Context, s *riskDomain.Snapshot) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *RiskScoreRepository) LatestByLoanID(ctx context.Context, loanID string) (*riskDomain.Snapshot, error) {
	var out riskDomain.Snapshot
	res := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("created_at DESC, id DESC").
		First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error, "risk score", loanID)
	}
	return &out, nil
}
