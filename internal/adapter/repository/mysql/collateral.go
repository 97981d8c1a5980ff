package mysql

import (
	"context"

	collDomain "bnpl-engine/internal/domain/collateral"

	"gorm.io/gorm"
)

type CollateralRepository struct{ db *gorm.DB }

func NewCollateralRepository(db *gorm.DB) *CollateralRepository {
	return &CollateralRepository{db: db}
}

func (r *CollateralRepository) Create(ctx context.Context, c *collDomain.Collateral) error {
	if c.Version == 0 {
		c.Version = 1
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *CollateralRepository) GetByCollateralID(ctx context.Context, collateralID string) (*collDomain.Collateral, error) {
	var out collDomain.Collateral
	res := r.db.WithContext(ctx).Where("collateral_id = ?", collateralID).First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error, "collateral", collateralID)
	}
	return &out, nil
}

func (r *CollateralRepository) ListByLoanID(ctx context.Context, loanID string) ([]collDomain.Collateral, error) {
	var out []collDomain.Collateral
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *CollateralRepository) Update(ctx context.Context, c *collDomain.Collateral) error {
	return updateVersioned(ctx, r.db, c, &c.Version, "collateral", c.CollateralID)
}

type LiquidationLogRepository struct{ db *gorm.DB }

func NewLiquidationLogRepository(db *gorm.DB) *LiquidationLogRepository {
	return &LiquidationLogRepository{db: db}
}

func (r *LiquidationLogRepository) Create(ctx context.Context, g *collDomain.LiquidationLog) error {
	if g.Version == 0 {
		g.Version = 1
	}
	return r.db.WithContext(ctx).Create(g).Error
}

func (r *LiquidationLogRepository) ListByLoanID(ctx context.Context, loanID string) ([]collDomain.LiquidationLog, error) {
	var out []collDomain.LiquidationLog
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
