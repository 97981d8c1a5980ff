package risk

import (
	"context"
	"time"
)

type Tier string

const (
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// Table: risk_score_snapshots
type Snapshot struct {
	ID          uint64    `gorm:"primaryKey;column:id" json:"-"`
	LoanID      string    `gorm:"size:32;not null;index" json:"loan_id"`
	BorrowerID  string    `gorm:"size:64;not null;index" json:"borrower_id"`
	Tier        Tier      `gorm:"size:8;not null" json:"tier"`
	Probability float64   `gorm:"not null" json:"probability"`
	Source      string    `gorm:"size:16;not null" json:"source"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Snapshot) TableName() string { return "risk_score_snapshots" }

type Repository interface {
	Create(ctx context.Context, s *Snapshot) error
	LatestByLoanID(ctx context.Context, loanID string) (*Snapshot, error)
}

// Features are the borrower attributes a scorer sees.
type Features struct {
	BorrowerID          string `json:"borrower_id"`
	PrincipalMinor      int64  `json:"principal_minor"`
	MonthlyIncomeMinor  int64  `json:"monthly_income_minor"`
	PriorDefaults       int    `json:"prior_defaults"`
	AccountAgeDays      int    `json:"account_age_days"`
	InstallmentCount    int    `json:"installment_count"`
	ExistingActiveLoans int    `json:"existing_active_loans"`
}

type Score struct {
	Tier        Tier    `json:"tier"`
	Probability float64 `json:"probability"`
	Source      string  `json:"source"`
}

type Scorer interface {
	Score(ctx context.Context, f Features) (Score, error)
}

// LTVHaircutBps lowers a plan's LTV for riskier tiers, never below 2000.
func LTVHaircutBps(ltvBps int, tier Tier) int {
	switch tier {
	case TierMedium:
		ltvBps -= 500
	case TierHigh:
		ltvBps -= 1000
	}
	if ltvBps < 2000 {
		ltvBps = 2000
	}
	return ltvBps
}
