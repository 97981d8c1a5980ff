package collateral

import (
	"time"

	"bnpl-engine/internal/domain/errs"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusLocked             Status = "LOCKED"
	StatusToppedUp           Status = "TOPPED_UP"
	StatusPartiallyRecovered Status = "PARTIALLY_RECOVERED"
	StatusReleased           Status = "RELEASED"
)

type SafetyColor string

const (
	ColorGreen  SafetyColor = "green"
	ColorYellow SafetyColor = "yellow"
	ColorRed    SafetyColor = "red"
)

// Table: collaterals
//
// RecoveredMinor counts value that has been accounted for: SeizedMinor plus
// ReturnedMinor. A RELEASED collateral is fully accounted for.
type Collateral struct {
	ID                   uint64          `gorm:"primaryKey;column:id" json:"-"`
	CollateralID         string          `gorm:"size:32;uniqueIndex:ux_collaterals_collateral_id" json:"collateral_id"`
	LoanID               string          `gorm:"size:32;not null;index" json:"loan_id"`
	BorrowerID           string          `gorm:"size:64;not null;index" json:"borrower_id"`
	Asset                string          `gorm:"size:16;not null" json:"asset"`
	DepositedUnits       decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"deposited_units"`
	LastPrice            decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"last_price"`
	CollateralValueMinor int64           `gorm:"not null" json:"collateral_value_minor"`
	RecoverableMinor     int64           `gorm:"not null" json:"recoverable_minor"`
	RecoveredMinor       int64           `gorm:"not null" json:"recovered_minor"`
	SeizedMinor          int64           `gorm:"not null" json:"seized_minor"`
	ReturnedMinor        int64           `gorm:"not null" json:"returned_minor"`
	HealthFactor         float64         `gorm:"not null" json:"health_factor"`
	SafetyColor          SafetyColor     `gorm:"size:8;not null" json:"safety_color"`
	Status               Status          `gorm:"size:24;not null;index" json:"status"`
	DepositRef           string          `gorm:"size:128" json:"deposit_ref,omitempty"`
	ReleasedAt           *time.Time      `json:"released_at,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt            gorm.DeletedAt  `gorm:"index" json:"-"`
	Version              int64           `gorm:"not null;default:1" json:"version"`
}

func (Collateral) TableName() string { return "collaterals" }

// AvailableMinor is the value that can still be seized or returned.
func (c *Collateral) AvailableMinor() int64 {
	if c.Status == StatusReleased {
		return 0
	}
	a := c.CollateralValueMinor - c.RecoveredMinor
	if a < 0 {
		return 0
	}
	return a
}

func (c *Collateral) Validate() error {
	if c.RecoveredMinor > c.CollateralValueMinor {
		return &errs.InvariantViolationError{Invariant: "recovered_within_value", Detail: c.CollateralID}
	}
	if c.SeizedMinor+c.ReturnedMinor != c.RecoveredMinor {
		return &errs.InvariantViolationError{Invariant: "recovered_accounted", Detail: c.CollateralID}
	}
	if c.Status == StatusReleased && c.RecoveredMinor != c.CollateralValueMinor {
		return &errs.InvariantViolationError{Invariant: "released_fully_accounted", Detail: c.CollateralID}
	}
	return nil
}

type Action string

const (
	ActionPartialRecovery Action = "PARTIAL_RECOVERY"
	ActionFullRecovery    Action = "FULL_RECOVERY"
	ActionPenaltyApplied  Action = "PENALTY_APPLIED"
)

// Seizure is the amount taken from a single collateral within one recovery.
type Seizure struct {
	CollateralID string `json:"collateral_id"`
	SeizedMinor  int64  `json:"seized_minor"`
}

// Table: liquidation_logs
type LiquidationLog struct {
	ID                    uint64         `gorm:"primaryKey;column:id" json:"-"`
	LogID                 string         `gorm:"size:32;uniqueIndex:ux_liquidation_logs_log_id" json:"log_id"`
	LoanID                string         `gorm:"size:32;not null;index" json:"loan_id"`
	InstallmentID         string         `gorm:"size:32" json:"installment_id,omitempty"`
	Action                Action         `gorm:"size:24;not null" json:"action"`
	MissedAmountMinor     int64          `gorm:"not null" json:"missed_amount_minor"`
	PenaltyMinor          int64          `gorm:"not null" json:"penalty_minor"`
	NeededMinor           int64          `gorm:"not null" json:"needed_minor"`
	SeizedMinor           int64          `gorm:"not null" json:"seized_minor"`
	ReturnedMinor         int64          `gorm:"not null" json:"returned_minor"`
	ResidualMinor         int64          `gorm:"not null" json:"residual_minor"`
	HealthFactorAtTrigger float64        `gorm:"not null" json:"health_factor_at_trigger"`
	Seizures              []Seizure      `gorm:"serializer:json;type:text" json:"seizures"`
	InitiatedBy           string         `gorm:"size:32;not null" json:"initiated_by"`
	PolicyVersion         string         `gorm:"size:32" json:"policy_version"`
	Notes                 string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt             time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`
	Version               int64          `gorm:"not null;default:1" json:"version"`
}

func (LiquidationLog) TableName() string { return "liquidation_logs" }

// Validate checks the "seize no more than needed" guarantee.
func (g *LiquidationLog) Validate() error {
	if g.SeizedMinor > g.NeededMinor {
		return &errs.InvariantViolationError{Invariant: "seized_within_needed", Detail: g.LogID}
	}
	if g.NeededMinor < g.MissedAmountMinor+g.PenaltyMinor {
		return &errs.InvariantViolationError{Invariant: "needed_covers_obligation", Detail: g.LogID}
	}
	var sum int64
	for _, s := range g.Seizures {
		sum += s.SeizedMinor
	}
	if sum != g.SeizedMinor {
		return &errs.InvariantViolationError{Invariant: "seizures_sum", Detail: g.LogID}
	}
	return nil
}
