package ledger

import "time"

type EntryType string

const (
	EntryPlanDisbursal         EntryType = "PLAN_DISBURSAL"
	EntryCollateralLock        EntryType = "COLLATERAL_LOCK"
	EntryCollateralTopUp       EntryType = "COLLATERAL_TOP_UP"
	EntryCollateralRelease     EntryType = "COLLATERAL_RELEASE"
	EntryInstallmentPayment    EntryType = "INSTALLMENT_PAYMENT"
	EntryLateFeeApplied        EntryType = "LATE_FEE_APPLIED"
	EntryLateFeeWaived         EntryType = "LATE_FEE_WAIVED"
	EntryPartialRecoverySeized EntryType = "PARTIAL_RECOVERY_SEIZURE"
	EntryFullRecoverySeized    EntryType = "FULL_RECOVERY_SEIZURE"
	EntryBadDebt               EntryType = "BAD_DEBT_RESIDUAL"
	EntryWriteOff              EntryType = "WRITE_OFF"
	EntryMerchantSettlement    EntryType = "MERCHANT_SETTLEMENT"
)

// Table: ledger_entries. Append-only: rows are never updated or deleted.
type Entry struct {
	ID            uint64    `gorm:"primaryKey;column:id" json:"-"`
	EntryID       string    `gorm:"size:36;uniqueIndex:ux_ledger_entries_entry_id" json:"entry_id"`
	LoanID        string    `gorm:"size:32;not null;index" json:"loan_id"`
	EntryType     EntryType `gorm:"size:32;not null;index" json:"entry_type"`
	AmountMinor   int64     `gorm:"not null" json:"amount_minor"`
	Currency      string    `gorm:"size:3;not null" json:"currency"`
	ReferenceType string    `gorm:"size:32" json:"reference_type,omitempty"`
	ReferenceID   string    `gorm:"size:64;index" json:"reference_id,omitempty"`
	Memo          string    `gorm:"type:text" json:"memo,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Entry) TableName() string { return "ledger_entries" }

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementSubmitted SettlementStatus = "SUBMITTED"
	SettlementSimulated SettlementStatus = "SIMULATED"
)

// Table: merchant_settlements
type Settlement struct {
	ID             uint64           `gorm:"primaryKey;column:id" json:"-"`
	SettlementID   string           `gorm:"size:36;uniqueIndex:ux_merchant_settlements_id" json:"settlement_id"`
	LoanID         string           `gorm:"size:32;not null;index" json:"loan_id"`
	MerchantID     string           `gorm:"size:64;not null;index" json:"merchant_id"`
	AmountMinor    int64            `gorm:"not null" json:"amount_minor"`
	Currency       string           `gorm:"size:3;not null" json:"currency"`
	Reason         string           `gorm:"size:32;not null" json:"reason"`
	SourceLogID    string           `gorm:"size:32" json:"source_log_id,omitempty"`
	Status         SettlementStatus `gorm:"size:16;not null;index" json:"status"`
	GatewayOrderID string           `gorm:"size:64" json:"gateway_order_id,omitempty"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	Version        int64            `gorm:"not null;default:1" json:"version"`
}

func (Settlement) TableName() string { return "merchant_settlements" }
