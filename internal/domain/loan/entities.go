package loan

import (
	"time"

	"bnpl-engine/internal/domain/errs"

	"gorm.io/gorm"
)

type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusPendingKYC         Status = "PENDING_KYC"
	StatusEligible           Status = "ELIGIBLE"
	StatusActive             Status = "ACTIVE"
	StatusGrace              Status = "GRACE"
	StatusOverdue            Status = "OVERDUE"
	StatusDelinquent         Status = "DELINQUENT"
	StatusDisputeOpen        Status = "DISPUTE_OPEN"
	StatusDisputed           Status = "DISPUTED"
	StatusPartiallyRecovered Status = "PARTIALLY_RECOVERED"
	StatusDefaulted          Status = "DEFAULTED"
	StatusClosed             Status = "CLOSED"
	StatusCancelled          Status = "CANCELLED"
)

// IsDispute reports whether penalty accrual must be paused in this state.
func (s Status) IsDispute() bool { return s == StatusDisputeOpen || s == StatusDisputed }

func (s Status) IsTerminal() bool { return s == StatusClosed || s == StatusCancelled }

// SweepableStatuses are the loan states whose past-due installments the
// overdue sweeper acts on.
var SweepableStatuses = []Status{StatusActive, StatusGrace, StatusOverdue, StatusDelinquent, StatusPartiallyRecovered}

func (s Status) Sweepable() bool {
	for _, v := range SweepableStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Table: loans
type Loan struct {
	ID                      uint64         `gorm:"primaryKey;column:id" json:"-"`
	LoanID                  string         `gorm:"size:32;uniqueIndex:ux_loans_loan_id" json:"loan_id"`
	BorrowerID              string         `gorm:"size:64;index:idx_loans_borrower" json:"borrower_id"`
	MerchantID              string         `gorm:"size:64;index:idx_loans_merchant" json:"merchant_id"`
	PlanID                  string         `gorm:"size:32" json:"plan_id"`
	PrincipalMinor          int64          `gorm:"not null" json:"principal_minor"`
	Currency                string         `gorm:"size:3;not null" json:"currency"`
	TenureDays              int            `gorm:"not null" json:"tenure_days"`
	InstallmentCount        int            `gorm:"not null" json:"installment_count"`
	LTVBps                  int            `gorm:"column:ltv_bps;not null" json:"ltv_bps"`
	DangerLimitBps          int            `gorm:"not null" json:"danger_limit_bps"`
	LiquidationThresholdBps int            `gorm:"not null" json:"liquidation_threshold_bps"`
	GraceWindowHours        int            `gorm:"not null" json:"grace_window_hours"`
	LateFeeFlatMinor        int64          `gorm:"not null" json:"late_fee_flat_minor"`
	LateFeeBps              int            `gorm:"not null" json:"late_fee_bps"`
	RequiredDepositMinor    int64          `gorm:"not null" json:"required_deposit_minor"`
	Status                  Status         `gorm:"size:24;index;not null" json:"status"`
	OutstandingMinor        int64          `gorm:"not null" json:"outstanding_minor"`
	PaidMinor               int64          `gorm:"not null" json:"paid_minor"`
	RecoveredMinor          int64          `gorm:"not null" json:"recovered_minor"`
	WrittenOffMinor         int64          `gorm:"not null" json:"written_off_minor"`
	PenaltyAccruedMinor     int64          `gorm:"not null" json:"penalty_accrued_minor"`
	PenaltyPausedUntil      *time.Time     `json:"penalty_paused_until,omitempty"`
	DisputeReason           string         `gorm:"type:text" json:"dispute_reason,omitempty"`
	StateUpdatedAt          time.Time      `json:"state_updated_at"`
	CreatedAt               time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt               gorm.DeletedAt `gorm:"index" json:"-"`
	Version                 int64          `gorm:"not null;default:1" json:"version"`
}

func (Loan) TableName() string { return "loans" }

// Validate checks the loan's structural invariants.
func (l *Loan) Validate() error {
	for name, bps := range map[string]int{
		"ltv_bps":                   l.LTVBps,
		"danger_limit_bps":          l.DangerLimitBps,
		"liquidation_threshold_bps": l.LiquidationThresholdBps,
		"late_fee_bps":              l.LateFeeBps,
	} {
		if bps < 0 || bps > 10000 {
			return errs.Invalid(name, "must be within 0..10000")
		}
	}
	if l.DangerLimitBps >= l.LiquidationThresholdBps {
		return errs.Invalid("danger_limit_bps", "must be below liquidation_threshold_bps")
	}
	if l.OutstandingMinor < 0 {
		return &errs.InvariantViolationError{Invariant: "outstanding_non_negative", Detail: l.LoanID}
	}
	if l.OutstandingMinor > l.PrincipalMinor+l.PenaltyAccruedMinor {
		return &errs.InvariantViolationError{Invariant: "outstanding_bounded", Detail: l.LoanID}
	}
	if l.Status.IsDispute() && l.PenaltyPausedUntil == nil {
		return &errs.InvariantViolationError{Invariant: "dispute_pause_set", Detail: l.LoanID}
	}
	return nil
}

// PenaltyPaused reports whether late-fee accrual is paused at asOf.
func (l *Loan) PenaltyPaused(asOf time.Time) bool {
	return l.PenaltyPausedUntil != nil && asOf.Before(*l.PenaltyPausedUntil)
}

type InstallmentStatus string

const (
	InstallmentUpcoming InstallmentStatus = "UPCOMING"
	InstallmentDue      InstallmentStatus = "DUE"
	InstallmentPaid     InstallmentStatus = "PAID"
	InstallmentMissed   InstallmentStatus = "MISSED"
	InstallmentWaived   InstallmentStatus = "WAIVED"
)

// Settled reports whether the installment no longer carries an obligation.
func (s InstallmentStatus) Settled() bool { return s == InstallmentPaid || s == InstallmentWaived }

// Table: installments
type Installment struct {
	ID             uint64            `gorm:"primaryKey;column:id" json:"-"`
	InstallmentID  string            `gorm:"size:32;uniqueIndex:ux_installments_installment_id" json:"installment_id"`
	LoanID         string            `gorm:"size:32;not null;uniqueIndex:ux_installments_loan_seq" json:"loan_id"`
	SequenceNo     int               `gorm:"not null;uniqueIndex:ux_installments_loan_seq" json:"sequence_no"`
	DueAt          time.Time         `gorm:"not null;index" json:"due_at"`
	GraceDeadline  time.Time         `gorm:"not null" json:"grace_deadline"`
	AmountMinor    int64             `gorm:"not null" json:"amount_minor"`
	PaidMinor      int64             `gorm:"not null" json:"paid_minor"`
	RecoveredMinor int64             `gorm:"not null" json:"recovered_minor"`
	LateFeeMinor   int64             `gorm:"not null" json:"late_fee_minor"`
	Status         InstallmentStatus `gorm:"size:16;index;not null" json:"status"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt    `gorm:"index" json:"-"`
	Version        int64             `gorm:"not null;default:1" json:"version"`
}

func (Installment) TableName() string { return "installments" }

// DueMinor is what is still owed on this installment, late fee included.
// Payments and recovered collateral both count against it.
func (i *Installment) DueMinor() int64 {
	d := i.AmountMinor + i.LateFeeMinor - i.PaidMinor - i.RecoveredMinor
	if d < 0 {
		return 0
	}
	return d
}

// UnpaidPrincipalMinor is the uncovered part of the scheduled amount.
func (i *Installment) UnpaidPrincipalMinor() int64 {
	d := i.AmountMinor - i.PaidMinor - i.RecoveredMinor
	if d < 0 {
		return 0
	}
	return d
}
