package loan

import (
	"time"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/payment"
	"bnpl-engine/internal/domain/risk"
	"bnpl-engine/internal/usecase/safety"

	"github.com/shopspring/decimal"
)

type CreatePlanInput struct {
	IdempotencyKey string `json:"-"`

	BorrowerID     string    `json:"borrower_id"`
	MerchantID     string    `json:"merchant_id"`
	PlanID         string    `json:"plan_id"`
	PrincipalMinor int64     `json:"principal_minor"`
	Currency       string    `json:"currency"`
	KYCVerified    bool      `json:"kyc_verified"`
	StartAt        time.Time `json:"start_at"`

	// Optional overrides of the plan defaults.
	TenureDays              *int   `json:"tenure_days,omitempty"`
	InstallmentCount        *int   `json:"installment_count,omitempty"`
	LTVBps                  *int   `json:"ltv_bps,omitempty"`
	DangerLimitBps          *int   `json:"danger_limit_bps,omitempty"`
	LiquidationThresholdBps *int   `json:"liquidation_threshold_bps,omitempty"`
	GraceWindowHours        *int   `json:"grace_window_hours,omitempty"`
	LateFeeFlatMinor        *int64 `json:"late_fee_flat_minor,omitempty"`
	LateFeeBps              *int   `json:"late_fee_bps,omitempty"`

	// Risk features.
	MonthlyIncomeMinor  int64 `json:"monthly_income_minor"`
	PriorDefaults       int   `json:"prior_defaults"`
	AccountAgeDays      int   `json:"account_age_days"`
	ExistingActiveLoans int   `json:"existing_active_loans"`
}

type LockDepositInput struct {
	IdempotencyKey string          `json:"-"`
	LoanID         string          `json:"loan_id"`
	Asset          string          `json:"asset"`
	Units          decimal.Decimal `json:"units"`
	DepositRef     string          `json:"deposit_ref"`
}

type TopUpInput struct {
	IdempotencyKey string          `json:"-"`
	LoanID         string          `json:"loan_id"`
	CollateralID   string          `json:"collateral_id"`
	Units          decimal.Decimal `json:"units"`
}

// PayInstallmentInput targets SequenceNo, or the earliest unsettled
// installment when SequenceNo is zero.
type PayInstallmentInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
	SequenceNo     int    `json:"sequence_no"`
	AmountMinor    int64  `json:"amount_minor"`
	PaymentRef     string `json:"payment_ref"`
}

type LateFeeInput struct {
	IdempotencyKey string    `json:"-"`
	LoanID         string    `json:"loan_id"`
	SequenceNo     int       `json:"sequence_no"`
	AsOf           time.Time `json:"as_of"`
}

type WaiveLateFeeInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
	SequenceNo     int    `json:"sequence_no"`
	Reason         string `json:"reason"`
}

type PartialRecoveryInput struct {
	IdempotencyKey string    `json:"-"`
	LoanID         string    `json:"loan_id"`
	SequenceNo     int       `json:"sequence_no"`
	InitiatedBy    string    `json:"initiated_by"`
	AsOf           time.Time `json:"as_of"`
	Notes          string    `json:"notes"`
}

type FullLiquidationInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
	InitiatedBy    string `json:"initiated_by"`
	Notes          string `json:"notes"`
}

type OpenDisputeInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
	Reason         string `json:"reason"`
	PauseDays      int    `json:"pause_days"`
	// Escalate moves straight to DISPUTED.
	Escalate bool `json:"escalate"`
}

type ResolveDisputeInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
	RestoreActive  bool   `json:"restore_active"`
	Resolution     string `json:"resolution"`
}

type TransitionInput struct {
	IdempotencyKey string        `json:"-"`
	LoanID         string        `json:"loan_id"`
	To             domain.Status `json:"to"`
	Reason         string        `json:"reason"`
}

type CloseLoanInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
	Force          bool   `json:"force"`
	Reason         string `json:"reason"`
}

type ReleaseCollateralInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
}

type SettleMerchantInput struct {
	IdempotencyKey string `json:"-"`
	SettlementID   string `json:"settlement_id"`
}

// WebhookInput is a gateway payment notification. EventID doubles as the
// idempotency key.
type WebhookInput struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	LoanID      string `json:"loan_id"`
	SequenceNo  int    `json:"sequence_no"`
	AmountMinor int64  `json:"amount_minor"`
	PaymentRef  string `json:"payment_ref"`
}

type PaymentLinkInput struct {
	IdempotencyKey string `json:"-"`
	LoanID         string `json:"loan_id"`
	SequenceNo     int    `json:"sequence_no"`
}

// ---- results ----

type NextDue struct {
	SequenceNo    int       `json:"sequence_no"`
	DueAt         time.Time `json:"due_at"`
	GraceDeadline time.Time `json:"grace_deadline"`
	DueMinor      int64     `json:"due_minor"`
	InGrace       bool      `json:"in_grace"`
	PastGrace     bool      `json:"past_grace"`
	LateFeeMinor  int64     `json:"late_fee_minor"`
}

type SafetyMeter struct {
	LoanID                  string                 `json:"loan_id"`
	Status                  domain.Status          `json:"status"`
	TotalCollateralMinor    int64                  `json:"total_collateral_minor"`
	OutstandingMinor        int64                  `json:"outstanding_minor"`
	HealthFactor            float64                `json:"health_factor"`
	SafetyColor             collateral.SafetyColor `json:"safety_color"`
	CurrentLTVBps           int                    `json:"current_ltv_bps"`
	DangerLimitBps          int                    `json:"danger_limit_bps"`
	LiquidationThresholdBps int                    `json:"liquidation_threshold_bps"`
	InDanger                bool                   `json:"in_danger"`
	LiquidationEligible     bool                   `json:"liquidation_eligible"`
	PenaltyPaused           bool                   `json:"penalty_paused"`
	NextDue                 *NextDue               `json:"next_due,omitempty"`
	AsOf                    time.Time              `json:"as_of"`
}

type LoanView struct {
	Loan         domain.Loan             `json:"loan"`
	Installments []domain.Installment    `json:"installments"`
	Collaterals  []collateral.Collateral `json:"collaterals"`
	Safety       SafetyMeter             `json:"safety"`
	Refunds      []payment.Result        `json:"refunds,omitempty"`
}

type PlanResult struct {
	LoanView
	Risk risk.Score `json:"risk"`
}

type CollateralResult struct {
	Collateral collateral.Collateral `json:"collateral"`
	Loan       domain.Loan           `json:"loan"`
	Safety     SafetyMeter           `json:"safety"`
}

type PaymentResult struct {
	Loan         domain.Loan        `json:"loan"`
	Installment  domain.Installment `json:"installment"`
	AppliedMinor int64              `json:"applied_minor"`
	Safety       SafetyMeter        `json:"safety"`
	Release      *ReleaseResult     `json:"release,omitempty"`
}

type LateFeeResult struct {
	Loan        domain.Loan           `json:"loan"`
	Installment domain.Installment    `json:"installment"`
	Preview     safety.LateFeePreview `json:"preview"`
	FeeMinor    int64                 `json:"fee_minor"`
	Applied     bool                  `json:"applied"`
	Reason      string                `json:"reason,omitempty"`
}

type RecoveryResult struct {
	Log         collateral.LiquidationLog `json:"log"`
	Loan        domain.Loan               `json:"loan"`
	Installment *domain.Installment       `json:"installment,omitempty"`
	Collaterals []collateral.Collateral   `json:"collaterals"`
	Settlement  *ledger.Settlement        `json:"settlement,omitempty"`
	Refunds     []payment.Result          `json:"refunds,omitempty"`
	Safety      SafetyMeter               `json:"safety"`
}

type ReleaseResult struct {
	Loan     domain.Loan             `json:"loan"`
	Released []collateral.Collateral `json:"released"`
	Refunds  []payment.Result        `json:"refunds"`
}

type WebhookResult struct {
	EventID   string         `json:"event_id"`
	Processed bool           `json:"processed"`
	Reason    string         `json:"reason,omitempty"`
	Payment   *PaymentResult `json:"payment,omitempty"`
}

type PaymentLinkResult struct {
	LoanID      string         `json:"loan_id"`
	SequenceNo  int            `json:"sequence_no"`
	AmountMinor int64          `json:"amount_minor"`
	Link        payment.Result `json:"link"`
}
