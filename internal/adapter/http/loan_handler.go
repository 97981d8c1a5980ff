package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"bnpl-engine/internal/adapter/middleware"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/usecase/loan"
)

type LoanHandler struct{ uc *loan.Usecase }

func NewLoanHandler(uc *loan.Usecase) *LoanHandler { return &LoanHandler{uc: uc} }

type loanPath struct {
	LoanID string `param:"loan_id" json:"-" validate:"required,hex32"`
}

type createPlanReq struct {
	BorrowerID     string    `json:"borrower_id"     validate:"required,max=64"`
	MerchantID     string    `json:"merchant_id"     validate:"required,max=64"`
	PlanID         string    `json:"plan_id"         validate:"required,max=32"`
	PrincipalMinor int64     `json:"principal_minor" validate:"gt=0"`
	Currency       string    `json:"currency"        validate:"required,currency"`
	KYCVerified    bool      `json:"kyc_verified"`
	StartAt        time.Time `json:"start_at"`

	TenureDays              *int   `json:"tenure_days"               validate:"omitempty,gt=0"`
	InstallmentCount        *int   `json:"installment_count"         validate:"omitempty,gt=0,lte=60"`
	LTVBps                  *int   `json:"ltv_bps"                   validate:"omitempty,bps"`
	DangerLimitBps          *int   `json:"danger_limit_bps"          validate:"omitempty,bps"`
	LiquidationThresholdBps *int   `json:"liquidation_threshold_bps" validate:"omitempty,bps"`
	GraceWindowHours        *int   `json:"grace_window_hours"        validate:"omitempty,gte=0"`
	LateFeeFlatMinor        *int64 `json:"late_fee_flat_minor"       validate:"omitempty,gte=0"`
	LateFeeBps              *int   `json:"late_fee_bps"              validate:"omitempty,bps"`

	MonthlyIncomeMinor  int64 `json:"monthly_income_minor"  validate:"gte=0"`
	PriorDefaults       int   `json:"prior_defaults"        validate:"gte=0"`
	AccountAgeDays      int   `json:"account_age_days"      validate:"gte=0"`
	ExistingActiveLoans int   `json:"existing_active_loans" validate:"gte=0"`
}

func (h *LoanHandler) CreatePlan(c echo.Context) error {
	var req createPlanReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.CreatePlan(c.Request().Context(), loan.CreatePlanInput{
		IdempotencyKey:          middleware.KeyFrom(c),
		BorrowerID:              req.BorrowerID,
		MerchantID:              req.MerchantID,
		PlanID:                  req.PlanID,
		PrincipalMinor:          req.PrincipalMinor,
		Currency:                req.Currency,
		KYCVerified:             req.KYCVerified,
		StartAt:                 req.StartAt,
		TenureDays:              req.TenureDays,
		InstallmentCount:        req.InstallmentCount,
		LTVBps:                  req.LTVBps,
		DangerLimitBps:          req.DangerLimitBps,
		LiquidationThresholdBps: req.LiquidationThresholdBps,
		GraceWindowHours:        req.GraceWindowHours,
		LateFeeFlatMinor:        req.LateFeeFlatMinor,
		LateFeeBps:              req.LateFeeBps,
		MonthlyIncomeMinor:      req.MonthlyIncomeMinor,
		PriorDefaults:           req.PriorDefaults,
		AccountAgeDays:          req.AccountAgeDays,
		ExistingActiveLoans:     req.ExistingActiveLoans,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *LoanHandler) GetLoan(c echo.Context) error {
	var req loanPath
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.GetLoan(c.Request().Context(), req.LoanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type borrowerPath struct {
	BorrowerID string `param:"borrower_id" json:"-" validate:"required,max=64"`
}

func (h *LoanHandler) ListBorrowerLoans(c echo.Context) error {
	var req borrowerPath
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.ListBorrowerLoans(c.Request().Context(), req.BorrowerID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"borrower_id": req.BorrowerID, "loans": res})
}

func (h *LoanHandler) GetSafetyMeter(c echo.Context) error {
	var req loanPath
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.GetSafetyMeter(c.Request().Context(), req.LoanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *LoanHandler) GetAuditTrail(c echo.Context) error {
	var req loanPath
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.GetAuditTrail(c.Request().Context(), req.LoanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type lockDepositReq struct {
	LoanID     string          `param:"loan_id" json:"-" validate:"required,hex32"`
	Asset      string          `json:"asset"       validate:"required,asset"`
	Units      decimal.Decimal `json:"units"`
	DepositRef string          `json:"deposit_ref" validate:"max=128"`
}

func (h *LoanHandler) LockDeposit(c echo.Context) error {
	var req lockDepositReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.LockDeposit(c.Request().Context(), loan.LockDepositInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		Asset:          req.Asset,
		Units:          req.Units,
		DepositRef:     req.DepositRef,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

type topUpReq struct {
	LoanID       string          `param:"loan_id"       json:"-" validate:"required,hex32"`
	CollateralID string          `param:"collateral_id" json:"-" validate:"required,hex32"`
	Units        decimal.Decimal `json:"units"`
}

func (h *LoanHandler) TopUpCollateral(c echo.Context) error {
	var req topUpReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.TopUpCollateral(c.Request().Context(), loan.TopUpInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		CollateralID:   req.CollateralID,
		Units:          req.Units,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type payReq struct {
	LoanID      string `param:"loan_id" json:"-" validate:"required,hex32"`
	SequenceNo  int    `json:"sequence_no"  validate:"gte=0"`
	AmountMinor int64  `json:"amount_minor" validate:"gt=0"`
	PaymentRef  string `json:"payment_ref"  validate:"max=128"`
}

func (h *LoanHandler) PayInstallment(c echo.Context) error {
	var req payReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.PayInstallment(c.Request().Context(), loan.PayInstallmentInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		SequenceNo:     req.SequenceNo,
		AmountMinor:    req.AmountMinor,
		PaymentRef:     req.PaymentRef,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type installmentReq struct {
	LoanID     string `param:"loan_id" json:"-" validate:"required,hex32"`
	SequenceNo int    `json:"sequence_no" validate:"gte=0"`
}

func (h *LoanHandler) CreatePaymentLink(c echo.Context) error {
	var req installmentReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.CreatePaymentLink(c.Request().Context(), loan.PaymentLinkInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		SequenceNo:     req.SequenceNo,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

type lateFeeReq struct {
	LoanID     string    `param:"loan_id" json:"-" validate:"required,hex32"`
	SequenceNo int       `json:"sequence_no" validate:"gte=0"`
	AsOf       time.Time `json:"as_of"`
}

func (h *LoanHandler) ApplyLateFee(c echo.Context) error {
	var req lateFeeReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.ApplyLateFee(c.Request().Context(), loan.LateFeeInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		SequenceNo:     req.SequenceNo,
		AsOf:           req.AsOf,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type waiveReq struct {
	LoanID     string `param:"loan_id" json:"-" validate:"required,hex32"`
	SequenceNo int    `json:"sequence_no" validate:"gt=0"`
	Reason     string `json:"reason"      validate:"required,max=256"`
}

func (h *LoanHandler) WaiveLateFee(c echo.Context) error {
	var req waiveReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.WaiveLateFee(c.Request().Context(), loan.WaiveLateFeeInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		SequenceNo:     req.SequenceNo,
		Reason:         req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type recoveryReq struct {
	LoanID      string    `param:"loan_id" json:"-" validate:"required,hex32"`
	SequenceNo  int       `json:"sequence_no"  validate:"gte=0"`
	InitiatedBy string    `json:"initiated_by" validate:"max=64"`
	AsOf        time.Time `json:"as_of"`
	Notes       string    `json:"notes"        validate:"max=512"`
}

func (h *LoanHandler) ExecutePartialRecovery(c echo.Context) error {
	var req recoveryReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.ExecutePartialRecovery(c.Request().Context(), loan.PartialRecoveryInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		SequenceNo:     req.SequenceNo,
		InitiatedBy:    req.InitiatedBy,
		AsOf:           req.AsOf,
		Notes:          req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type liquidationReq struct {
	LoanID      string `param:"loan_id" json:"-" validate:"required,hex32"`
	InitiatedBy string `json:"initiated_by" validate:"max=64"`
	Notes       string `json:"notes"        validate:"max=512"`
}

func (h *LoanHandler) ExecuteFullLiquidation(c echo.Context) error {
	var req liquidationReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.ExecuteFullLiquidation(c.Request().Context(), loan.FullLiquidationInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		InitiatedBy:    req.InitiatedBy,
		Notes:          req.Notes,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type openDisputeReq struct {
	LoanID    string `param:"loan_id" json:"-" validate:"required,hex32"`
	Reason    string `json:"reason"     validate:"required,max=256"`
	PauseDays int    `json:"pause_days" validate:"gte=0,lte=90"`
	Escalate  bool   `json:"escalate"`
}

func (h *LoanHandler) OpenDispute(c echo.Context) error {
	var req openDisputeReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.OpenDispute(c.Request().Context(), loan.OpenDisputeInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		Reason:         req.Reason,
		PauseDays:      req.PauseDays,
		Escalate:       req.Escalate,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type resolveDisputeReq struct {
	LoanID        string `param:"loan_id" json:"-" validate:"required,hex32"`
	RestoreActive bool   `json:"restore_active"`
	Resolution    string `json:"resolution" validate:"max=256"`
}

func (h *LoanHandler) ResolveDispute(c echo.Context) error {
	var req resolveDisputeReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.ResolveDispute(c.Request().Context(), loan.ResolveDisputeInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		RestoreActive:  req.RestoreActive,
		Resolution:     req.Resolution,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type transitionReq struct {
	LoanID string `param:"loan_id" json:"-" validate:"required,hex32"`
	To     string `json:"to"     validate:"required"`
	Reason string `json:"reason" validate:"max=256"`
}

func (h *LoanHandler) TransitionLoanState(c echo.Context) error {
	var req transitionReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.TransitionLoanState(c.Request().Context(), loan.TransitionInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		To:             domain.Status(strings.ToUpper(strings.TrimSpace(req.To))),
		Reason:         req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type closeReq struct {
	LoanID string `param:"loan_id" json:"-" validate:"required,hex32"`
	Force  bool   `json:"force"`
	Reason string `json:"reason" validate:"max=256"`
}

func (h *LoanHandler) CloseLoan(c echo.Context) error {
	var req closeReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.CloseLoan(c.Request().Context(), loan.CloseLoanInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
		Force:          req.Force,
		Reason:         req.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *LoanHandler) ReleaseCollateral(c echo.Context) error {
	var req loanPath
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.ReleaseCollateral(c.Request().Context(), loan.ReleaseCollateralInput{
		IdempotencyKey: middleware.KeyFrom(c),
		LoanID:         req.LoanID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type settlementPath struct {
	SettlementID string `param:"settlement_id" json:"-" validate:"required,max=64"`
}

func (h *LoanHandler) SettleMerchant(c echo.Context) error {
	var req settlementPath
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.SettleMerchant(c.Request().Context(), loan.SettleMerchantInput{
		IdempotencyKey: middleware.KeyFrom(c),
		SettlementID:   req.SettlementID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type webhookReq struct {
	EventID     string `json:"event_id"     validate:"required,max=128"`
	Type        string `json:"type"         validate:"required,max=64"`
	LoanID      string `json:"loan_id"      validate:"required,hex32"`
	SequenceNo  int    `json:"sequence_no"  validate:"gte=0"`
	AmountMinor int64  `json:"amount_minor" validate:"gte=0"`
	PaymentRef  string `json:"payment_ref"  validate:"max=128"`
}

// PaymentWebhook accepts gateway notifications. The event id is the
// idempotency key, so redelivered events replay the first response.
func (h *LoanHandler) PaymentWebhook(c echo.Context) error {
	var req webhookReq
	if ok, err := decode(c, &req); !ok {
		return err
	}
	res, err := h.uc.ProcessWebhook(c.Request().Context(), loan.WebhookInput{
		EventID:     req.EventID,
		Type:        req.Type,
		LoanID:      req.LoanID,
		SequenceNo:  req.SequenceNo,
		AmountMinor: req.AmountMinor,
		PaymentRef:  req.PaymentRef,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
