package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"bnpl-engine/internal/adapter/middleware"
)

type RouterConfig struct {
	Log                *logrus.Logger
	Health             *Handler
	Loans              *LoanHandler
	Metrics            http.Handler
	RequireIdempotency bool
}

// NewRouter builds the echo instance with every engine route registered.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(echomw.Recover(), echomw.RequestID(), echomw.BodyLimit("1M"))
	if cfg.Log != nil {
		e.Use(middleware.RequestLogger(cfg.Log))
	}

	if cfg.Health != nil {
		e.GET("/health", cfg.Health.Health)
	}
	if cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.Metrics))
	}

	h := cfg.Loans
	if h == nil {
		return e
	}
	api := e.Group("", middleware.IdempotencyKey(cfg.RequireIdempotency))
	api.POST("/plans", h.CreatePlan)
	api.GET("/borrowers/:borrower_id/loans", h.ListBorrowerLoans)

	loans := api.Group("/loans/:loan_id")
	loans.GET("", h.GetLoan)
	loans.GET("/safety", h.GetSafetyMeter)
	loans.GET("/audit", h.GetAuditTrail)
	loans.POST("/collateral", h.LockDeposit)
	loans.POST("/collateral/:collateral_id/top-up", h.TopUpCollateral)
	loans.POST("/payments", h.PayInstallment)
	loans.POST("/payment-links", h.CreatePaymentLink)
	loans.POST("/late-fees", h.ApplyLateFee)
	loans.POST("/late-fees/waive", h.WaiveLateFee)
	loans.POST("/recoveries", h.ExecutePartialRecovery)
	loans.POST("/liquidation", h.ExecuteFullLiquidation)
	loans.POST("/disputes", h.OpenDispute)
	loans.POST("/disputes/resolve", h.ResolveDispute)
	loans.POST("/transitions", h.TransitionLoanState)
	loans.POST("/close", h.CloseLoan)
	loans.POST("/release", h.ReleaseCollateral)

	api.POST("/settlements/:settlement_id/dispatch", h.SettleMerchant)
	// Webhooks carry their own event id; no header key is required.
	e.POST("/webhooks/payments", h.PaymentWebhook)
	return e
}
