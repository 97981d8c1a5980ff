package loan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/uow"
	"bnpl-engine/internal/usecase/safety"
	"bnpl-engine/pkg/id"

	"github.com/sirupsen/logrus"
)

func (u *Usecase) fetchPrices(ctx context.Context) (map[string]collateral.Price, error) {
	prices, err := u.prices.GetPrices(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, errs.External("oracle", err)
	}
	return prices, nil
}

// priceFor rejects missing, non-positive and stale quotes rather than
// valuing collateral on a guess.
func (u *Usecase) priceFor(prices map[string]collateral.Price, asset string) (collateral.Price, error) {
	p, ok := prices[strings.ToUpper(asset)]
	if !ok {
		return collateral.Price{}, errs.Invalid("asset", "no price for "+asset)
	}
	if !p.Price.IsPositive() {
		return collateral.Price{}, errs.External("oracle", fmt.Errorf("non-positive price for %s", asset))
	}
	age := u.now().Sub(time.Unix(p.LastUpdated, 0))
	if age > u.maxPriceAge {
		return collateral.Price{}, errs.External("oracle", fmt.Errorf("price for %s is %s old", asset, age.Truncate(time.Second)))
	}
	return p, nil
}

func canHoldCollateral(s domain.Status) error {
	switch s {
	case domain.StatusEligible, domain.StatusActive, domain.StatusGrace, domain.StatusOverdue,
		domain.StatusDelinquent, domain.StatusPartiallyRecovered, domain.StatusDisputeOpen, domain.StatusDisputed:
		return nil
	case domain.StatusDraft, domain.StatusPendingKYC:
		return errs.Invalid("status", "loan is awaiting KYC")
	default:
		return errs.Invalid("status", fmt.Sprintf("loan is %s", s))
	}
}

// activateIfFunded moves an ELIGIBLE loan to ACTIVE once the required deposit is held.
func (u *Usecase) activateIfFunded(l *domain.Loan, colls []collateral.Collateral) error {
	if l.Status != domain.StatusEligible || totalAvailable(colls) < l.RequiredDepositMinor {
		return nil
	}
	return u.setStatus(l, domain.StatusActive)
}

func (u *Usecase) LockDeposit(ctx context.Context, in LockDepositInput) (*CollateralResult, error) {
	return runIdempotent(ctx, u, "lockDeposit", in.IdempotencyKey, func() (*CollateralResult, error) {
		return u.lockDeposit(ctx, in)
	})
}

func (u *Usecase) lockDeposit(ctx context.Context, in LockDepositInput) (*CollateralResult, error) {
	switch {
	case in.LoanID == "":
		return nil, errs.Invalid("loan_id", "is required")
	case strings.TrimSpace(in.Asset) == "":
		return nil, errs.Invalid("asset", "is required")
	case !in.Units.IsPositive():
		return nil, errs.Invalid("units", "must be positive")
	}
	prices, err := u.fetchPrices(ctx)
	if err != nil {
		return nil, err
	}
	price, err := u.priceFor(prices, in.Asset)
	if err != nil {
		return nil, err
	}

	var out *CollateralResult
	err = u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if err := canHoldCollateral(l.Status); err != nil {
			return err
		}
		value, err := safety.ValueMinor(in.Units, price.Price, l.Currency)
		if err != nil {
			return err
		}
		if value <= 0 {
			return errs.Invalid("units", "collateral value rounds to zero")
		}
		c := &collateral.Collateral{
			CollateralID:         id.NewID32(),
			LoanID:               l.LoanID,
			BorrowerID:           l.BorrowerID,
			Asset:                strings.ToUpper(in.Asset),
			DepositedUnits:       in.Units,
			LastPrice:            price.Price,
			CollateralValueMinor: value,
			RecoverableMinor:     value,
			Status:               collateral.StatusLocked,
			SafetyColor:          collateral.ColorRed,
			DepositRef:           in.DepositRef,
		}
		if err := r.Collaterals.Create(ctx, c); err != nil {
			return err
		}
		if err := u.appendLedger(ctx, r, l, ledger.EntryCollateralLock, value, "collateral", c.CollateralID, in.DepositRef); err != nil {
			return err
		}
		insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
		if err != nil {
			return err
		}
		if err := u.activateIfFunded(l, colls); err != nil {
			return err
		}
		if err := u.refreshHealth(ctx, r, l, colls); err != nil {
			return err
		}
		if err := u.saveLoan(ctx, r, l); err != nil {
			return err
		}
		out = &CollateralResult{Loan: *l, Safety: buildMeter(l, insts, colls, u.now())}
		for _, cc := range colls {
			if cc.CollateralID == c.CollateralID {
				out.Collateral = cc
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.WithFields(logrus.Fields{
		"loan_id":       in.LoanID,
		"collateral_id": out.Collateral.CollateralID,
		"value_minor":   out.Collateral.CollateralValueMinor,
		"status":        out.Loan.Status,
	}).Info("collateral locked")
	return out, nil
}

func (u *Usecase) TopUpCollateral(ctx context.Context, in TopUpInput) (*CollateralResult, error) {
	return runIdempotent(ctx, u, "topUpCollateral", in.IdempotencyKey, func() (*CollateralResult, error) {
		return u.topUp(ctx, in)
	})
}

func (u *Usecase) topUp(ctx context.Context, in TopUpInput) (*CollateralResult, error) {
	switch {
	case in.LoanID == "":
		return nil, errs.Invalid("loan_id", "is required")
	case in.CollateralID == "":
		return nil, errs.Invalid("collateral_id", "is required")
	case !in.Units.IsPositive():
		return nil, errs.Invalid("units", "must be positive")
	}
	prices, err := u.fetchPrices(ctx)
	if err != nil {
		return nil, err
	}

	var out *CollateralResult
	err = u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if err := canHoldCollateral(l.Status); err != nil {
			return err
		}
		insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
		if err != nil {
			return err
		}
		var c *collateral.Collateral
		for i := range colls {
			if colls[i].CollateralID == in.CollateralID {
				c = &colls[i]
			}
		}
		if c == nil {
			return errs.NotFound("collateral", in.CollateralID)
		}
		if c.Status == collateral.StatusReleased {
			return errs.Invalid("collateral_id", "collateral already released")
		}
		price, err := u.priceFor(prices, c.Asset)
		if err != nil {
			return err
		}
		add, err := safety.ValueMinor(in.Units, price.Price, l.Currency)
		if err != nil {
			return err
		}
		if add <= 0 {
			return errs.Invalid("units", "top-up value rounds to zero")
		}
		c.DepositedUnits = c.DepositedUnits.Add(in.Units)
		c.LastPrice = price.Price
		c.CollateralValueMinor += add
		c.RecoverableMinor += add
		c.Status = collateral.StatusToppedUp
		if err := r.Collaterals.Update(ctx, c); err != nil {
			return err
		}
		if err := u.appendLedger(ctx, r, l, ledger.EntryCollateralTopUp, add, "collateral", c.CollateralID, ""); err != nil {
			return err
		}
		if err := u.activateIfFunded(l, colls); err != nil {
			return err
		}
		if err := u.refreshHealth(ctx, r, l, colls); err != nil {
			return err
		}
		if err := u.saveLoan(ctx, r, l); err != nil {
			return err
		}
		out = &CollateralResult{Collateral: *c, Loan: *l, Safety: buildMeter(l, insts, colls, u.now())}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSafetyMeter derives the meter from current state and writes nothing.
func (u *Usecase) GetSafetyMeter(ctx context.Context, loanID string) (*SafetyMeter, error) {
	var m SafetyMeter
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		l, err := r.Loans.GetByLoanID(ctx, loanID)
		if err != nil {
			return err
		}
		insts, colls, err := u.loadSchedule(ctx, r, loanID)
		if err != nil {
			return err
		}
		m = buildMeter(l, insts, colls, u.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}
