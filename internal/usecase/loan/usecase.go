package loan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	idemDomain "bnpl-engine/internal/domain/idempotency"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/payment"
	"bnpl-engine/internal/domain/risk"
	"bnpl-engine/internal/domain/uow"
	"bnpl-engine/internal/observability"
	"bnpl-engine/internal/usecase/safety"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PolicyVersion is stamped on every liquidation log.
const PolicyVersion = "v1"

const (
	defaultIdempotencyTTL = 24 * time.Hour
	defaultMaxPriceAge    = 300 * time.Second
	defaultDisputePause   = 7
)

type Deps struct {
	UoW         uow.UnitOfWork
	Idempotency idemDomain.Store
	Prices      collateral.PriceFeed
	Gateway     payment.Gateway
	Scorer      risk.Scorer
	Plans       domain.PlanCatalog
	Log         *logrus.Logger
	Metrics     *observability.Metrics
	Now         func() time.Time

	IdempotencyTTL time.Duration
	MaxPriceAge    time.Duration
}

// Usecase is the loan lifecycle engine. Every exported mutation runs in one
// unit of work, so entity changes and their ledger entries commit together.
type Usecase struct {
	uow     uow.UnitOfWork
	idem    idemDomain.Store
	prices  collateral.PriceFeed
	gateway payment.Gateway
	scorer  risk.Scorer
	plans   domain.PlanCatalog
	log     *logrus.Logger
	metrics *observability.Metrics
	now     func() time.Time

	idemTTL     time.Duration
	maxPriceAge time.Duration
}

func NewUsecase(d Deps) *Usecase {
	u := &Usecase{
		uow:         d.UoW,
		idem:        d.Idempotency,
		prices:      d.Prices,
		gateway:     d.Gateway,
		scorer:      d.Scorer,
		plans:       d.Plans,
		log:         d.Log,
		metrics:     d.Metrics,
		now:         d.Now,
		idemTTL:     d.IdempotencyTTL,
		maxPriceAge: d.MaxPriceAge,
	}
	if u.log == nil {
		u.log = logrus.New()
		u.log.SetOutput(io.Discard)
	}
	if u.now == nil {
		u.now = func() time.Time { return time.Now().UTC() }
	}
	if u.idemTTL <= 0 {
		u.idemTTL = defaultIdempotencyTTL
	}
	if u.maxPriceAge <= 0 {
		u.maxPriceAge = defaultMaxPriceAge
	}
	return u
}

// runIdempotent executes fn at most once per {op}:{key}. A repeated key gets
// the stored response back, whatever the new payload says. Failed executions
// release the key so the caller can retry.
func runIdempotent[T any](ctx context.Context, u *Usecase, op, key string, fn func() (T, error)) (T, error) {
	var zero T
	if key == "" || u.idem == nil {
		res, err := fn()
		u.metrics.Op(op, outcome(err))
		return res, err
	}

	full := op + ":" + key
	reserved, err := u.idem.Reserve(ctx, full, idemDomain.Entry{InProgress: true, Operation: op, CreatedAt: u.now()})
	if err != nil {
		return zero, errs.External("idempotency", err)
	}
	if !reserved {
		entry, err := u.idem.Load(ctx, full)
		switch {
		case errors.Is(err, idemDomain.ErrEntryNotFound), err == nil && entry.InProgress:
			return zero, errs.ErrIdempotencyInProgress
		case err != nil:
			return zero, errs.External("idempotency", err)
		}
		var out T
		if err := json.Unmarshal(entry.Response, &out); err != nil {
			return zero, fmt.Errorf("decode stored %s response: %w", op, err)
		}
		u.metrics.Replay(op)
		u.log.WithFields(logrus.Fields{"op": op, "key": key}).Info("idempotent replay")
		return out, nil
	}

	res, err := fn()
	if err != nil {
		if rerr := u.idem.Release(context.WithoutCancel(ctx), full); rerr != nil {
			u.log.WithError(rerr).WithField("op", op).Warn("release idempotency key")
		}
		u.metrics.Op(op, outcome(err))
		return zero, err
	}

	body, err := json.Marshal(res)
	if err == nil {
		err = u.idem.Complete(context.WithoutCancel(ctx), full, idemDomain.Entry{
			Operation: op,
			Response:  body,
			CreatedAt: u.now(),
		}, u.idemTTL)
	}
	if err != nil {
		// the mutation is committed; a retry will see the key as in progress until it expires
		u.log.WithError(err).WithFields(logrus.Fields{"op": op, "key": key}).Warn("store idempotent response")
	}
	u.metrics.Op(op, "ok")
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrValidation):
		return "validation"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, errs.ErrInvalidTransition):
		return "transition"
	case errors.Is(err, errs.ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, errs.ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, errs.ErrIdempotencyInProgress):
		return "in_progress"
	default:
		return "error"
	}
}

// check surfaces invariant violations loudly before returning them.
func (u *Usecase) check(loanID string, err error) error {
	var iv *errs.InvariantViolationError
	if errors.As(err, &iv) {
		u.log.WithFields(logrus.Fields{"loan_id": loanID, "invariant": iv.Invariant}).Error(iv.Error())
		u.metrics.Invariant(iv.Invariant)
	}
	return err
}

func (u *Usecase) saveLoan(ctx context.Context, r uow.Repos, l *domain.Loan) error {
	if err := u.check(l.LoanID, l.Validate()); err != nil {
		return err
	}
	return r.Loans.Update(ctx, l)
}

func (u *Usecase) setStatus(l *domain.Loan, to domain.Status) error {
	if err := domain.CheckTransition(l.Status, to); err != nil {
		return err
	}
	l.Status = to
	l.StateUpdatedAt = u.now()
	return nil
}

func (u *Usecase) appendLedger(ctx context.Context, r uow.Repos, l *domain.Loan, typ ledger.EntryType, amount int64, refType, refID, memo string) error {
	return r.Ledger.Append(ctx, &ledger.Entry{
		EntryID:       uuid.NewString(),
		LoanID:        l.LoanID,
		EntryType:     typ,
		AmountMinor:   amount,
		Currency:      l.Currency,
		ReferenceType: refType,
		ReferenceID:   refID,
		Memo:          memo,
	})
}

func totalAvailable(colls []collateral.Collateral) int64 {
	var total int64
	for i := range colls {
		total += colls[i].AvailableMinor()
	}
	return total
}

// refreshHealth writes the current health snapshot onto every live collateral.
func (u *Usecase) refreshHealth(ctx context.Context, r uow.Repos, l *domain.Loan, colls []collateral.Collateral) error {
	hf := safety.HealthFactor(totalAvailable(colls), l.OutstandingMinor)
	color := safety.Color(hf)
	for i := range colls {
		c := &colls[i]
		if c.Status == collateral.StatusReleased || (c.HealthFactor == hf && c.SafetyColor == color) {
			continue
		}
		c.HealthFactor, c.SafetyColor = hf, color
		if err := r.Collaterals.Update(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// seize takes up to needed from the collaterals in their stored order.
func (u *Usecase) seize(ctx context.Context, r uow.Repos, colls []collateral.Collateral, needed int64) ([]collateral.Seizure, int64, error) {
	var (
		out       []collateral.Seizure
		remaining = needed
	)
	for i := range colls {
		if remaining <= 0 {
			break
		}
		c := &colls[i]
		take := min(c.AvailableMinor(), remaining)
		if take <= 0 {
			continue
		}
		c.RecoveredMinor += take
		c.SeizedMinor += take
		c.Status = collateral.StatusPartiallyRecovered
		if err := u.check(c.LoanID, c.Validate()); err != nil {
			return nil, 0, err
		}
		if err := r.Collaterals.Update(ctx, c); err != nil {
			return nil, 0, err
		}
		out = append(out, collateral.Seizure{CollateralID: c.CollateralID, SeizedMinor: take})
		remaining -= take
	}
	return out, needed - remaining, nil
}

type returned struct {
	CollateralID string
	BorrowerID   string
	AmountMinor  int64
}

// releaseAll returns whatever is still available on each collateral to the
// borrower and marks it RELEASED.
func (u *Usecase) releaseAll(ctx context.Context, r uow.Repos, l *domain.Loan, colls []collateral.Collateral) ([]returned, error) {
	var out []returned
	now := u.now()
	for i := range colls {
		c := &colls[i]
		if c.Status == collateral.StatusReleased {
			continue
		}
		back := c.AvailableMinor()
		c.ReturnedMinor += back
		c.RecoveredMinor += back
		c.Status = collateral.StatusReleased
		c.ReleasedAt = &now
		if err := u.check(l.LoanID, c.Validate()); err != nil {
			return nil, err
		}
		if err := r.Collaterals.Update(ctx, c); err != nil {
			return nil, err
		}
		if back > 0 {
			if err := u.appendLedger(ctx, r, l, ledger.EntryCollateralRelease, back, "collateral", c.CollateralID, ""); err != nil {
				return nil, err
			}
		}
		out = append(out, returned{CollateralID: c.CollateralID, BorrowerID: c.BorrowerID, AmountMinor: back})
	}
	return out, nil
}

// refund asks the gateway to pay back released collateral value. Failures are
// logged; the release itself is already committed.
func (u *Usecase) refund(ctx context.Context, l *domain.Loan, items []returned) []payment.Result {
	var out []payment.Result
	if u.gateway == nil {
		return out
	}
	for _, it := range items {
		if it.AmountMinor <= 0 {
			continue
		}
		res, err := u.gateway.CreateRefund(ctx, payment.RefundRequest{
			Reference:   it.CollateralID,
			BorrowerID:  it.BorrowerID,
			AmountMinor: it.AmountMinor,
			Currency:    l.Currency,
		})
		if err != nil {
			u.log.WithError(err).WithFields(logrus.Fields{"loan_id": l.LoanID, "collateral_id": it.CollateralID}).Warn("collateral refund")
			continue
		}
		out = append(out, res)
	}
	return out
}

// dispatchSettlement submits a recorded merchant settlement to the gateway.
// SUBMITTED settlements are left alone.
func (u *Usecase) dispatchSettlement(ctx context.Context, settlementID string) (*ledger.Settlement, error) {
	var s *ledger.Settlement
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		var err error
		s, err = r.Settlements.GetBySettlementID(ctx, settlementID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.Status == ledger.SettlementSubmitted || u.gateway == nil {
		return s, nil
	}

	res, err := u.gateway.CreateOrder(ctx, payment.OrderRequest{
		Reference:   s.SettlementID,
		MerchantID:  s.MerchantID,
		AmountMinor: s.AmountMinor,
		Currency:    s.Currency,
		Notes:       s.Reason,
	})
	if err != nil {
		u.log.WithError(err).WithField("settlement_id", s.SettlementID).Warn("merchant settlement left pending")
		return s, nil
	}

	err = u.uow.WithinLoanTx(ctx, s.LoanID, func(r uow.Repos, l *domain.Loan) error {
		cur, err := r.Settlements.GetBySettlementID(ctx, settlementID)
		if err != nil {
			return err
		}
		if cur.Status == ledger.SettlementSubmitted {
			s = cur
			return nil
		}
		cur.GatewayOrderID = res.ID
		cur.Status = ledger.SettlementSubmitted
		if res.Simulated {
			cur.Status = ledger.SettlementSimulated
		}
		if err := r.Settlements.Update(ctx, cur); err != nil {
			return err
		}
		if cur.Status == ledger.SettlementSubmitted {
			if err := u.appendLedger(ctx, r, l, ledger.EntryMerchantSettlement, cur.AmountMinor, "settlement", cur.SettlementID, res.ID); err != nil {
				return err
			}
		}
		s = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (u *Usecase) loadSchedule(ctx context.Context, r uow.Repos, loanID string) ([]domain.Installment, []collateral.Collateral, error) {
	insts, err := r.Installments.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	colls, err := r.Collaterals.ListByLoanID(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	return insts, colls, nil
}

// findInstallment returns a pointer into insts. seq 0 picks the earliest
// installment that still has something due.
func findInstallment(insts []domain.Installment, loanID string, seq int) (*domain.Installment, error) {
	for i := range insts {
		in := &insts[i]
		if seq == 0 && !in.Status.Settled() && in.DueMinor() > 0 {
			return in, nil
		}
		if seq != 0 && in.SequenceNo == seq {
			return in, nil
		}
	}
	if seq == 0 {
		return nil, errs.Invalid("sequence_no", "loan has no unsettled installment")
	}
	return nil, errs.NotFound("installment", fmt.Sprintf("%s#%d", loanID, seq))
}

func buildMeter(l *domain.Loan, insts []domain.Installment, colls []collateral.Collateral, asOf time.Time) SafetyMeter {
	total := totalAvailable(colls)
	hf := safety.HealthFactor(total, l.OutstandingMinor)
	ltv := safety.CurrentLTVBps(total, l.OutstandingMinor)
	m := SafetyMeter{
		LoanID:                  l.LoanID,
		Status:                  l.Status,
		TotalCollateralMinor:    total,
		OutstandingMinor:        l.OutstandingMinor,
		HealthFactor:            hf,
		SafetyColor:             safety.Color(hf),
		CurrentLTVBps:           ltv,
		DangerLimitBps:          l.DangerLimitBps,
		LiquidationThresholdBps: l.LiquidationThresholdBps,
		InDanger:                l.OutstandingMinor > 0 && ltv >= l.DangerLimitBps,
		LiquidationEligible:     l.OutstandingMinor > 0 && ltv >= l.LiquidationThresholdBps,
		PenaltyPaused:           l.PenaltyPaused(asOf),
		AsOf:                    asOf,
	}
	if next, err := findInstallment(insts, l.LoanID, 0); err == nil {
		p := safety.PreviewLateFee(l, next, asOf)
		m.NextDue = &NextDue{
			SequenceNo:    next.SequenceNo,
			DueAt:         next.DueAt,
			GraceDeadline: p.GraceDeadline,
			DueMinor:      next.DueMinor(),
			InGrace:       p.InGrace,
			PastGrace:     p.PastGrace,
			LateFeeMinor:  next.LateFeeMinor,
		}
	}
	return m
}

func (u *Usecase) viewOf(ctx context.Context, r uow.Repos, l *domain.Loan) (*LoanView, error) {
	insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
	if err != nil {
		return nil, err
	}
	return &LoanView{
		Loan:         *l,
		Installments: insts,
		Collaterals:  colls,
		Safety:       buildMeter(l, insts, colls, u.now()),
	}, nil
}
