package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
	"bnpl-engine/internal/domain/payment"
	"bnpl-engine/internal/domain/uow"

	"github.com/sirupsen/logrus"
)

// WebhookPaymentCaptured is the only gateway event that moves money.
const WebhookPaymentCaptured = "payment.captured"

func acceptsPayments(s domain.Status) error {
	switch s {
	case domain.StatusActive, domain.StatusGrace, domain.StatusOverdue, domain.StatusDelinquent,
		domain.StatusPartiallyRecovered, domain.StatusDisputeOpen, domain.StatusDisputed, domain.StatusDefaulted:
		return nil
	}
	return errs.Invalid("status", fmt.Sprintf("loan is %s; payments not accepted", s))
}

// hasPastDue reports whether any installment still owes something after its due date.
func hasPastDue(insts []domain.Installment, asOf time.Time) bool {
	for i := range insts {
		if !insts[i].Status.Settled() && insts[i].DueMinor() > 0 && insts[i].DueAt.Before(asOf) {
			return true
		}
	}
	return false
}

func (u *Usecase) PayInstallment(ctx context.Context, in PayInstallmentInput) (*PaymentResult, error) {
	return runIdempotent(ctx, u, "payInstallment", in.IdempotencyKey, func() (*PaymentResult, error) {
		return u.payInstallment(ctx, in)
	})
}

func (u *Usecase) payInstallment(ctx context.Context, in PayInstallmentInput) (*PaymentResult, error) {
	switch {
	case in.LoanID == "":
		return nil, errs.Invalid("loan_id", "is required")
	case in.AmountMinor <= 0:
		return nil, errs.Invalid("amount_minor", "must be positive")
	case in.SequenceNo < 0:
		return nil, errs.Invalid("sequence_no", "must not be negative")
	}

	var (
		out      *PaymentResult
		released []returned
	)
	err := u.uow.WithinLoanTx(ctx, in.LoanID, func(r uow.Repos, l *domain.Loan) error {
		if err := acceptsPayments(l.Status); err != nil {
			return err
		}
		insts, colls, err := u.loadSchedule(ctx, r, l.LoanID)
		if err != nil {
			return err
		}
		inst, err := findInstallment(insts, l.LoanID, in.SequenceNo)
		if err != nil {
			return err
		}
		if inst.Status.Settled() {
			return errs.Invalid("sequence_no", "installment already settled")
		}
		if due := inst.DueMinor(); in.AmountMinor > due {
			return errs.Invalid("amount_minor", fmt.Sprintf("exceeds amount due %d", due))
		}

		now := u.now()
		inst.PaidMinor += in.AmountMinor
		if inst.Status == domain.InstallmentUpcoming {
			inst.Status = domain.InstallmentDue
		}
		if inst.DueMinor() == 0 {
			inst.Status = domain.InstallmentPaid
			inst.PaidAt = &now
		}
		if err := r.Installments.Update(ctx, inst); err != nil {
			return err
		}

		l.OutstandingMinor -= in.AmountMinor
		l.PaidMinor += in.AmountMinor
		ref := in.PaymentRef
		if ref == "" {
			ref = inst.InstallmentID
		}
		if err := u.appendLedger(ctx, r, l, ledger.EntryInstallmentPayment, in.AmountMinor, "payment", ref,
			fmt.Sprintf("installment %d", inst.SequenceNo)); err != nil {
			return err
		}

		switch {
		case l.OutstandingMinor == 0:
			if err := u.setStatus(l, domain.StatusClosed); err != nil {
				return err
			}
			if released, err = u.releaseAll(ctx, r, l, colls); err != nil {
				return err
			}
		case l.Status == domain.StatusGrace, l.Status == domain.StatusOverdue,
			l.Status == domain.StatusDelinquent, l.Status == domain.StatusPartiallyRecovered:
			if !hasPastDue(insts, now) {
				if err := u.setStatus(l, domain.StatusActive); err != nil {
					return err
				}
			}
		}

		if err := u.refreshHealth(ctx, r, l, colls); err != nil {
			return err
		}
		if err := u.saveLoan(ctx, r, l); err != nil {
			return err
		}
		out = &PaymentResult{
			Loan:         *l,
			Installment:  *inst,
			AppliedMinor: in.AmountMinor,
			Safety:       buildMeter(l, insts, colls, now),
		}
		if l.Status == domain.StatusClosed {
			out.Release = &ReleaseResult{Loan: *l, Released: colls}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Release != nil {
		out.Release.Refunds = u.refund(ctx, &out.Loan, released)
	}
	u.log.WithFields(logrus.Fields{
		"loan_id":     in.LoanID,
		"sequence_no": out.Installment.SequenceNo,
		"amount":      in.AmountMinor,
		"outstanding": out.Loan.OutstandingMinor,
	}).Info("installment payment applied")
	return out, nil
}

// ProcessWebhook applies a gateway payment notification. The event id is the
// idempotency key, so redelivered events are answered from the cache.
func (u *Usecase) ProcessWebhook(ctx context.Context, in WebhookInput) (*WebhookResult, error) {
	if in.EventID == "" {
		return nil, errs.Invalid("event_id", "is required")
	}
	return runIdempotent(ctx, u, "processWebhook", in.EventID, func() (*WebhookResult, error) {
		if in.Type != WebhookPaymentCaptured {
			return &WebhookResult{EventID: in.EventID, Reason: "ignored event type " + in.Type}, nil
		}
		ref := in.PaymentRef
		if ref == "" {
			ref = in.EventID
		}
		res, err := u.payInstallment(ctx, PayInstallmentInput{
			LoanID:      in.LoanID,
			SequenceNo:  in.SequenceNo,
			AmountMinor: in.AmountMinor,
			PaymentRef:  ref,
		})
		if err != nil {
			return nil, err
		}
		return &WebhookResult{EventID: in.EventID, Processed: true, Payment: res}, nil
	})
}

func (u *Usecase) CreatePaymentLink(ctx context.Context, in PaymentLinkInput) (*PaymentLinkResult, error) {
	return runIdempotent(ctx, u, "createPaymentLink", in.IdempotencyKey, func() (*PaymentLinkResult, error) {
		return u.createPaymentLink(ctx, in)
	})
}

var errNoGateway = errors.New("no payment gateway configured")

func (u *Usecase) createPaymentLink(ctx context.Context, in PaymentLinkInput) (*PaymentLinkResult, error) {
	if in.LoanID == "" {
		return nil, errs.Invalid("loan_id", "is required")
	}
	if u.gateway == nil {
		return nil, errs.External("gateway", errNoGateway)
	}
	var (
		l    domain.Loan
		inst domain.Installment
	)
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		got, err := r.Loans.GetByLoanID(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if err := acceptsPayments(got.Status); err != nil {
			return err
		}
		insts, err := r.Installments.ListByLoanID(ctx, in.LoanID)
		if err != nil {
			return err
		}
		target, err := findInstallment(insts, in.LoanID, in.SequenceNo)
		if err != nil {
			return err
		}
		l, inst = *got, *target
		return nil
	})
	if err != nil {
		return nil, err
	}
	due := inst.DueMinor()
	if inst.Status.Settled() || due == 0 {
		return nil, errs.Invalid("sequence_no", "nothing due on installment")
	}
	link, err := u.gateway.CreatePaymentLink(ctx, payment.LinkRequest{
		Reference:   inst.InstallmentID,
		BorrowerID:  l.BorrowerID,
		AmountMinor: due,
		Currency:    l.Currency,
		Description: fmt.Sprintf("Installment %d of %d", inst.SequenceNo, l.InstallmentCount),
	})
	if err != nil {
		if errors.Is(err, errs.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, errs.External("gateway", err)
	}
	return &PaymentLinkResult{LoanID: l.LoanID, SequenceNo: inst.SequenceNo, AmountMinor: due, Link: link}, nil
}
