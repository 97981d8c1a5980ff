package loan

import (
	"context"
	"errors"
	"testing"
	"time"

	"bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	"bnpl-engine/internal/domain/ledger"
	domain "bnpl-engine/internal/domain/loan"
)

func TestPayInstallment_FullRepaymentClosesAndReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")

	var last *PaymentResult
	for i := 0; i < 4; i++ {
		res, err := f.uc.PayInstallment(ctx, PayInstallmentInput{LoanID: loanID, AmountMinor: 2500})
		if err != nil {
			t.Fatalf("payment %d err: %v", i+1, err)
		}
		if res.Installment.SequenceNo != i+1 || res.Installment.Status != domain.InstallmentPaid {
			t.Fatalf("payment %d hit %+v", i+1, res.Installment)
		}
		last = res
	}
	if last.Loan.Status != domain.StatusClosed || last.Loan.OutstandingMinor != 0 || last.Loan.PaidMinor != 10000 {
		t.Fatalf("loan = %+v", last.Loan)
	}
	if last.Release == nil || len(last.Release.Refunds) != 1 || f.gw.refunds[0].AmountMinor != 25000 {
		t.Fatalf("release = %+v refunds=%+v", last.Release, f.gw.refunds)
	}
	c := f.store.Collaterals(loanID)[0]
	if c.Status != collateral.StatusReleased || c.ReturnedMinor != 25000 {
		t.Fatalf("collateral = %+v", c)
	}
	if n := countEntries(f.store.LedgerEntries(loanID), ledger.EntryCollateralRelease); n != 1 {
		t.Fatalf("release entries = %d", n)
	}

	if _, err := f.uc.PayInstallment(ctx, PayInstallmentInput{LoanID: loanID, AmountMinor: 1}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("payment on closed loan: got %v", err)
	}
	again, err := f.uc.ReleaseCollateral(ctx, ReleaseCollateralInput{LoanID: loanID})
	if err != nil || len(again.Refunds) != 0 {
		t.Fatalf("second release = %v %+v", err, again)
	}
}

func TestPayInstallment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")

	tests := []struct {
		name string
		in   PayInstallmentInput
		want error
	}{
		{"over due amount", PayInstallmentInput{LoanID: loanID, SequenceNo: 1, AmountMinor: 2501}, errs.ErrValidation},
		{"zero amount", PayInstallmentInput{LoanID: loanID, SequenceNo: 1}, errs.ErrValidation},
		{"unknown installment", PayInstallmentInput{LoanID: loanID, SequenceNo: 7, AmountMinor: 1}, errs.ErrNotFound},
		{"unknown loan", PayInstallmentInput{LoanID: "nope", AmountMinor: 1}, errs.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.uc.PayInstallment(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPayInstallment_ClearsArrears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")
	asOf := pastGrace(f, loanID, 2)
	f.uc.now = func() time.Time { return asOf }

	for seq := 1; seq <= 2; seq++ {
		if res, err := f.uc.ApplyLateFee(ctx, LateFeeInput{LoanID: loanID, SequenceNo: seq}); err != nil || !res.Applied {
			t.Fatalf("fee %d = %v %+v", seq, err, res)
		}
	}
	res, err := f.uc.PayInstallment(ctx, PayInstallmentInput{LoanID: loanID, SequenceNo: 1, AmountMinor: 2650})
	if err != nil {
		t.Fatalf("payment 1 err: %v", err)
	}
	if res.Loan.Status != domain.StatusOverdue {
		t.Fatalf("status = %s, want OVERDUE while installment 2 is late", res.Loan.Status)
	}
	res, err = f.uc.PayInstallment(ctx, PayInstallmentInput{LoanID: loanID, SequenceNo: 2, AmountMinor: 2650})
	if err != nil {
		t.Fatalf("payment 2 err: %v", err)
	}
	if res.Loan.Status != domain.StatusActive || res.Loan.OutstandingMinor != 5000 {
		t.Fatalf("loan = %s / %d", res.Loan.Status, res.Loan.OutstandingMinor)
	}
}

func TestLateFee_ApplyOnceAndWaive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")
	due := f.store.Installments(loanID)[0].DueAt

	inGrace, err := f.uc.ApplyLateFee(ctx, LateFeeInput{LoanID: loanID, SequenceNo: 1, AsOf: due.Add(48 * time.Hour)})
	if err != nil || inGrace.Applied || !inGrace.Preview.InGrace {
		t.Fatalf("inside grace = %v %+v", err, inGrace)
	}
	fee, err := f.uc.ApplyLateFee(ctx, LateFeeInput{LoanID: loanID, SequenceNo: 1, AsOf: due.Add(73 * time.Hour)})
	if err != nil || !fee.Applied || fee.FeeMinor != 150 {
		t.Fatalf("past grace = %v %+v", err, fee)
	}
	if fee.Loan.PenaltyAccruedMinor != 150 || fee.Loan.OutstandingMinor != 10150 {
		t.Fatalf("loan = %+v", fee.Loan)
	}
	twice, _ := f.uc.ApplyLateFee(ctx, LateFeeInput{LoanID: loanID, SequenceNo: 1, AsOf: due.Add(200 * time.Hour)})
	if twice.Applied {
		t.Fatal("late fee applied twice")
	}

	w, err := f.uc.WaiveLateFee(ctx, WaiveLateFeeInput{LoanID: loanID, SequenceNo: 1, Reason: "goodwill"})
	if err != nil {
		t.Fatalf("WaiveLateFee err: %v", err)
	}
	if w.FeeMinor != 150 || w.Loan.OutstandingMinor != 10000 || w.Loan.PenaltyAccruedMinor != 0 || w.Installment.LateFeeMinor != 0 {
		t.Fatalf("waive = %+v", w)
	}
	if _, err := f.uc.WaiveLateFee(ctx, WaiveLateFeeInput{LoanID: loanID, SequenceNo: 1, Reason: "again"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("nothing to waive: got %v", err)
	}
	entries := f.store.LedgerEntries(loanID)
	if countEntries(entries, ledger.EntryLateFeeApplied) != 1 || countEntries(entries, ledger.EntryLateFeeWaived) != 1 {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestProcessWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")

	evt := WebhookInput{EventID: "evt_1", Type: WebhookPaymentCaptured, LoanID: loanID, AmountMinor: 2500, PaymentRef: "pay_1"}
	first, err := f.uc.ProcessWebhook(ctx, evt)
	if err != nil || !first.Processed {
		t.Fatalf("webhook = %v %+v", err, first)
	}
	second, err := f.uc.ProcessWebhook(ctx, evt)
	if err != nil || second.Payment == nil || second.Payment.Loan.OutstandingMinor != 7500 {
		t.Fatalf("redelivery = %v %+v", err, second)
	}
	if n := countEntries(f.store.LedgerEntries(loanID), ledger.EntryInstallmentPayment); n != 1 {
		t.Fatalf("payment entries = %d, want 1", n)
	}

	ignored, err := f.uc.ProcessWebhook(ctx, WebhookInput{EventID: "evt_2", Type: "payment.failed", LoanID: loanID})
	if err != nil || ignored.Processed {
		t.Fatalf("ignored = %v %+v", err, ignored)
	}
	if _, err := f.uc.ProcessWebhook(ctx, WebhookInput{Type: WebhookPaymentCaptured}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing event id: got %v", err)
	}
}

func TestCreatePaymentLink(t *testing.T) {
	f := newFixture(t)
	loanID := f.activeLoan(t, "0.5")

	res, err := f.uc.CreatePaymentLink(context.Background(), PaymentLinkInput{LoanID: loanID})
	if err != nil {
		t.Fatalf("CreatePaymentLink err: %v", err)
	}
	if res.SequenceNo != 1 || res.AmountMinor != 2500 || res.Link.URL == "" {
		t.Fatalf("link = %+v", res)
	}
	if len(f.gw.links) != 1 || f.gw.links[0].BorrowerID != "borrower-1" {
		t.Fatalf("gateway links = %+v", f.gw.links)
	}

	f.gw.fail = errors.New("timeout")
	if _, err := f.uc.CreatePaymentLink(context.Background(), PaymentLinkInput{LoanID: loanID}); !errors.Is(err, errs.ErrServiceUnavailable) {
		t.Fatalf("gateway down: got %v", err)
	}

	noGateway := NewUsecase(Deps{UoW: f.store, Idempotency: f.idem, Now: func() time.Time { return t0 }})
	if _, err := noGateway.CreatePaymentLink(context.Background(), PaymentLinkInput{LoanID: loanID}); !errors.Is(err, errs.ErrServiceUnavailable) {
		t.Fatalf("no gateway: got %v", err)
	}
}

func TestSweepHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")
	asOf := f.store.Installments(loanID)[0].DueAt.Add(time.Hour)

	items, err := f.uc.PastDueInstallments(ctx, asOf, 10)
	if err != nil || len(items) != 1 || items[0].SequenceNo != 1 {
		t.Fatalf("past due = %v %+v", err, items)
	}
	changed, err := f.uc.MarkDue(ctx, loanID, 1)
	if err != nil || !changed {
		t.Fatalf("MarkDue = %v %v", changed, err)
	}
	l, _ := f.store.Loan(loanID)
	if l.Status != domain.StatusGrace || f.store.Installments(loanID)[0].Status != domain.InstallmentDue {
		t.Fatalf("after MarkDue: loan %s", l.Status)
	}
	if changed, _ := f.uc.MarkDue(ctx, loanID, 1); changed {
		t.Fatal("second MarkDue reported a change")
	}
}
