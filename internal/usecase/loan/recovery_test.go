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

func pastGrace(f *fixture, loanID string, seq int) time.Time {
	return f.store.Installments(loanID)[seq-1].DueAt.Add(73 * time.Hour)
}

func TestPartialRecovery_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")

	res, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{
		IdempotencyKey: "rec-1",
		LoanID:         loanID,
		SequenceNo:     1,
		InitiatedBy:    "ops",
		AsOf:           pastGrace(f, loanID, 1),
	})
	if err != nil {
		t.Fatalf("ExecutePartialRecovery err: %v", err)
	}

	g := res.Log
	if g.MissedAmountMinor != 2500 || g.PenaltyMinor != 150 || g.NeededMinor != 2650 || g.SeizedMinor != 2650 {
		t.Fatalf("log = %+v", g)
	}
	if g.ResidualMinor != 0 || len(g.Seizures) != 1 || g.HealthFactorAtTrigger <= 2 {
		t.Fatalf("log details = %+v", g)
	}
	if res.Installment.Status != domain.InstallmentWaived {
		t.Fatalf("installment = %s, want WAIVED", res.Installment.Status)
	}
	if res.Loan.Status != domain.StatusPartiallyRecovered || res.Loan.OutstandingMinor != 7500 {
		t.Fatalf("loan = %s outstanding %d", res.Loan.Status, res.Loan.OutstandingMinor)
	}
	c := f.store.Collaterals(loanID)[0]
	if c.AvailableMinor() != 22350 || c.SeizedMinor != 2650 || c.Status != collateral.StatusPartiallyRecovered {
		t.Fatalf("collateral = %+v", c)
	}
	if res.Safety.TotalCollateralMinor != 22350 {
		t.Fatalf("meter total = %d", res.Safety.TotalCollateralMinor)
	}

	if res.Settlement == nil || res.Settlement.Status != ledger.SettlementSubmitted || res.Settlement.AmountMinor != 2650 {
		t.Fatalf("settlement = %+v", res.Settlement)
	}
	if len(f.gw.orders) != 1 || f.gw.orders[0].MerchantID != "merchant-1" {
		t.Fatalf("gateway orders = %+v", f.gw.orders)
	}

	entries := f.store.LedgerEntries(loanID)
	for typ, want := range map[ledger.EntryType]int{
		ledger.EntryLateFeeApplied:        1,
		ledger.EntryPartialRecoverySeized: 1,
		ledger.EntryMerchantSettlement:    1,
	} {
		if got := countEntries(entries, typ); got != want {
			t.Fatalf("%s entries = %d, want %d", typ, got, want)
		}
	}
	logs := f.store.LiquidationLogs(loanID)
	if len(logs) != 2 || logs[0].Action != collateral.ActionPenaltyApplied || logs[1].Action != collateral.ActionPartialRecovery {
		t.Fatalf("liquidation logs = %+v", logs)
	}

	// same key, no second seizure
	again, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{IdempotencyKey: "rec-1", LoanID: loanID, SequenceNo: 1})
	if err != nil || again.Log.LogID != g.LogID {
		t.Fatalf("replay = %v %+v", err, again)
	}
	if got := countEntries(f.store.LedgerEntries(loanID), ledger.EntryPartialRecoverySeized); got != 1 {
		t.Fatalf("seizure entries after replay = %d", got)
	}
}

func TestPartialRecovery_AcrossCollateralsThenDelinquent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.uc.CreatePlan(ctx, func() CreatePlanInput { in := planInput(""); fullLTV(&in); return in }())
	if err != nil {
		t.Fatalf("CreatePlan err: %v", err)
	}
	loanID := p.Loan.LoanID
	for _, units := range []string{"0.02", "0.18"} {
		if _, err := f.uc.LockDeposit(ctx, LockDepositInput{LoanID: loanID, Asset: "ETH", Units: mustDec(units)}); err != nil {
			t.Fatalf("LockDeposit err: %v", err)
		}
	}
	asOf := pastGrace(f, loanID, 4)

	first, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: loanID, SequenceNo: 1, AsOf: asOf})
	if err != nil {
		t.Fatalf("recovery 1 err: %v", err)
	}
	if len(first.Log.Seizures) != 2 || first.Log.Seizures[0].SeizedMinor != 1000 || first.Log.Seizures[1].SeizedMinor != 1650 {
		t.Fatalf("seizures = %+v", first.Log.Seizures)
	}

	for seq := 2; seq <= 3; seq++ {
		if _, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: loanID, SequenceNo: seq, AsOf: asOf}); err != nil {
			t.Fatalf("recovery %d err: %v", seq, err)
		}
	}
	last, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: loanID, SequenceNo: 4, AsOf: asOf})
	if err != nil {
		t.Fatalf("recovery 4 err: %v", err)
	}
	if last.Log.NeededMinor != 2650 || last.Log.SeizedMinor != 2050 || last.Log.ResidualMinor != 600 {
		t.Fatalf("last log = %+v", last.Log)
	}
	if last.Installment.Status != domain.InstallmentMissed || last.Loan.Status != domain.StatusDelinquent {
		t.Fatalf("installment %s loan %s", last.Installment.Status, last.Loan.Status)
	}
	if last.Loan.OutstandingMinor != 600 {
		t.Fatalf("outstanding = %d, want 600", last.Loan.OutstandingMinor)
	}

	// collateral is exhausted: the retry seizes nothing but is still on the ledger
	empty, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: loanID, SequenceNo: 4, AsOf: asOf})
	if err != nil {
		t.Fatalf("recovery on exhausted collateral err: %v", err)
	}
	if empty.Log.SeizedMinor != 0 || empty.Log.NeededMinor != 600 || empty.Settlement != nil {
		t.Fatalf("empty recovery = %+v settlement=%+v", empty.Log, empty.Settlement)
	}
	var seizures []ledger.Entry
	for _, e := range f.store.LedgerEntries(loanID) {
		if e.EntryType == ledger.EntryPartialRecoverySeized {
			seizures = append(seizures, e)
		}
	}
	if len(seizures) != 5 {
		t.Fatalf("seizure entries = %d, want one per recovery", len(seizures))
	}
	if z := seizures[4]; z.AmountMinor != 0 || z.ReferenceID != empty.Log.LogID {
		t.Fatalf("zero seizure entry = %+v", z)
	}
	for _, g := range f.store.LiquidationLogs(loanID) {
		if g.SeizedMinor > g.NeededMinor || g.NeededMinor < g.MissedAmountMinor+g.PenaltyMinor {
			t.Fatalf("log breaks seize-within-need: %+v", g)
		}
	}
}

func TestPartialRecovery_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")
	due := f.store.Installments(loanID)[0].DueAt

	if _, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: loanID, SequenceNo: 1, AsOf: due.Add(24 * time.Hour)}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("inside grace: want validation error, got %v", err)
	}
	if _, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: loanID, SequenceNo: 9, AsOf: due.Add(100 * time.Hour)}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown installment: want not found, got %v", err)
	}

	p, _ := f.uc.CreatePlan(ctx, planInput(""))
	if _, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: p.Loan.LoanID, SequenceNo: 1, AsOf: due.Add(100 * time.Hour)}); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("eligible loan: want transition error, got %v", err)
	}
}

func TestSeizedWithinNeededGuard(t *testing.T) {
	u := NewUsecase(Deps{})
	err := u.seizedWithinNeeded("L1", 2651, 2650)
	var iv *errs.InvariantViolationError
	if !errors.As(err, &iv) || iv.Invariant != "seized_within_needed" {
		t.Fatalf("want invariant violation, got %v", err)
	}
	if err := u.seizedWithinNeeded("L1", 2650, 2650); err != nil {
		t.Fatalf("equal amounts: %v", err)
	}
}

func TestFullLiquidation_ReturnsExcess(t *testing.T) {
	f := newFixture(t)
	loanID := f.activeLoan(t, "0.5")

	res, err := f.uc.ExecuteFullLiquidation(context.Background(), FullLiquidationInput{LoanID: loanID, InitiatedBy: "risk-desk"})
	if err != nil {
		t.Fatalf("ExecuteFullLiquidation err: %v", err)
	}
	if res.Log.NeededMinor != 10000 || res.Log.SeizedMinor != 10000 || res.Log.ReturnedMinor != 15000 || res.Log.ResidualMinor != 0 {
		t.Fatalf("log = %+v", res.Log)
	}
	if res.Loan.Status != domain.StatusClosed || res.Loan.OutstandingMinor != 0 {
		t.Fatalf("loan = %s / %d", res.Loan.Status, res.Loan.OutstandingMinor)
	}
	c := f.store.Collaterals(loanID)[0]
	if c.Status != collateral.StatusReleased || c.Validate() != nil {
		t.Fatalf("collateral = %+v", c)
	}
	if len(res.Refunds) != 1 || f.gw.refunds[0].AmountMinor != 15000 {
		t.Fatalf("refunds = %+v", f.gw.refunds)
	}
	for _, in := range f.store.Installments(loanID) {
		if in.Status != domain.InstallmentWaived {
			t.Fatalf("installment %d = %s", in.SequenceNo, in.Status)
		}
	}
}

func TestFullLiquidation_ResidualThenForcedClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.2", fullLTV)

	fee, err := f.uc.ApplyLateFee(ctx, LateFeeInput{LoanID: loanID, SequenceNo: 1, AsOf: pastGrace(f, loanID, 1)})
	if err != nil || !fee.Applied || fee.FeeMinor != 150 {
		t.Fatalf("ApplyLateFee = %v %+v", err, fee)
	}
	if fee.Loan.Status != domain.StatusOverdue {
		t.Fatalf("status after fee = %s", fee.Loan.Status)
	}

	res, err := f.uc.ExecuteFullLiquidation(ctx, FullLiquidationInput{LoanID: loanID})
	if err != nil {
		t.Fatalf("ExecuteFullLiquidation err: %v", err)
	}
	g := res.Log
	if g.NeededMinor != 10150 || g.PenaltyMinor != 150 || g.SeizedMinor != 10000 || g.ResidualMinor != 150 {
		t.Fatalf("log = %+v", g)
	}
	if res.Loan.Status != domain.StatusDefaulted || res.Loan.OutstandingMinor != 150 {
		t.Fatalf("loan = %s / %d", res.Loan.Status, res.Loan.OutstandingMinor)
	}
	entries := f.store.LedgerEntries(loanID)
	if countEntries(entries, ledger.EntryBadDebt) != 1 || countEntries(entries, ledger.EntryFullRecoverySeized) != 1 {
		t.Fatalf("ledger = %+v", entries)
	}
	if insts := f.store.Installments(loanID); insts[3].Status != domain.InstallmentMissed || insts[3].DueMinor() != 150 {
		t.Fatalf("last installment = %+v", insts[3])
	}

	if _, err := f.uc.CloseLoan(ctx, CloseLoanInput{LoanID: loanID}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("close with balance: want validation error, got %v", err)
	}
	closed, err := f.uc.CloseLoan(ctx, CloseLoanInput{LoanID: loanID, Force: true, Reason: "uncollectable residual"})
	if err != nil {
		t.Fatalf("forced close err: %v", err)
	}
	if closed.Loan.Status != domain.StatusClosed || closed.Loan.WrittenOffMinor != 150 || closed.Loan.OutstandingMinor != 0 {
		t.Fatalf("closed = %+v", closed.Loan)
	}
	if countEntries(f.store.LedgerEntries(loanID), ledger.EntryWriteOff) != 1 {
		t.Fatal("missing write-off entry")
	}
}

func TestFullLiquidation_BlockedInDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")
	if _, err := f.uc.TransitionLoanState(ctx, TransitionInput{LoanID: loanID, To: domain.StatusDisputed, Reason: "chargeback"}); err != nil {
		t.Fatalf("transition err: %v", err)
	}
	if l, _ := f.store.Loan(loanID); l.PenaltyPausedUntil == nil {
		t.Fatal("dispute entered without a pause")
	}
	if _, err := f.uc.ExecuteFullLiquidation(ctx, FullLiquidationInput{LoanID: loanID}); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("want transition error, got %v", err)
	}
}

func TestSettleMerchant_RetriesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loanID := f.activeLoan(t, "0.5")

	f.gw.fail = errors.New("gateway down")
	res, err := f.uc.ExecutePartialRecovery(ctx, PartialRecoveryInput{LoanID: loanID, SequenceNo: 1, AsOf: pastGrace(f, loanID, 1)})
	if err != nil {
		t.Fatalf("recovery err: %v", err)
	}
	if res.Settlement.Status != ledger.SettlementPending {
		t.Fatalf("settlement = %s, want PENDING", res.Settlement.Status)
	}

	f.gw.fail = nil
	s, err := f.uc.SettleMerchant(ctx, SettleMerchantInput{SettlementID: res.Settlement.SettlementID})
	if err != nil {
		t.Fatalf("SettleMerchant err: %v", err)
	}
	if s.Status != ledger.SettlementSubmitted || s.GatewayOrderID == "" {
		t.Fatalf("settlement = %+v", s)
	}
	if _, err := f.uc.SettleMerchant(ctx, SettleMerchantInput{SettlementID: s.SettlementID}); err != nil {
		t.Fatalf("second settle err: %v", err)
	}
	if len(f.gw.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(f.gw.orders))
	}
	if n := countEntries(f.store.LedgerEntries(loanID), ledger.EntryMerchantSettlement); n != 1 {
		t.Fatalf("settlement entries = %d", n)
	}
}
