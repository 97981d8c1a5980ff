// Package memstore is an in-memory implementation of every repository and of
// uow.UnitOfWork. Transactions snapshot the whole store and restore it when the
// callback fails, so rollback semantics match the gorm implementation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	collDomain "bnpl-engine/internal/domain/collateral"
	"bnpl-engine/internal/domain/errs"
	ledgerDomain "bnpl-engine/internal/domain/ledger"
	loanDomain "bnpl-engine/internal/domain/loan"
	riskDomain "bnpl-engine/internal/domain/risk"
	"bnpl-engine/internal/domain/uow"
)

var _ uow.UnitOfWork = (*Store)(nil)

type state struct {
	seq          uint64
	loans        map[string]loanDomain.Loan
	installments map[string]loanDomain.Installment
	collaterals  map[string]collDomain.Collateral
	logs         []collDomain.LiquidationLog
	entries      []ledgerDomain.Entry
	settlements  map[string]ledgerDomain.Settlement
	snapshots    []riskDomain.Snapshot
}

func newState() state {
	return state{
		loans:        map[string]loanDomain.Loan{},
		installments: map[string]loanDomain.Installment{},
		collaterals:  map[string]collDomain.Collateral{},
		settlements:  map[string]ledgerDomain.Settlement{},
	}
}

func (s state) clone() state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.installments {
		c.installments[k] = v
	}
	for k, v := range s.collaterals {
		c.collaterals[k] = v
	}
	for k, v := range s.settlements {
		c.settlements[k] = v
	}
	c.logs = append([]collDomain.LiquidationLog(nil), s.logs...)
	c.entries = append([]ledgerDomain.Entry(nil), s.entries...)
	c.snapshots = append([]riskDomain.Snapshot(nil), s.snapshots...)
	return c
}

// Store serialises transactions with a single mutex.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time

	// FailLedgerAppend, when set, is returned by every ledger Append.
	FailLedgerAppend error
	// FailLoanUpdate, when set, is returned by every loan Update.
	FailLoanUpdate error
}

func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) repos() uow.Repos {
	return uow.Repos{
		Loans:        loanRepo{s},
		Installments: installmentRepo{s},
		Collaterals:  collateralRepo{s},
		Liquidations: logRepo{s},
		Ledger:       ledgerRepo{s},
		Settlements:  settlementRepo{s},
		RiskScores:   riskRepo{s},
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	saved := s.st.clone()
	if err := fn(s.repos()); err != nil {
		s.st = saved
		return err
	}
	return nil
}

func (s *Store) WithinLoanTx(ctx context.Context, loanID string, fn func(r uow.Repos, l *loanDomain.Loan) error) error {
	return s.WithinTx(ctx, func(r uow.Repos) error {
		l, err := r.Loans.GetByLoanID(ctx, loanID)
		if err != nil {
			return err
		}
		return fn(r, l)
	})
}

func (s *Store) nextID() uint64 {
	s.st.seq++
	return s.st.seq
}

// ---- inspection helpers for tests ----

func (s *Store) Loan(loanID string) (loanDomain.Loan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.loans[loanID]
	return l, ok
}

func (s *Store) Collaterals(loanID string) []collDomain.Collateral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collateralsOf(loanID)
}

func (s *Store) Installments(loanID string) []loanDomain.Installment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installmentsOf(loanID)
}

func (s *Store) LedgerEntries(loanID string) []ledgerDomain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledgerDomain.Entry
	for _, e := range s.st.entries {
		if e.LoanID == loanID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) LiquidationLogs(loanID string) []collDomain.LiquidationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []collDomain.LiquidationLog
	for _, g := range s.st.logs {
		if g.LoanID == loanID {
			out = append(out, g)
		}
	}
	return out
}

func (s *Store) Settlements(loanID string) []ledgerDomain.Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settlementsOf(loanID)
}

// PutLoan overwrites a loan directly, bypassing version checks.
func (s *Store) PutLoan(l loanDomain.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.loans[l.LoanID] = l
}

// PutInstallment overwrites an installment directly, bypassing version checks.
func (s *Store) PutInstallment(i loanDomain.Installment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.installments[i.InstallmentID] = i
}

func (s *Store) collateralsOf(loanID string) []collDomain.Collateral {
	var out []collDomain.Collateral
	for _, c := range s.st.collaterals {
		if c.LoanID == loanID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) installmentsOf(loanID string) []loanDomain.Installment {
	var out []loanDomain.Installment
	for _, i := range s.st.installments {
		if i.LoanID == loanID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SequenceNo < out[b].SequenceNo })
	return out
}

func (s *Store) settlementsOf(loanID string) []ledgerDomain.Settlement {
	var out []ledgerDomain.Settlement
	for _, st := range s.st.settlements {
		if st.LoanID == loanID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- loans ----

type loanRepo struct{ s *Store }

func (r loanRepo) Create(_ context.Context, l *loanDomain.Loan) error {
	if _, dup := r.s.st.loans[l.LoanID]; dup {
		return errs.Invalid("loan_id", "duplicate")
	}
	l.ID = r.s.nextID()
	if l.Version == 0 {
		l.Version = 1
	}
	now := r.s.now()
	l.CreatedAt, l.UpdatedAt = now, now
	r.s.st.loans[l.LoanID] = *l
	return nil
}

func (r loanRepo) GetByLoanID(_ context.Context, loanID string) (*loanDomain.Loan, error) {
	l, ok := r.s.st.loans[loanID]
	if !ok {
		return nil, errs.NotFound("loan", loanID)
	}
	return &l, nil
}

func (r loanRepo) Update(_ context.Context, l *loanDomain.Loan) error {
	if r.s.FailLoanUpdate != nil {
		return r.s.FailLoanUpdate
	}
	cur, ok := r.s.st.loans[l.LoanID]
	if !ok || cur.Version != l.Version {
		return &errs.VersionConflictError{Entity: "loan", ID: l.LoanID, Version: l.Version}
	}
	l.Version++
	l.UpdatedAt = r.s.now()
	r.s.st.loans[l.LoanID] = *l
	return nil
}

func (r loanRepo) ListByBorrowerID(_ context.Context, borrowerID string) ([]loanDomain.Loan, error) {
	var out []loanDomain.Loan
	for _, l := range r.s.st.loans {
		if l.BorrowerID == borrowerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ---- installments ----

type installmentRepo struct{ s *Store }

func (r installmentRepo) CreateBatch(_ context.Context, items []loanDomain.Installment) error {
	for i := range items {
		items[i].ID = r.s.nextID()
		if items[i].Version == 0 {
			items[i].Version = 1
		}
		r.s.st.installments[items[i].InstallmentID] = items[i]
	}
	return nil
}

func (r installmentRepo) ListByLoanID(_ context.Context, loanID string) ([]loanDomain.Installment, error) {
	return r.s.installmentsOf(loanID), nil
}

func (r installmentRepo) GetBySequence(_ context.Context, loanID string, seq int) (*loanDomain.Installment, error) {
	for _, i := range r.s.st.installments {
		if i.LoanID == loanID && i.SequenceNo == seq {
			return &i, nil
		}
	}
	return nil, errs.NotFound("installment", loanID)
}

func (r installmentRepo) Update(_ context.Context, i *loanDomain.Installment) error {
	cur, ok := r.s.st.installments[i.InstallmentID]
	if !ok || cur.Version != i.Version {
		return &errs.VersionConflictError{Entity: "installment", ID: i.InstallmentID, Version: i.Version}
	}
	i.Version++
	r.s.st.installments[i.InstallmentID] = *i
	return nil
}

func (r installmentRepo) ListUnsettledDueBefore(_ context.Context, asOf time.Time, limit int) ([]loanDomain.Installment, error) {
	var out []loanDomain.Installment
	for _, i := range r.s.st.installments {
		if i.Status != loanDomain.InstallmentUpcoming && i.Status != loanDomain.InstallmentDue || !i.DueAt.Before(asOf) {
			continue
		}
		if l, ok := r.s.st.loans[i.LoanID]; ok && l.Status.Sweepable() {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].DueAt.Equal(out[b].DueAt) {
			return out[a].DueAt.Before(out[b].DueAt)
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- collaterals ----

type collateralRepo struct{ s *Store }

func (r collateralRepo) Create(_ context.Context, c *collDomain.Collateral) error {
	c.ID = r.s.nextID()
	if c.Version == 0 {
		c.Version = 1
	}
	now := r.s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.st.collaterals[c.CollateralID] = *c
	return nil
}

func (r collateralRepo) GetByCollateralID(_ context.Context, collateralID string) (*collDomain.Collateral, error) {
	c, ok := r.s.st.collaterals[collateralID]
	if !ok {
		return nil, errs.NotFound("collateral", collateralID)
	}
	return &c, nil
}

func (r collateralRepo) ListByLoanID(_ context.Context, loanID string) ([]collDomain.Collateral, error) {
	return r.s.collateralsOf(loanID), nil
}

func (r collateralRepo) Update(_ context.Context, c *collDomain.Collateral) error {
	cur, ok := r.s.st.collaterals[c.CollateralID]
	if !ok || cur.Version != c.Version {
		return &errs.VersionConflictError{Entity: "collateral", ID: c.CollateralID, Version: c.Version}
	}
	c.Version++
	c.UpdatedAt = r.s.now()
	r.s.st.collaterals[c.CollateralID] = *c
	return nil
}

// ---- liquidation logs ----

type logRepo struct{ s *Store }

func (r logRepo) Create(_ context.Context, g *collDomain.LiquidationLog) error {
	g.ID = r.s.nextID()
	if g.Version == 0 {
		g.Version = 1
	}
	g.CreatedAt = r.s.now()
	r.s.st.logs = append(r.s.st.logs, *g)
	return nil
}

func (r logRepo) ListByLoanID(_ context.Context, loanID string) ([]collDomain.LiquidationLog, error) {
	var out []collDomain.LiquidationLog
	for _, g := range r.s.st.logs {
		if g.LoanID == loanID {
			out = append(out, g)
		}
	}
	return out, nil
}

// ---- ledger ----

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Append(_ context.Context, e *ledgerDomain.Entry) error {
	if r.s.FailLedgerAppend != nil {
		return r.s.FailLedgerAppend
	}
	e.ID = r.s.nextID()
	e.CreatedAt = r.s.now()
	r.s.st.entries = append(r.s.st.entries, *e)
	return nil
}

func (r ledgerRepo) ListByLoanID(_ context.Context, loanID string) ([]ledgerDomain.Entry, error) {
	var out []ledgerDomain.Entry
	for _, e := range r.s.st.entries {
		if e.LoanID == loanID {
			out = append(out, e)
		}
	}
	return out, nil
}

type settlementRepo struct{ s *Store }

func (r settlementRepo) Create(_ context.Context, st *ledgerDomain.Settlement) error {
	st.ID = r.s.nextID()
	if st.Version == 0 {
		st.Version = 1
	}
	now := r.s.now()
	st.CreatedAt, st.UpdatedAt = now, now
	r.s.st.settlements[st.SettlementID] = *st
	return nil
}

func (r settlementRepo) GetBySettlementID(_ context.Context, settlementID string) (*ledgerDomain.Settlement, error) {
	st, ok := r.s.st.settlements[settlementID]
	if !ok {
		return nil, errs.NotFound("settlement", settlementID)
	}
	return &st, nil
}

func (r settlementRepo) Update(_ context.Context, st *ledgerDomain.Settlement) error {
	cur, ok := r.s.st.settlements[st.SettlementID]
	if !ok || cur.Version != st.Version {
		return &errs.VersionConflictError{Entity: "settlement", ID: st.SettlementID, Version: st.Version}
	}
	st.Version++
	st.UpdatedAt = r.s.now()
	r.s.st.settlements[st.SettlementID] = *st
	return nil
}

func (r settlementRepo) ListByLoanID(_ context.Context, loanID string) ([]ledgerDomain.Settlement, error) {
	return r.s.settlementsOf(loanID), nil
}

// ---- risk ----

type riskRepo struct{ s *Store }

func (r riskRepo) Create(_ context.Context, snap *riskDomain.Snapshot) error {
	snap.ID = r.s.nextID()
	snap.CreatedAt = r.s.now()
	r.s.st.snapshots = append(r.s.st.snapshots, *snap)
	return nil
}

func (r riskRepo) LatestByLoanID(_ context.Context, loanID string) (*riskDomain.Snapshot, error) {
	for i := len(r.s.st.snapshots) - 1; i >= 0; i-- {
		if r.s.st.snapshots[i].LoanID == loanID {
			snap := r.s.st.snapshots[i]
			return &snap, nil
		}
	}
	return nil, errs.NotFound("risk score", loanID)
}
