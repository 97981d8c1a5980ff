package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bnpl-engine/internal/domain/errs"
	domain "bnpl-engine/internal/domain/loan"
	loanuc "bnpl-engine/internal/usecase/loan"
)

const (
	DefaultSchedule  = "@every 15m"
	DefaultBatchSize = 200
)

// Engine is the slice of the loan usecase the sweeper drives.
type Engine interface {
	PastDueInstallments(ctx context.Context, asOf time.Time, limit int) ([]domain.Installment, error)
	MarkDue(ctx context.Context, loanID string, seq int) (bool, error)
	ApplyLateFee(ctx context.Context, in loanuc.LateFeeInput) (*loanuc.LateFeeResult, error)
	ExecutePartialRecovery(ctx context.Context, in loanuc.PartialRecoveryInput) (*loanuc.RecoveryResult, error)
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned   int
	MarkedDue int
	FeesAdded int
	Recovered int
	Skipped   int
	Failed    int
}

// OverdueSweeper moves past-due installments through grace, late fee and
// partial recovery on a cron schedule.
type OverdueSweeper struct {
	engine    Engine
	log       *logrus.Logger
	now       func() time.Time
	schedule  string
	batchSize int

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*OverdueSweeper)

func WithSchedule(spec string) Option {
	return func(s *OverdueSweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *OverdueSweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *OverdueSweeper) { s.now = now }
}

func NewOverdueSweeper(engine Engine, log *logrus.Logger, opts ...Option) *OverdueSweeper {
	s := &OverdueSweeper{
		engine:    engine,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		schedule:  DefaultSchedule,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	return s
}

// Start registers the sweep with a cron scheduler. Jobs do not overlap.
func (s *OverdueSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	logger := cron.PrintfLogger(s.log)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule overdue sweep %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", s.schedule).Info("overdue sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish or ctx to expire.
func (s *OverdueSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sweeps one batch. Each installment is handled independently.
func (s *OverdueSweeper) RunOnce(ctx context.Context) SweepReport {
	var rep SweepReport
	asOf := s.now()
	items, err := s.engine.PastDueInstallments(ctx, asOf, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("list past-due installments failed")
		return rep
	}
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		rep.Scanned++
		s.sweepOne(ctx, &items[i], asOf, &rep)
	}
	s.log.WithFields(logrus.Fields{
		"scanned":    rep.Scanned,
		"marked_due": rep.MarkedDue,
		"late_fees":  rep.FeesAdded,
		"recovered":  rep.Recovered,
		"skipped":    rep.Skipped,
		"failed":     rep.Failed,
	}).Info("overdue sweep complete")
	return rep
}

func (s *OverdueSweeper) sweepOne(ctx context.Context, inst *domain.Installment, asOf time.Time, rep *SweepReport) {
	entry := s.log.WithFields(logrus.Fields{"loan_id": inst.LoanID, "sequence_no": inst.SequenceNo})
	defer func() {
		if r := recover(); r != nil {
			rep.Failed++
			entry.WithField("panic", fmt.Sprint(r)).Error("overdue sweep item panicked")
		}
	}()

	if !asOf.After(inst.GraceDeadline) {
		changed, err := s.engine.MarkDue(ctx, inst.LoanID, inst.SequenceNo)
		if err != nil {
			s.skipOrFail(entry, err, "mark due", rep)
			return
		}
		if changed {
			rep.MarkedDue++
		}
		return
	}

	fee, err := s.engine.ApplyLateFee(ctx, loanuc.LateFeeInput{LoanID: inst.LoanID, SequenceNo: inst.SequenceNo, AsOf: asOf})
	if err != nil {
		s.skipOrFail(entry, err, "late fee", rep)
		return
	}
	if fee.Applied {
		rep.FeesAdded++
	}

	res, err := s.engine.ExecutePartialRecovery(ctx, loanuc.PartialRecoveryInput{
		LoanID:         inst.LoanID,
		SequenceNo:     inst.SequenceNo,
		InitiatedBy:    "sweeper",
		AsOf:           asOf,
		IdempotencyKey: "sweep-" + inst.InstallmentID,
	})
	if err != nil {
		s.skipOrFail(entry, err, "partial recovery", rep)
		return
	}
	rep.Recovered++
	entry.WithFields(logrus.Fields{
		"seized": res.Log.SeizedMinor,
		"status": res.Loan.Status,
	}).Info("installment recovered from collateral")
}

// skipOrFail treats state conflicts as skips; anything else counts as a failure.
func (s *OverdueSweeper) skipOrFail(entry *logrus.Entry, err error, stage string, rep *SweepReport) {
	switch {
	case errors.Is(err, errs.ErrInvalidTransition),
		errors.Is(err, errs.ErrValidation),
		errors.Is(err, errs.ErrIdempotencyInProgress):
		rep.Skipped++
		entry.WithError(err).WithField("stage", stage).Debug("overdue sweep skipped")
	default:
		rep.Failed++
		entry.WithError(err).WithField("stage", stage).Warn("overdue sweep failed")
	}
}
