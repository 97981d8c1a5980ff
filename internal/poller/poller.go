package poller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bnpl-engine/internal/observability"
)

// healthScale is the number of decimals in the on-chain fixed-point value.
const healthScale = 18

const (
	DefaultInterval    = 30 * time.Second
	DefaultCallTimeout = 10 * time.Second
)

// Chain is the on-chain collaborator the poller reads from and liquidates through.
type Chain interface {
	ReadHealthFactor(ctx context.Context, borrower string) (*big.Int, error)
	SubmitLiquidation(ctx context.Context, borrower string) (string, error)
}

type Config struct {
	Borrowers   []string
	Interval    time.Duration
	Threshold   decimal.Decimal
	CallTimeout time.Duration
}

// Outcome is the result of evaluating one borrower in a cycle.
type Outcome struct {
	Borrower     string
	HealthFactor decimal.Decimal
	Liquidated   bool
	TxHash       string
	Err          error
}

// ScaleHealthFactor converts a raw 1e18 fixed-point health factor to a ratio.
func ScaleHealthFactor(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -healthScale)
}

// HealthPoller periodically checks borrower health and submits liquidations
// for positions under the threshold.
type HealthPoller struct {
	chain   Chain
	cfg     Config
	log     *logrus.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(chain Chain, cfg Config, log *logrus.Logger, metrics *observability.Metrics) *HealthPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Threshold.IsZero() {
		cfg.Threshold = decimal.NewFromInt(1)
	}
	if log == nil {
		log = logrus.New()
	}
	return &HealthPoller{chain: chain, cfg: cfg, log: log, metrics: metrics}
}

// Start launches the poll loop. Calling Start on a running poller is a no-op.
func (p *HealthPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)
	p.log.WithFields(logrus.Fields{
		"borrowers": len(p.cfg.Borrowers),
		"interval":  p.cfg.Interval.String(),
		"threshold": p.cfg.Threshold.String(),
	}).Info("health poller started")
}

// Stop signals the loop and waits for it to exit or for ctx to expire.
// Stopping a poller that is not running is a no-op.
func (p *HealthPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		p.log.Info("health poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *HealthPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *HealthPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		p.runCycleSafe(ctx)
		timer.Reset(p.cfg.Interval)
	}
}

func (p *HealthPoller) runCycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.Cycle("panic")
			p.log.WithField("panic", fmt.Sprint(r)).Error("health poller cycle panicked")
		}
	}()
	p.RunCycle(ctx)
}

// RunCycle evaluates every configured borrower once. A failure on one
// borrower never prevents the others from being checked.
func (p *HealthPoller) RunCycle(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, 0, len(p.cfg.Borrowers))
	failed, liquidated := 0, 0
	for _, borrower := range p.cfg.Borrowers {
		if ctx.Err() != nil {
			break
		}
		out := p.evaluate(ctx, borrower)
		if out.Err != nil {
			failed++
		}
		if out.Liquidated {
			liquidated++
		}
		outcomes = append(outcomes, out)
	}

	status := "ok"
	if failed > 0 {
		status = "partial"
		if failed == len(outcomes) {
			status = "failed"
		}
	}
	p.metrics.Cycle(status)
	p.log.WithFields(logrus.Fields{
		"checked":    len(outcomes),
		"failed":     failed,
		"liquidated": liquidated,
	}).Info("health poller cycle complete")
	return outcomes
}

func (p *HealthPoller) evaluate(ctx context.Context, borrower string) (out Outcome) {
	out.Borrower = borrower
	entry := p.log.WithField("borrower", borrower)
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
			p.metrics.BorrowerError("panic")
			entry.WithField("panic", fmt.Sprint(r)).Warn("health check panicked")
		}
	}()

	raw, err := p.readHealth(ctx, borrower)
	if err != nil {
		out.Err = err
		p.metrics.BorrowerError("read")
		entry.WithError(err).Warn("read health factor failed")
		return out
	}
	hf := ScaleHealthFactor(raw)
	out.HealthFactor = hf
	p.metrics.HealthFactor(borrower, hf.InexactFloat64())
	if !hf.LessThan(p.cfg.Threshold) {
		entry.WithField("health_factor", hf.String()).Debug("position healthy")
		return out
	}

	txHash, err := p.liquidate(ctx, borrower)
	if err != nil {
		out.Err = err
		p.metrics.BorrowerError("liquidate")
		entry.WithError(err).WithField("health_factor", hf.String()).Warn("submit liquidation failed")
		return out
	}
	out.Liquidated = true
	out.TxHash = txHash
	p.metrics.Liquidation()
	entry.WithFields(logrus.Fields{
		"health_factor": hf.String(),
		"threshold":     p.cfg.Threshold.String(),
		"tx_hash":       txHash,
	}).Info("liquidation submitted")
	return out
}

// callContext bounds one chain call by CallTimeout only. Stopping the poller
// lets a call already in flight finish; the loop checks ctx between borrowers.
func (p *HealthPoller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CallTimeout)
}

func (p *HealthPoller) readHealth(ctx context.Context, borrower string) (*big.Int, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()
	raw, err := p.chain.ReadHealthFactor(callCtx, borrower)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("empty health factor")
	}
	return raw, nil
}

func (p *HealthPoller) liquidate(ctx context.Context, borrower string) (string, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()
	return p.chain.SubmitLiquidation(callCtx, borrower)
}
