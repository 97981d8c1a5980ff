package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bnpl-engine/internal/adapter/chain"
	"bnpl-engine/internal/adapter/gateway"
	httpadp "bnpl-engine/internal/adapter/http"
	"bnpl-engine/internal/adapter/idempotency"
	"bnpl-engine/internal/adapter/oracle"
	"bnpl-engine/internal/adapter/plans"
	repo "bnpl-engine/internal/adapter/repository/mysql"
	riskAdapter "bnpl-engine/internal/adapter/risk"
	"bnpl-engine/internal/config"
	"bnpl-engine/internal/domain/collateral"
	idemDomain "bnpl-engine/internal/domain/idempotency"
	"bnpl-engine/internal/domain/payment"
	"bnpl-engine/internal/domain/risk"
	"bnpl-engine/internal/infrastructure/cache"
	"bnpl-engine/internal/infrastructure/db"
	"bnpl-engine/internal/infrastructure/logging"
	"bnpl-engine/internal/observability"
	"bnpl-engine/internal/poller"
	loanuc "bnpl-engine/internal/usecase/loan"
	"bnpl-engine/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, "bnpl-engine")
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("bnpl-engine stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := openDB(cfg, log)
	if err != nil {
		return err
	}
	if err := repo.Migrate(gdb); err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	checks := map[string]httpadp.Check{"db": sqlDB.PingContext}

	var idem idemDomain.Store
	if cfg.RedisAddr != "" {
		rdb, err := cache.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB, 5*time.Second)
		if err != nil {
			return err
		}
		defer rdb.Close()
		idem = idempotency.NewRedisStore(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Warn("REDIS_ADDR not set; idempotency keys are kept in process memory")
		idem = idempotency.NewMemoryStore()
	}

	catalog := plans.NewCatalog()
	if cfg.PlanCatalogPath != "" {
		if err := catalog.LoadFile(cfg.PlanCatalogPath); err != nil {
			return err
		}
	}

	usecase := loanuc.NewUsecase(loanuc.Deps{
		UoW:            repo.NewGormUoW(gdb),
		Idempotency:    idem,
		Prices:         priceFeed(cfg, log),
		Gateway:        paymentGateway(cfg, log, metrics),
		Scorer:         riskScorer(cfg, log, metrics),
		Plans:          catalog,
		Log:            log,
		Metrics:        metrics,
		IdempotencyTTL: cfg.IdempotencyTTL(),
		MaxPriceAge:    time.Duration(cfg.OracleMaxAgeSecs) * time.Second,
	})

	sweeper := worker.NewOverdueSweeper(usecase, log, worker.WithSchedule(cfg.SweepSchedule))
	if cfg.SweepEnabled {
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
	}

	var hp *poller.HealthPoller
	if cfg.PollerEnabled {
		hp, err = newPoller(cfg, log, metrics)
		if err != nil {
			return err
		}
		hp.Start(ctx)
	}

	e := httpadp.NewRouter(httpadp.RouterConfig{
		Log:                log,
		Health:             httpadp.NewHandler(checks),
		Loans:              httpadp.NewLoanHandler(usecase),
		Metrics:            observability.Handler(reg),
		RequireIdempotency: true,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.AppPort
		log.WithField("addr", addr).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err = <-errCh:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("http shutdown")
	}
	if serr := sweeper.Stop(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("sweeper shutdown")
	}
	if hp != nil {
		if serr := hp.Stop(shutdownCtx); serr != nil {
			log.WithError(serr).Warn("poller shutdown")
		}
	}
	return err
}

func openDB(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	if cfg.DBDriver == "sqlite" {
		return db.OpenSQLite(cfg.SQLitePath, log)
	}
	return db.OpenGorm(cfg.MySQLDSN(), log)
}

func priceFeed(cfg *config.Config, log *logrus.Logger) collateral.PriceFeed {
	if cfg.OracleURL == "" {
		log.Warn("ORACLE_URL not set; collateral operations will fail until prices are configured")
		return oracle.NewStaticOracle(nil)
	}
	return oracle.NewHTTPOracle(cfg.OracleURL, cfg.HTTPTimeout(), log)
}

func paymentGateway(cfg *config.Config, log *logrus.Logger, m *observability.Metrics) payment.Gateway {
	if cfg.GatewayURL == "" {
		log.Warn("GATEWAY_URL not set; gateway calls are simulated")
		return gateway.SimulatedGateway{}
	}
	return gateway.NewFallbackGateway(gateway.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayKey, cfg.HTTPTimeout(), log), log, m)
}

func riskScorer(cfg *config.Config, log *logrus.Logger, m *observability.Metrics) risk.Scorer {
	if cfg.RiskURL == "" {
		return riskAdapter.RuleScorer{}
	}
	return riskAdapter.NewFallbackScorer(riskAdapter.NewHTTPScorer(cfg.RiskURL, cfg.HTTPTimeout()), log, m)
}

func newPoller(cfg *config.Config, log *logrus.Logger, m *observability.Metrics) (*poller.HealthPoller, error) {
	abiJSON, err := chain.LoadABI(cfg.PollerABIPath)
	if err != nil {
		return nil, err
	}
	backend, err := chain.Dial(cfg.PollerRPCURL)
	if err != nil {
		return nil, err
	}
	client, err := chain.NewEthClient(backend, chain.Options{
		Contract:   cfg.PollerContract,
		ABI:        abiJSON,
		PrivateKey: cfg.PollerPrivateKey,
		GasLimit:   cfg.PollerGasLimit,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("liquidator", client.Liquidator()).Info("chain client ready")
	return poller.New(client, poller.Config{
		Borrowers:   cfg.PollerBorrowers,
		Interval:    time.Duration(cfg.PollerIntervalSecs) * time.Second,
		Threshold:   cfg.PollerThreshold,
		CallTimeout: time.Duration(cfg.PollerCallTimeoutSecs) * time.Second,
	}, log, m), nil
}
