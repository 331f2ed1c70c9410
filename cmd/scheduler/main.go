package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/segyhp/payment-risk-engine/internal/config"
	"github.com/segyhp/payment-risk-engine/internal/engine"
	"github.com/segyhp/payment-risk-engine/internal/observability"
	"github.com/segyhp/payment-risk-engine/internal/repository"
	"github.com/segyhp/payment-risk-engine/internal/service"
)

// portfolioRunTimeout bounds one nightly run; a cancelled run still logs its partial result.
const portfolioRunTimeout = 30 * time.Minute

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger := observability.NewLogger(cfg.Logging.Level).Named("scheduler")
	defer logger.Sync()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	metrics := observability.NewMetrics()
	eng := engine.New(cfg.EngineSettings(), engine.WithLogger(logger), engine.WithMetrics(metrics))
	evaluationService := service.NewEvaluationService(service.Repositories{
		Mandates:        repository.NewMandateRepository(db),
		Collections:     repository.NewCollectionRepository(db),
		Income:          repository.NewIncomeRepository(db),
		Balances:        repository.NewBalanceRepository(db),
		Recommendations: repository.NewRecommendationRepository(db),
	}, eng, cfg,
		service.WithCache(repository.NewResultCache(redisClient, repository.NewCacheBreaker("redis"), cfg.Cache.TTL)),
		service.WithLogger(logger),
		service.WithMetrics(metrics),
	)

	cl := cronLogger{sugar: logger.Sugar()}
	c := cron.New(
		cron.WithParser(config.CronParser()),
		cron.WithLocation(cfg.Scheduler.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(cfg.Scheduler.Spec, func() {
		evaluatePortfolio(evaluationService, logger)
	}); err != nil {
		logger.Fatal("failed to schedule portfolio evaluation", zap.String("spec", cfg.Scheduler.Spec), zap.Error(err))
	}

	c.Start()
	logger.Info("scheduler started",
		zap.String("spec", cfg.Scheduler.Spec),
		zap.String("timezone", cfg.Scheduler.Location().String()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}

// evaluatePortfolio refreshes every payer's stored recommendations and logs
// the portfolio summary.
func evaluatePortfolio(svc *service.EvaluationService, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), portfolioRunTimeout)
	defer cancel()

	start := time.Now()
	res, err := svc.EvaluatePortfolio(ctx, time.Time{})
	if err != nil {
		logger.Error("portfolio evaluation failed", zap.Error(err))
		return
	}

	s := res.Summary
	logger.Info("portfolio evaluation finished",
		zap.Time("as_of", res.AsOf),
		zap.Duration("took", time.Since(start)),
		zap.Bool("partial", res.Partial),
		zap.Int("evaluated", s.Evaluated),
		zap.Int("rejected", s.Rejected),
		zap.Int("churn_risk", s.ChurnRiskCount),
		zap.Int("recommendations", len(res.Recommendations)),
		zap.String("monthly_volume", s.MonthlyVolume.StringFixed(2)),
		zap.String("at_risk_volume", s.AtRiskVolume.StringFixed(2)),
		zap.String("recoverable_revenue", s.RecoverableRevenue.StringFixed(2)),
	)
}
