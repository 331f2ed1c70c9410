package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/payment-risk-engine/internal/config"
	"github.com/segyhp/payment-risk-engine/internal/engine"
	"github.com/segyhp/payment-risk-engine/internal/handler"
	"github.com/segyhp/payment-risk-engine/internal/observability"
	"github.com/segyhp/payment-risk-engine/internal/repository"
	"github.com/segyhp/payment-risk-engine/internal/service"
	"github.com/segyhp/payment-risk-engine/pkg/response"
)

func main() {
	// A missing .env is fine outside development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger := observability.NewLogger(cfg.Logging.Level)
	defer logger.Sync()

	db, err := initDB(cfg)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	metrics := observability.NewMetrics()

	eng := engine.New(cfg.EngineSettings(),
		engine.WithLogger(logger.Named("engine")),
		engine.WithMetrics(metrics),
	)

	repos := service.Repositories{
		Mandates:        repository.NewMandateRepository(db),
		Collections:     repository.NewCollectionRepository(db),
		Income:          repository.NewIncomeRepository(db),
		Balances:        repository.NewBalanceRepository(db),
		Recommendations: repository.NewRecommendationRepository(db),
	}
	cache := repository.NewResultCache(redisClient, repository.NewCacheBreaker("redis"), cfg.Cache.TTL)

	evaluationService := service.NewEvaluationService(repos, eng, cfg,
		service.WithCache(cache),
		service.WithLogger(logger.Named("service")),
		service.WithMetrics(metrics),
	)

	riskHandler := handler.NewRiskHandler(evaluationService)
	healthHandler := handler.NewHealthHandler(db, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}, cfg.Health.Timeout)
	metricsHandler := handler.NewMetricsHandler(metrics, metrics.Registry)

	router := setupRoutes(logger, metrics, riskHandler, healthHandler, metricsHandler)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Server.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

func setupRoutes(
	logger *zap.Logger,
	metrics *observability.Metrics,
	riskHandler *handler.RiskHandler,
	healthHandler *handler.HealthHandler,
	metricsHandler *handler.MetricsHandler,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(
		middleware.RequestID,
		observability.TracingMiddleware,
		observability.RequestLogger(logger.Named("http"), metrics, routeTemplate),
		response.CORSMiddleware,
	)

	router.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/ready", healthHandler.Ready).Methods(http.MethodGet)
	router.Handle("/metrics", metricsHandler.Prometheus()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/metrics/engine", metricsHandler.Engine).Methods(http.MethodGet)
	riskHandler.RegisterRoutes(api)

	return router
}
