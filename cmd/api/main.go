package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/push-relay/internal/config"
	"github.com/kursadbilgin/push-relay/internal/directory"
	"github.com/kursadbilgin/push-relay/internal/gateway"
	"github.com/kursadbilgin/push-relay/internal/handler"
	"github.com/kursadbilgin/push-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/push-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/push-relay/internal/infra/redis"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"github.com/kursadbilgin/push-relay/internal/service"
	"github.com/kursadbilgin/push-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisBudgetLimiter(rdb, cfg.MaxPerSecond)
	if err != nil {
		logger.Fatal("budget limiter initialization failed", zap.Error(err))
	}

	expoClient, err := gateway.NewExpoClient(cfg.ExpoPushURL)
	if err != nil {
		logger.Fatal("push gateway client initialization failed", zap.Error(err))
	}

	userDirectory, err := directory.NewHTTPDirectory(cfg.UserDirectoryURL)
	if err != nil {
		logger.Fatal("user directory client initialization failed", zap.Error(err))
	}

	receiptRepo := repository.NewGormReceiptRepo(db)
	metrics := observability.NewMetrics()
	buffer := queue.NewBuffer()

	dispatcher, err := service.NewDispatcher(
		buffer,
		expoClient,
		receiptRepo,
		limiter,
		cfg.MaxPerSecond,
		cfg.MaxTaskRetries,
		cfg.ReceiptInitialDelay,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	reconciler, err := service.NewReconciler(
		receiptRepo,
		expoClient,
		userDirectory,
		cfg.ReconcileInterval,
		cfg.MaxReceiptRetries,
		cfg.ReceiptRetention,
		logger,
	)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}
	reconciler.SetMetrics(metrics)

	tokenService, err := service.NewTokenService(userDirectory, logger)
	if err != nil {
		logger.Fatal("token service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, buffer)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterNotificationRoutes(app, dispatcher, tokenService, receiptRepo); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return dispatcher.Start(groupCtx)
	})
	group.Go(func() error {
		return reconciler.Start(groupCtx)
	})
	group.Go(func() error {
		logger.Info("push-relay api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		logger.Error("push-relay api stopped", zap.Error(err))
		return
	}
	logger.Info("push-relay api stopped")
}
