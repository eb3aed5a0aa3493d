// Command report-service accepts citizen reports over HTTP, publishes
// REPORT_CREATED and runs the escalation sweep.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/citizen-report/internal/config"
	"github.com/iliyamo/citizen-report/internal/database"
	"github.com/iliyamo/citizen-report/internal/handler"
	"github.com/iliyamo/citizen-report/internal/logging"
	"github.com/iliyamo/citizen-report/internal/middleware"
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/repository"
	"github.com/iliyamo/citizen-report/internal/router"
	"github.com/iliyamo/citizen-report/internal/service"
	"github.com/iliyamo/citizen-report/internal/utils"
	"github.com/iliyamo/citizen-report/internal/worker"
)

const serviceName = "report-service"

var errBrokerDown = errors.New("broker connection closed")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.RequireHTTP(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, serviceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	flush, err := logging.InitSentry(cfg.SentryDSN, cfg.Env, serviceName)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	hasher, err := utils.NewAnonHasher(cfg.Anon.Secret, cfg.Anon.SessionSecret)
	if err != nil {
		logger.Fatal("anonymous reporter hasher", zap.Error(err))
	}

	db, err := database.Open(cfg.DB)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer db.Close()
	if cfg.DB.MigrateOnStart {
		if err := database.Migrate(db, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := queue.DialAMQP(ctx, cfg.AMQP.URL, cfg.AMQP.DialAttempts, logger.Named("amqp"))
	if err != nil {
		logger.Fatal("broker", zap.Error(err))
	}
	defer broker.Close()
	if err := broker.DeclareTopology(ctx, queue.DefaultTopology()); err != nil {
		logger.Fatal("declare topology", zap.Error(err))
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting, department cache and escalation lock disabled",
			zap.String("addr", cfg.Redis.Addr))
	} else {
		defer rdb.Close()
	}

	reports := repository.NewReportRepo(db)
	departments := repository.NewDepartmentRepo(db)
	publisher := queue.NewPublisher(broker, logger)
	status := service.NewStatusService(reports, publisher, logger)
	reportSvc := service.NewReportService(reports, status, publisher, hasher, logger)

	e := router.NewEcho()
	router.RegisterHealth(e, map[string]handler.Check{
		"db": func(ctx context.Context) error { return database.Ping(ctx, db) },
		"broker": func(context.Context) error {
			if !broker.Healthy() {
				return errBrokerDown
			}
			return nil
		},
	})
	router.RegisterReports(e,
		handler.NewReportHandler(reportSvc, departments, logger),
		cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, rdb),
		middleware.NewRedisCache(cfg.Cache, rdb),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Serve(gctx, e, ":"+cfg.Port, logger) })
	if cfg.Escalation.Enabled {
		var locker worker.Locker
		if rdb != nil {
			locker = worker.NewRedisLocker(rdb)
		}
		esc := worker.NewEscalator(reports, status, locker, cfg.Escalation.Hours, cfg.Escalation.Interval, logger)
		g.Go(func() error { return esc.Run(gctx) })
	}

	logger.Info("report-service started", zap.String("env", cfg.Env), zap.String("port", cfg.Port))
	if err := g.Wait(); err != nil {
		logging.ReportError(err, map[string]string{"service": serviceName})
		flush()
		logger.Fatal("report-service stopped", zap.Error(err))
	}
	logger.Info("report-service stopped")
}
