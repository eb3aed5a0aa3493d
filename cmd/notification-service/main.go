// Command notification-service turns REPORT_STATUS_CHANGED events into
// stored notifications and serves them to their recipients over HTTP.
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
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/repository"
	"github.com/iliyamo/citizen-report/internal/router"
	"github.com/iliyamo/citizen-report/internal/service"
	"github.com/iliyamo/citizen-report/internal/utils"
	"github.com/iliyamo/citizen-report/internal/worker"
)

const serviceName = "notification-service"

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

	notifications := repository.NewNotificationRepo(db)
	consumer := &queue.Consumer{
		Broker:          broker,
		Queue:           queue.NotificationQueue,
		Prefetch:        cfg.Notification.Prefetch,
		MaxAttempts:     cfg.AMQP.MaxDeliveryAttempts,
		DeadLetterQueue: queue.DeadLetterQueue,
		Handler:         worker.NewNotificationHandler(repository.NewReportRepo(db), notifications, logger),
		Logger:          logger.Named("consumer"),
		OnDeadLetter:    worker.ReportDeadLetter(serviceName),
	}

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
	router.RegisterNotifications(e,
		handler.NewNotificationHandler(service.NewNotificationService(notifications, hasher), logger),
		cfg.JWTSecret,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Serve(gctx, e, ":"+cfg.Port, logger) })
	g.Go(func() error { return consumer.Run(gctx) })

	logger.Info("notification-service started", zap.String("port", cfg.Port))
	if err := g.Wait(); err != nil {
		logging.ReportError(err, map[string]string{"service": serviceName})
		flush()
		logger.Fatal("notification-service stopped", zap.Error(err))
	}
	logger.Info("notification-service stopped")
}
