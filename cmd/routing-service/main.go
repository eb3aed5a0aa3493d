// Command routing-service consumes REPORT_CREATED from the department queues
// and moves each report to routed with its department assigned.
//
// DEPARTMENT selects one route (police, sanitation, health, infrastructure,
// general); CONSUME_ALL=true consumes every route from one process.
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
	"github.com/iliyamo/citizen-report/internal/worker"
)

const serviceName = "routing-service"

var errBrokerDown = errors.New("broker connection closed")

func main() {
	cfg, err := config.Load()
	if err != nil {
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

	routes := []string{cfg.Routing.Department}
	if cfg.Routing.ConsumeAll {
		routes = queue.Routes
	} else if !queue.ValidRoute(cfg.Routing.Department) {
		logger.Fatal("unknown department route", zap.String("department", cfg.Routing.Department), zap.Strings("valid", queue.Routes))
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

	reports := repository.NewReportRepo(db)
	status := service.NewStatusService(reports, queue.NewPublisher(broker, logger), logger)
	routing := worker.NewRoutingHandler(repository.NewDepartmentRepo(db), status, logger)

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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Serve(gctx, e, ":"+cfg.Port, logger) })
	for _, route := range routes {
		c := &queue.Consumer{
			Broker:          broker,
			Queue:           queue.DepartmentQueue(route),
			Prefetch:        cfg.Routing.Prefetch,
			MaxAttempts:     cfg.AMQP.MaxDeliveryAttempts,
			DeadLetterQueue: queue.DeadLetterQueue,
			Handler:         routing,
			Logger:          logger.Named("consumer").With(zap.String("route", route)),
			OnDeadLetter:    worker.ReportDeadLetter(serviceName),
		}
		g.Go(func() error { return c.Run(gctx) })
	}

	logger.Info("routing-service started", zap.Strings("routes", routes))
	if err := g.Wait(); err != nil {
		logging.ReportError(err, map[string]string{"service": serviceName})
		flush()
		logger.Fatal("routing-service stopped", zap.Error(err))
	}
	logger.Info("routing-service stopped")
}
