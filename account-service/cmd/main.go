package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eaglebank/transfer-saga/account-service/internal/client"
	"github.com/eaglebank/transfer-saga/account-service/internal/command"
	"github.com/eaglebank/transfer-saga/account-service/internal/config"
	"github.com/eaglebank/transfer-saga/account-service/internal/handler"
	"github.com/eaglebank/transfer-saga/account-service/internal/query"
	"github.com/eaglebank/transfer-saga/account-service/internal/repository"
	"github.com/eaglebank/transfer-saga/account-service/internal/worker"
	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	sharedredis "github.com/eaglebank/transfer-saga/shared/redis"
	"github.com/eaglebank/transfer-saga/shared/saga"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
)

const serviceName = "account-service"

func main() {
	cfg := config.Load()
	logger.SetService(serviceName)

	// Database connection (ledger, saga records, outbox)
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		fatal("failed to ping database", err)
	}

	// Redis connection (saga view cache + event streaming)
	redis, err := sharedredis.NewClient(cfg.Redis)
	if err != nil {
		fatal("failed to connect to redis", err)
	}
	defer redis.Close()

	bus, err := events.NewBus(cfg.Broker, redis.Client)
	if err != nil {
		fatal("failed to start event bus", err)
	}
	defer bus.Close()

	// --- saga wiring ---
	ledger := repository.NewAccountWriteRepository(db)
	sagas := repository.NewSagaRepository(db, redis.Client)
	outbox := repository.NewOutboxRepository(db)
	deposits := client.NewDepositClient(cfg.TransactionServiceURL)

	coordinator := saga.NewCoordinator(sagas, ledger)
	orchestration := command.NewOrchestrationService(ledger, deposits, coordinator, cfg.DepositTimeout)
	choreography := command.NewChoreographyService(ledger, bus.Publisher)
	sagaEvents := command.NewSagaEventHandler(coordinator)

	reconciler := worker.NewReconciler(sagas, deposits, coordinator, worker.ReconcilerConfig{
		Interval:     cfg.ReconcileInterval,
		After:        cfg.ReconcileAfter,
		FenceTimeout: cfg.DepositTimeout,
	})
	relay := worker.NewOutboxRelay(outbox, bus.Publisher, cfg.OutboxInterval, cfg.OutboxBatchSize)

	transferHandler := handler.NewTransferHandler(orchestration, choreography)
	sagaHandler := handler.NewSagaHandler(query.NewSagaQueryService(sagas, ledger), reconciler)

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(), metrics.Middleware(serviceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	router.POST("/transfer/orchestration", transferHandler.Orchestration)
	router.POST("/transfer/choreography", transferHandler.Choreography)

	router.GET("/sagas", sagaHandler.ListSagas)
	router.GET("/sagas/:sagaId", sagaHandler.GetSaga)
	router.POST("/sagas/:sagaId/reconcile", sagaHandler.Reconcile)
	router.GET("/accounts/:accountNumber", sagaHandler.GetAccount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		subscriber := bus.Subscriber(events.SubscriberConfig{
			Group:    "account-service-group",
			Consumer: cfg.ConsumerName,
			Topics:   sagaEvents.Topics(),
			Handler:  sagaEvents.HandleEvent,
		})
		if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("subscriber stopped", err, nil)
		}
	}()
	go relay.Run(ctx)
	go reconciler.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down", nil)
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", err, nil)
		}
	}()

	logger.Info("account service starting", logger.Fields{"port": cfg.Port, "broker": cfg.Broker.Kind})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("failed to start server", err)
	}
}

func fatal(msg string, err error) {
	logger.Error(msg, err, nil)
	os.Exit(1)
}
