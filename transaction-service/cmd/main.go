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

	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	sharedredis "github.com/eaglebank/transfer-saga/shared/redis"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/client"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/command"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/config"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/handler"
	"github.com/eaglebank/transfer-saga/transaction-service/internal/repository"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
)

const serviceName = "transaction-service"

func main() {
	cfg := config.Load()
	logger.SetService(serviceName)

	// Database connection (deposit ledger + saga steps)
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fatal("failed to open database", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fatal("failed to ping database", err)
	}

	// Redis connection (deposit view cache + event streaming)
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

	deposits := command.NewDepositService(
		repository.NewDepositRepository(db, redis.Client),
		bus.Publisher,
		client.NewNotificationClient(cfg.NotificationServiceURL, cfg.NotificationTimeout),
		cfg.NotificationTimeout,
	)
	depositHandler := handler.NewDepositHandler(deposits)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(), metrics.Middleware(serviceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	internal := router.Group("/internal")
	{
		internal.POST("/deposit", depositHandler.ProcessDeposit)
		internal.GET("/deposits/:sagaId", depositHandler.GetDeposit)
		internal.POST("/deposits/:sagaId/fence", depositHandler.Fence)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		subscriber := bus.Subscriber(events.SubscriberConfig{
			Group:    "transaction-service-group",
			Consumer: cfg.ConsumerName,
			Topics:   deposits.Topics(),
			Handler:  deposits.HandleEvent,
		})
		if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("subscriber stopped", err, nil)
		}
	}()

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

	logger.Info("transaction service starting", logger.Fields{"port": cfg.Port, "broker": cfg.Broker.Kind})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("failed to start server", err)
	}
}

func fatal(msg string, err error) {
	logger.Error(msg, err, nil)
	os.Exit(1)
}
