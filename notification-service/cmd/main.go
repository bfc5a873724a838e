package main

import (
	"net/http"
	"os"

	"github.com/eaglebank/transfer-saga/notification-service/internal/command"
	"github.com/eaglebank/transfer-saga/notification-service/internal/config"
	"github.com/eaglebank/transfer-saga/notification-service/internal/handler"
	"github.com/eaglebank/transfer-saga/shared/events"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	sharedredis "github.com/eaglebank/transfer-saga/shared/redis"
	"github.com/gin-gonic/gin"
)

const serviceName = "notification-service"

func main() {
	cfg := config.Load()
	logger.SetService(serviceName)

	redis, err := sharedredis.NewClient(cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", err, nil)
		os.Exit(1)
	}
	defer redis.Close()

	bus, err := events.NewBus(cfg.Broker, redis.Client)
	if err != nil {
		logger.Error("failed to start event bus", err, nil)
		os.Exit(1)
	}
	defer bus.Close()

	var sender command.Sender = command.LogSender{}
	if cfg.WebhookURL != "" {
		sender = command.NewWebhookSender(cfg.WebhookURL, cfg.Timeout)
	}
	notificationHandler := handler.NewNotificationHandler(command.NewNotificationService(sender, bus.Publisher))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(), metrics.Middleware(serviceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())
	router.POST("/internal/notification", notificationHandler.Notify)

	logger.Info("notification service starting", logger.Fields{"port": cfg.Port, "webhook": cfg.WebhookURL != ""})
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("failed to start server", err, nil)
		os.Exit(1)
	}
}
