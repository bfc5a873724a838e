package main

import (
	"net/http"
	"os"
	"time"

	"github.com/eaglebank/transfer-saga/api-gateway/internal/proxy"
	"github.com/eaglebank/transfer-saga/shared/config"
	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/metrics"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	"github.com/gin-gonic/gin"
)

const serviceName = "api-gateway"

func main() {
	logger.SetService(serviceName)

	accountServiceURL := config.GetURL("ACCOUNT_SERVICE_URL", "http://localhost:8083")
	secret := config.GetEnv("JWT_SECRET", "")
	if secret == "" {
		logger.Error("JWT_SECRET is required", nil, nil)
		os.Exit(1)
	}
	// orchestration waits for the deposit call, so allow more than DEPOSIT_TIMEOUT
	timeout := config.GetDuration("UPSTREAM_TIMEOUT", 30*time.Second)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(), metrics.Middleware(serviceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	router.GET("/metrics", metrics.Handler())

	proxy.Register(router, accountServiceURL, []byte(secret), timeout)

	port := config.GetEnv("PORT", "8080")
	logger.Info("api gateway starting", logger.Fields{"port": port})
	if err := router.Run(":" + port); err != nil {
		logger.Error("failed to start server", err, nil)
		os.Exit(1)
	}
}
