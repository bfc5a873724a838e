package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/eaglebank/transfer-saga/shared/logger"
	"github.com/eaglebank/transfer-saga/shared/middleware"
	"github.com/gin-gonic/gin"
)

// hop-by-hop headers are not forwarded
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Content-Length":    {},
}

// To forwards the request path and query unchanged to serviceURL. The
// authenticated client id travels downstream as X-Client-ID.
func To(serviceURL string, timeout time.Duration) gin.HandlerFunc {
	client := &http.Client{Timeout: timeout}

	return func(c *gin.Context) {
		targetURL := serviceURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			bodyBytes, _ = io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		}

		// the downstream saga must not be abandoned when the caller disconnects
		ctx := context.WithoutCancel(c.Request.Context())
		req, err := http.NewRequestWithContext(ctx, c.Request.Method, targetURL, bytes.NewReader(bodyBytes))
		if err != nil {
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to create request")
			return
		}

		for key, values := range c.Request.Header {
			if _, hop := hopHeaders[key]; hop {
				continue
			}
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		req.Header.Del("X-Client-ID")
		if clientID, ok := middleware.GetClientID(c); ok {
			req.Header.Set("X-Client-ID", clientID)
		}

		resp, err := client.Do(req)
		if err != nil {
			logger.Error("error proxying request", err, logger.Fields{"path": c.Request.URL.Path})
			middleware.RespondWithError(c, http.StatusBadGateway, "Service unavailable")
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			middleware.RespondWithError(c, http.StatusBadGateway, "Failed to read response")
			return
		}

		for key, values := range resp.Header {
			if _, hop := hopHeaders[key]; hop {
				continue
			}
			for _, value := range values {
				c.Header(key, value)
			}
		}
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
}

// Register mounts the public saga routes behind auth. /internal/* is never
// routed.
func Register(router gin.IRouter, accountServiceURL string, secret []byte, timeout time.Duration) {
	auth := middleware.AuthMiddleware(secret)
	toAccounts := To(accountServiceURL, timeout)

	router.POST("/transfer/orchestration", auth, toAccounts)
	router.POST("/transfer/choreography", auth, toAccounts)
	router.GET("/sagas", auth, toAccounts)
	router.GET("/sagas/:sagaId", auth, toAccounts)
	router.POST("/sagas/:sagaId/reconcile", auth, toAccounts)
	router.GET("/accounts/:accountNumber", auth, toAccounts)
}
