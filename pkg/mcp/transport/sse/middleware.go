package sse

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coldironlabs/mcprt/internal/logging"
)

// rateLimitMiddleware rejects requests once the shared token bucket is
// exhausted, short-circuiting with 429 rather than forwarding to next —
// the "may short-circuit by returning a response" half of the middleware
// chain contract in spec §4.10.
func rateLimitMiddleware(limiter *rate.Limiter, m *metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiter.Allow() {
				m.rateLimitedTotal.Inc()
				return c.NoContent(http.StatusTooManyRequests)
			}
			return next(c)
		}
	}
}

// requestLogMiddleware logs one structured line per request, following
// the teacher's inline logging-middleware idiom (method, URI, status,
// duration, request id).
func requestLogMiddleware(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info(c.Request().Context(), "sse transport request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}
