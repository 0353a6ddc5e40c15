// Package middleware provides Echo middleware for request logging and metrics.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// The target host is logged alongside the path so relayed calls can be told apart.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			logger.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"target_host", targetHost(c),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// targetHost returns the last host query value, matching how the relay picks its target.
func targetHost(c echo.Context) string {
	vals := c.QueryParams()["host"]
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}
