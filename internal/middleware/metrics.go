package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"cors-relay/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. Paths are not used as labels since every path is
// relayed verbatim and would be unbounded.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// A returned *echo.HTTPError has not been written yet; Echo's
			// central error handler will do that, so take the code from it.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)

			m.RequestsTotal.WithLabelValues(method, status).Inc()
			m.RequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
