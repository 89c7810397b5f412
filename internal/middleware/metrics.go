package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"registry-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records request counts,
// latency and bytes written for each inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// Relayed responses are committed by the handler. Errors returned
			// from middleware such as BodyLimit are not, so their status comes
			// from the error itself.
			res := c.Response()
			statusCode := res.Status
			if err != nil && !res.Committed {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				} else {
					statusCode = http.StatusInternalServerError
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			m.ResponseBytes.WithLabelValues(path).Add(float64(res.Size))

			return err
		}
	}
}
