package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"registry-proxy-go/internal/config"
	"registry-proxy-go/internal/metrics"
)

// RegisterRoutes wires the public surface. Classification happens in the
// Router itself, so every path and method lands on Handle.
func RegisterRoutes(e *echo.Echo, router *Router) {
	e.Any("/", router.Handle)
	e.Any("/*", router.Handle)
}

// RegisterAdminRoutes wires health, status and metrics onto the admin listener.
func RegisterAdminRoutes(e *echo.Echo, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
