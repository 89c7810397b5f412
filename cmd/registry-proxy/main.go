package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"registry-proxy-go/internal/client"
	"registry-proxy-go/internal/config"
	"registry-proxy-go/internal/handler"
	"registry-proxy-go/internal/metrics"
	"registry-proxy-go/internal/middleware"
	"registry-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// adminEcho is the Echo instance behind the admin listener. It is a distinct
// type so fx can tell it apart from the public one.
type adminEcho struct {
	*echo.Echo
}

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("registry-proxy"),
		kong.Description("Container registry proxy that answers bearer-token challenges for anonymous pulls."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newAdminEcho,
			client.NewUpstreamClient,
			service.NewRelayService,
			handler.NewRouter,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerAdminRoutes,
			warnConfigPermissions,
			startServer,
			startAdminServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h).With("service", "registry-proxy")
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Blob pulls stream for as long as the layer takes, so there is no write
	// deadline. The upstream response-header timeout bounds stalled upstreams.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Registry.AllowWrites {
		logger.Warn("write methods enabled; pushes are relayed upstream")
	}

	return e
}

func newAdminEcho() *adminEcho {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	return &adminEcho{Echo: e}
}

func registerAdminRoutes(a *adminEcho, health *handler.HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	handler.RegisterAdminRoutes(a.Echo, health, cfg, m)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	appendListener(lc, e, "server", cfg.Server.Addr(), logger)
}

func startAdminServer(lc fx.Lifecycle, a *adminEcho, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		logger.Info("admin listener disabled")
		return
	}
	appendListener(lc, a.Echo, "admin server", cfg.Admin.Addr(), logger)
}

// appendListener binds addr on start and serves e until fx stops the app.
func appendListener(lc fx.Lifecycle, e *echo.Echo, name, addr string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting "+name, "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error(name+" error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down " + name)
			return e.Shutdown(ctx)
		},
	})
}
