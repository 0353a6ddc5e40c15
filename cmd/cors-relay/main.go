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
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"cors-relay/internal/client"
	"cors-relay/internal/config"
	"cors-relay/internal/handler"
	"cors-relay/internal/metrics"
	"cors-relay/internal/middleware"
	"cors-relay/internal/service"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// adminServer is the optional listener for health, status and metrics.
type adminServer struct {
	echo *echo.Echo
}

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("cors-relay"),
		kong.Description("HTTP relay that forwards requests to ?host= over HTTPS and adds permissive CORS headers."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(appOptions(&cli)).Run()
}

// appOptions wires the relay, its admin listener and their dependencies.
func appOptions(cli *config.CLI) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newAdminServer,
			client.NewUpstreamClient,
			service.NewRelayService,
			handler.NewRelayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerAdminRoutes,
			warnConfigPermissions,
			startServer,
			startAdminServer,
		),
	)
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

	return slog.New(h)
}

// applyServerTimeouts sets inbound timeouts to mitigate slow clients.
// WriteTimeout stays 0 so slow upstreams are bounded only by upstream.timeout_seconds.
func applyServerTimeouts(e *echo.Echo) {
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	applyServerTimeouts(e)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	return e
}

func newAdminServer() *adminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	applyServerTimeouts(e)
	e.Use(echomw.Recover())
	return &adminServer{echo: e}
}

func registerAdminRoutes(a *adminServer, health *handler.HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	handler.RegisterAdminRoutes(a.echo, health, m, cfg)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	if cfg.FilePath() == "" {
		logger.Info("no config file found; using defaults")
	}
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	serve(lc, e, cfg.Server.Addr(), logger.With("listener", "relay"))
}

func startAdminServer(lc fx.Lifecycle, a *adminServer, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	serve(lc, a.echo, cfg.Admin.Addr(), logger.With("listener", "admin"))
}

func serve(lc fx.Lifecycle, e *echo.Echo, addr string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", "http://"+addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
