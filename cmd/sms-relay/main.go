package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"sms-relay/internal/client"
	"sms-relay/internal/config"
	"sms-relay/internal/handler"
	"sms-relay/internal/metrics"
	"sms-relay/internal/middleware"
	"sms-relay/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("sms-relay"),
		kong.Description("Relay that forwards POST bodies to the NAC SMS Submit API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			newAdminEcho,
			client.NewSMSClient,
			service.NewRelayService,
			handler.NewRelayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerAdminRoutes,
			registerMetricsRoute,
			warnConfigPermissions,
			startServers,
		),
	).Run()
}

// adminEcho is the health/metrics listener, kept apart from the relay port
// so that the relay answers every path and method the same way.
type adminEcho struct {
	*echo.Echo
}

func newLogger(cfg *config.Config) *slog.Logger {
	return buildLogger(cfg.Log, os.Stdout)
}

// newMetrics returns nil when metrics are disabled; consumers treat nil as off.
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

// newEcho builds the relay listener. Its middleware adds no response
// headers, so relayed responses carry only Content-Type and the CORS header.
func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. WriteTimeout stays
	// above the upstream timeout so a slow Submit can still be relayed.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds+10) * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.With("listener", "relay")))
	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}

	return e
}

func newAdminEcho(logger *slog.Logger) *adminEcho {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.With("listener", "admin")))
	e.Use(middleware.SecurityHeaders())

	return &adminEcho{Echo: e}
}

func registerAdminRoutes(admin *adminEcho, health *handler.HealthHandler) {
	handler.RegisterAdminRoutes(admin.Echo, health)
}

func registerMetricsRoute(admin *adminEcho, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if m == nil {
		return
	}
	admin.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	logger.Info("metrics enabled", "addr", cfg.Server.AdminAddr(), "path", cfg.Metrics.Path)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServers(lc fx.Lifecycle, e *echo.Echo, admin *adminEcho, cfg *config.Config, svc *service.RelayService, logger *slog.Logger) {
	serve(lc, e, cfg.Server.Addr(), logger.With("listener", "relay", "upstream", svc.UpstreamURL(), "config", cfg.FilePath()))
	serve(lc, admin.Echo, cfg.Server.AdminAddr(), logger.With("listener", "admin"))
}

// serve binds addr on start and shuts e down gracefully on stop.
func serve(lc fx.Lifecycle, e *echo.Echo, addr string, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
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

// buildLogger maps the log config onto a slog handler writing to w.
func buildLogger(lc config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(lc.Format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}
