package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"sms-relay/internal/config"
	"sms-relay/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// statusResponse describes the running relay on the admin listener.
type statusResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UpstreamURL     string `json:"upstream_url"`
	UpstreamTimeout int    `json:"upstream_timeout_seconds"`
	BodyMaxBytes    int64  `json:"body_max_bytes"`
	MetricsEnabled  bool   `json:"metrics_enabled"`
	ConfigFile      string `json:"config_file,omitempty"`
}

// HealthHandler serves the admin health and status endpoints.
type HealthHandler struct {
	status statusResponse
}

// NewHealthHandler snapshots what the relay was started with. The reported
// upstream is the one the relay service actually posts to.
func NewHealthHandler(cfg *config.Config, svc *service.RelayService, v Version) *HealthHandler {
	return &HealthHandler{status: statusResponse{
		Status:          "ok",
		Version:         string(v),
		UpstreamURL:     svc.UpstreamURL(),
		UpstreamTimeout: cfg.Upstream.TimeoutSeconds,
		BodyMaxBytes:    cfg.Server.BodyMaxBytes,
		MetricsEnabled:  cfg.Metrics.Enabled,
		ConfigFile:      cfg.FilePath(),
	}}
}

// Healthz is the liveness probe.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports version and relay settings.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status)
}
