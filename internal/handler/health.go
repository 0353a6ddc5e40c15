package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-relay/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints on the admin listener.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of the relay status endpoint.
type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ListenAddr     string `json:"listen_addr"`
	MaxRedirects   int    `json:"max_redirects"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        string(h.version),
		ListenAddr:     h.cfg.Server.Addr(),
		MaxRedirects:   h.cfg.Upstream.MaxRedirects,
		TimeoutSeconds: h.cfg.Upstream.TimeoutSeconds,
	})
}
