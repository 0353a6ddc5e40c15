package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"cors-relay/internal/client"
	"cors-relay/internal/metrics"
	"cors-relay/internal/model"
	"cors-relay/internal/service"
)

// RelayHandler forwards every inbound request to the host named in its query.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayHandler creates a RelayHandler.
// The metrics parameter is optional; pass nil to disable failure counting.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger, m *metrics.Metrics) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
		metrics: m,
	}
}

// Handle relays the request and writes back the buffered upstream response.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	rr := &model.RelayRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Host:          req.Host,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(rr)
	if err != nil {
		return h.mapError(c, err)
	}

	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status line is already out, so a failed write can only be logged.
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing relayed body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrMissingHost) {
		h.countFailure("missing_host")
		return c.NoContent(http.StatusBadRequest)
	}

	h.logger.Error("relay error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	// Relay-side failures stay readable by browser callers.
	service.SetCORSHeaders(c.Response().Header())

	status, reason, msg := classify(err)
	h.countFailure(reason)
	return c.JSON(status, map[string]string{"error": msg})
}

// classify maps a relay error to a status code, a metrics reason and a client message.
func classify(err error) (status int, reason, msg string) {
	if errors.Is(err, service.ErrBuildRequest) {
		return http.StatusBadGateway, "invalid_request", "invalid upstream request"
	}

	if errors.Is(err, client.ErrTooManyRedirects) {
		return http.StatusBadGateway, "redirect_limit", "upstream redirect limit exceeded"
	}

	if errors.Is(err, client.ErrReadBody) {
		return http.StatusBadGateway, "truncated_body", "upstream response truncated"
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return http.StatusGatewayTimeout, "timeout", "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "canceled", "client disconnected"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "dns", "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return http.StatusBadGateway, "connection", "upstream connection failed"
	}

	return http.StatusBadGateway, "other", "upstream request failed"
}

func (h *RelayHandler) countFailure(reason string) {
	if h.metrics != nil {
		h.metrics.RelayFailures.WithLabelValues(reason).Inc()
	}
}
