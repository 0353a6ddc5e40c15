// Package client provides the shared outbound HTTP client used to reach relay targets.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"cors-relay/internal/config"
	"cors-relay/internal/metrics"
	"cors-relay/internal/model"
)

var (
	// ErrTooManyRedirects is returned when the upstream redirects more often than allowed.
	ErrTooManyRedirects = errors.New("upstream redirect limit exceeded")
	// ErrReadBody is returned when the upstream response body cannot be read in full.
	ErrReadBody = errors.New("read upstream response body")
)

// UpstreamClient sends relayed requests to target hosts. One instance is
// created at startup and shared by all requests.
type UpstreamClient struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling, the
// configured redirect limit and an optional overall timeout.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		// Relayed bodies must be byte-identical to what the upstream sent.
		DisableCompression: true,
	}

	return NewUpstreamClientWithTransport(cfg, logger, m, transport)
}

// NewUpstreamClientWithTransport is like NewUpstreamClient but sends requests
// through rt instead of a freshly built transport.
func NewUpstreamClientWithTransport(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, rt http.RoundTripper) *UpstreamClient {
	userAgent := cfg.Upstream.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport:     rt,
			CheckRedirect: limitRedirects(cfg.Upstream.MaxRedirects),
			Timeout:       time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		userAgent: userAgent,
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
	}
}

// limitRedirects allows up to limit redirects and fails on the next one.
func limitRedirects(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		// via holds every request already sent, so it grows by one per redirect.
		if len(via) > limit {
			return fmt.Errorf("%w: stopped after %d redirects", ErrTooManyRedirects, limit)
		}
		return nil
	}
}

// Do executes req, following redirects, and buffers the full response body.
// A User-Agent is added only when req carries none.
func (c *UpstreamClient) Do(req *http.Request) (*model.RelayResponse, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if len(req.Header.Values("User-Agent")) == 0 {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, start)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	c.observe(method, start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadBody, err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, metrics.StatusClass(resp.StatusCode)).Inc()
	}

	return &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *UpstreamClient) observe(method string, start time.Time) {
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}
