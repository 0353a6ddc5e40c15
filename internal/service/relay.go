// Package service implements the core relay forwarding logic.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpguts"

	"cors-relay/internal/client"
	"cors-relay/internal/config"
	"cors-relay/internal/model"
)

var (
	// ErrMissingHost is returned when the request has no host query parameter.
	ErrMissingHost = errors.New("missing host query parameter")
	// ErrBuildRequest is returned when the outbound request cannot be constructed.
	ErrBuildRequest = errors.New("build upstream request")
)

// HostParam is the query parameter naming the target host.
const HostParam = "host"

// corsHeaders are set on every relayed response, replacing upstream values.
var corsHeaders = []struct{ key, value string }{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Headers", "*"},
	{"Access-Control-Allow-Methods", "*"},
	{"Access-Control-Max-Age", "1728000"},
}

// RelayService re-issues inbound requests against the host they name.
type RelayService struct {
	client *client.UpstreamClient
	cfg    *config.Config
	logger *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *RelayService {
	return &RelayService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "relay_service"),
	}
}

// Forward sends rr to https://<host><path>?<query> and returns the buffered
// upstream response with the CORS headers applied.
//
// The host comes from the host query parameter, which stays in the forwarded
// query. ErrMissingHost is returned when it is absent.
func (s *RelayService) Forward(rr *model.RelayRequest) (*model.RelayResponse, error) {
	host, ok := TargetHost(rr.RawQuery)
	if !ok {
		return nil, ErrMissingHost
	}

	target := TargetURL(host, rr.Path, rr.RawQuery)
	s.logger.Info("relaying request",
		"method", rr.Method,
		"target", target,
	)

	req, err := s.newUpstreamRequest(rr, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildRequest, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", host, err)
	}

	resp.Header = copyHeaders(resp.Header)
	SetCORSHeaders(resp.Header)
	return resp, nil
}

// TargetHost returns the last value of the host query parameter.
// Malformed pairs in rawQuery are skipped.
func TargetHost(rawQuery string) (string, bool) {
	// ParseQuery keeps every well-formed pair even when it reports an error.
	q, _ := url.ParseQuery(rawQuery)
	vals, ok := q[HostParam]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[len(vals)-1], true
}

// TargetURL joins the host with the original path and query. The scheme is
// always https.
func TargetURL(host, path, rawQuery string) string {
	if path == "" {
		path = "/"
	}
	target := "https://" + host + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// SetCORSHeaders sets the permissive CORS headers on h.
func SetCORSHeaders(h http.Header) {
	for _, ch := range corsHeaders {
		h.Set(ch.key, ch.value)
	}
}

func (s *RelayService) newUpstreamRequest(rr *model.RelayRequest, target string) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if s.forwardsBody(rr) {
		body = rr.Body
	}

	req, err := http.NewRequestWithContext(rr.Ctx, rr.Method, target, body)
	if err != nil {
		return nil, err
	}
	if body != http.NoBody {
		req.ContentLength = rr.ContentLength
	}

	// Headers pass through untouched; the clone keeps the inbound map intact.
	req.Header = rr.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if !s.cfg.Upstream.RewriteHost && rr.Host != "" {
		req.Host = rr.Host
	}
	return req, nil
}

func (s *RelayService) forwardsBody(rr *model.RelayRequest) bool {
	if s.cfg.Upstream.DiscardRequestBody || rr.Body == nil || rr.Body == http.NoBody {
		return false
	}
	// A zero length means no body; -1 means unknown length (chunked).
	return rr.ContentLength != 0
}

// copyHeaders returns the upstream headers whose names and values are valid
// HTTP fields. Invalid entries are dropped one by one.
func copyHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src)+len(corsHeaders))
	for key, vals := range src {
		if !httpguts.ValidHeaderFieldName(key) {
			continue
		}
		for _, v := range vals {
			if httpguts.ValidHeaderFieldValue(v) {
				dst[key] = append(dst[key], v)
			}
		}
	}
	return dst
}
