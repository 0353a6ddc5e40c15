// Package model defines shared types for the relay.
package model

import (
	"context"
	"io"
	"net/http"
)

// RelayRequest is an inbound request to be re-issued against the target host.
type RelayRequest struct {
	Ctx    context.Context
	Method string
	// Host is the Host header the caller sent to the relay.
	Host string
	// Path is the escaped request path, RawQuery the query string as received.
	Path     string
	RawQuery string
	Header   http.Header

	Body          io.ReadCloser
	ContentLength int64
}

// RelayResponse is a fully buffered upstream response, ready to be written back.
type RelayResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
