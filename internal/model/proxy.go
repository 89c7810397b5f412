// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be relayed upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped inbound path, forwarded byte-for-byte.
	Path string
	// RawQuery is the inbound query string without the leading '?'.
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
	// PublicOrigin is the scheme://host clients use to reach this proxy.
	PublicOrigin string
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// HopByHopHeaders are connection-scoped headers that proxies must not forward.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}
