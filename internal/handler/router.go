package handler

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"registry-proxy-go/internal/config"
	"registry-proxy-go/internal/model"
	"registry-proxy-go/internal/service"
)

//go:embed static/index.html
var landingPage []byte

// secretPatterns match credentials that may appear in upstream URLs or headers
// embedded in error messages.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[^\s"',]+`),
	regexp.MustCompile(`(?i)((?:access_token|refresh_token|token|password)=)[^&\s"]+`),
	regexp.MustCompile(`(://[^:/@\s]+:)[^@/\s]+(@)`),
}

// errorBody is the JSON shape of every error this proxy generates itself.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Router classifies inbound requests and runs them through the relay.
type Router struct {
	service   *service.RelayService
	logger    *slog.Logger
	tokenPath string
	// origin is the configured public origin; empty means derive per request.
	origin string
}

// NewRouter creates a Router.
func NewRouter(svc *service.RelayService, cfg *config.Config, logger *slog.Logger) (*Router, error) {
	r := &Router{
		service:   svc,
		logger:    logger.With("component", "router"),
		tokenPath: cfg.Auth.TokenPath,
	}
	if cfg.Server.PublicURL != "" {
		u, err := url.Parse(cfg.Server.PublicURL)
		if err != nil {
			return nil, fmt.Errorf("parse server public_url: %w", err)
		}
		r.origin = u.Scheme + "://" + u.Host
	}
	return r, nil
}

// Handle dispatches every inbound request: CORS preflight, token passthrough,
// registry relay, landing page, or 404.
func (h *Router) Handle(c echo.Context) error {
	req := c.Request()
	path := req.URL.Path

	switch {
	case req.Method == http.MethodOptions:
		return h.Preflight(c)
	case strings.HasPrefix(path, h.tokenPath):
		return h.Token(c)
	case path == "/v2" || strings.HasPrefix(path, "/v2/"):
		return h.Registry(c)
	default:
		return h.Default(c)
	}
}

// Preflight answers CORS preflight requests on any path.
func (h *Router) Preflight(c echo.Context) error {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderAccessControlAllowOrigin, "*")
	hdr.Set(echo.HeaderAccessControlAllowMethods, h.service.AllowedMethods())
	hdr.Set(echo.HeaderAccessControlAllowHeaders, "Authorization, Range")
	hdr.Set(echo.HeaderAccessControlExposeHeaders, service.ExposedHeaders)
	hdr.Set(echo.HeaderAccessControlMaxAge, "86400")
	return c.NoContent(http.StatusNoContent)
}

// Token passes token-issuance requests through to the upstream auth server.
func (h *Router) Token(c echo.Context) error {
	resp, err := h.service.ForwardToken(h.proxyRequest(c))
	if err != nil {
		h.logger.Error("token passthrough error",
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusBadGateway, errorBody{Error: "Authentication request failed."})
	}
	return h.stream(c, resp)
}

// Registry relays registry API requests, answering upstream bearer challenges
// on the client's behalf.
func (h *Router) Registry(c echo.Context) error {
	// Error responses carry the relay headers too.
	service.ApplyRelayHeaders(c.Response().Header())

	resp, err := h.service.Relay(h.proxyRequest(c))
	if err != nil {
		return h.mapError(c, err)
	}
	return h.stream(c, resp)
}

// Default serves the landing page at the root and 404 everywhere else.
func (h *Router) Default(c echo.Context) error {
	if c.Request().URL.Path == "/" {
		return c.HTMLBlob(http.StatusOK, landingPage)
	}
	return c.String(http.StatusNotFound, "Not Found")
}

func (h *Router) proxyRequest(c echo.Context) *model.ProxyRequest {
	req := c.Request()
	return &model.ProxyRequest{
		Ctx:          req.Context(),
		Method:       req.Method,
		Path:         req.URL.EscapedPath(),
		RawQuery:     req.URL.RawQuery,
		Header:       req.Header,
		Body:         req.Body,
		PublicOrigin: h.publicOrigin(c),
	}
}

// publicOrigin returns the origin clients use to reach this proxy.
func (h *Router) publicOrigin(c echo.Context) string {
	if h.origin != "" {
		return h.origin
	}
	return c.Scheme() + "://" + c.Request().Host
}

func (h *Router) stream(c echo.Context, resp *model.ProxyResponse) error {
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. The error is logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"path", c.Request().URL.Path,
		)
	}

	return nil
}

func (h *Router) mapError(c echo.Context, err error) error {
	h.logger.Error("relay error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrMethodNotAllowed) {
		c.Response().Header().Set(echo.HeaderAllow, h.service.AllowedMethods())
		return c.JSON(http.StatusMethodNotAllowed, errorBody{
			Error:   "method_not_allowed",
			Message: "this proxy only relays pulls",
		})
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, errorBody{
			Error:   strings.ToLower(strings.ReplaceAll(http.StatusText(he.Code), " ", "_")),
			Message: fmt.Sprint(he.Message),
		})
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return c.JSON(http.StatusBadGateway, errorBody{
			Error:   "upstream_timeout",
			Message: "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, errorBody{
			Error:   "client_disconnected",
			Message: "client disconnected",
		})
	}

	if errors.Is(err, service.ErrTokenIssuance) {
		return c.JSON(http.StatusBadGateway, errorBody{
			Error:   "token_issuance_failed",
			Message: "upstream token endpoint did not issue a token",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, errorBody{
			Error:   "upstream_unreachable",
			Message: "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, errorBody{
			Error:   "upstream_unreachable",
			Message: "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, errorBody{
		Error:   "upstream_error",
		Message: "upstream request failed",
	})
}

// sanitizeError redacts credentials from error messages that may contain
// upstream URLs or Authorization values.
func sanitizeError(err error) string {
	msg := err.Error()
	for _, re := range secretPatterns {
		msg = re.ReplaceAllString(msg, "${1}[REDACTED]${2}")
	}
	return msg
}
