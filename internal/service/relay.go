// Package service implements the registry authentication relay.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"github.com/docker/distribution/registry/client/auth/challenge"

	"registry-proxy-go/internal/client"
	"registry-proxy-go/internal/config"
	"registry-proxy-go/internal/metrics"
	"registry-proxy-go/internal/model"
)

// ErrMethodNotAllowed is returned for write methods when write proxying is disabled.
var ErrMethodNotAllowed = errors.New("method not allowed: write proxying is disabled")

// RelayService runs the bearer-token challenge/response handshake against the
// upstream registry on behalf of clients. It holds no per-request state.
type RelayService struct {
	client  *client.UpstreamClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// realmPattern matches the auth server's origin inside a realm parameter.
	realmPattern *regexp.Regexp
}

// NewRelayService creates a RelayService. The metrics parameter is optional.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*RelayService, error) {
	authURL, err := url.Parse(cfg.Auth.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth base_url: %w", err)
	}
	if _, err := url.Parse(cfg.Registry.BaseURL); err != nil {
		return nil, fmt.Errorf("parse registry base_url: %w", err)
	}

	origin := authURL.Scheme + "://" + authURL.Host

	return &RelayService{
		client:       c,
		cfg:          cfg,
		logger:       logger.With("component", "relay_service"),
		metrics:      m,
		realmPattern: regexp.MustCompile(`(?i)(realm=")` + regexp.QuoteMeta(origin)),
	}, nil
}

// Relay forwards a registry API request upstream. When the upstream answers
// with a Bearer challenge, a pull token is fetched for the repository named in
// the path and the request is retried once with it. The caller is responsible
// for closing the response body.
func (s *RelayService) Relay(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	if !s.methodAllowed(pr.Method) {
		return nil, ErrMethodNotAllowed
	}

	upstreamURL := buildUpstreamURL(s.cfg.Registry.BaseURL, pr.Path, pr.RawQuery)
	header := filterRequestHeaders(pr.Header)

	// The retry must replay the same body, so it is held in memory. Inbound
	// bodies are already capped by server.body_max_bytes.
	body, err := readBody(pr.Body)
	if err != nil {
		s.recordOutcome(metrics.OutcomeFailed)
		return nil, fmt.Errorf("read request body: %w", err)
	}

	resp, err := s.send(pr, upstreamURL, header, body)
	if err != nil {
		s.recordOutcome(metrics.OutcomeFailed)
		return nil, fmt.Errorf("probe upstream: %w", err)
	}

	s.logger.Debug("probe complete",
		"method", pr.Method,
		"path", pr.Path,
		"status", resp.StatusCode,
	)

	if !hasBearerChallenge(resp) {
		s.recordOutcome(metrics.OutcomeDirect)
		resp.Header = s.normalizeResponseHeaders(resp.Header, pr.PublicOrigin)
		return resp, nil
	}
	_ = resp.Body.Close()

	scope := DeriveScope(pr.Path, s.cfg.Registry.DefaultNamespace, s.cfg.Registry.DefaultRepository)
	token, err := s.fetchToken(pr.Ctx, scope)
	if err != nil {
		s.recordOutcome(metrics.OutcomeFailed)
		return nil, err
	}

	retryHeader := header.Clone()
	retryHeader.Set("Authorization", "Bearer "+token)

	resp, err = s.send(pr, upstreamURL, retryHeader, body)
	if err != nil {
		s.recordOutcome(metrics.OutcomeFailed)
		return nil, fmt.Errorf("retry upstream: %w", err)
	}

	s.logger.Debug("authenticated retry complete",
		"method", pr.Method,
		"path", pr.Path,
		"scope", scope.String(),
		"status", resp.StatusCode,
	)

	s.recordOutcome(metrics.OutcomeRetried)
	resp.Header = s.normalizeResponseHeaders(resp.Header, pr.PublicOrigin)
	return resp, nil
}

// ForwardToken passes a token-issuance request through to the upstream auth
// server's equivalent path and returns its response unchanged apart from
// hop-by-hop headers. The caller is responsible for closing the response body.
func (s *RelayService) ForwardToken(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := buildUpstreamURL(s.cfg.Auth.BaseURL, pr.Path, pr.RawQuery)

	s.logger.Debug("forwarding token request",
		"method", pr.Method,
		"path", pr.Path,
	)

	var body io.Reader
	if pr.Body != nil {
		body = pr.Body
	}

	resp, err := s.client.DoStream(pr.Ctx, metrics.TargetAuth, pr.Method, upstreamURL, filterRequestHeaders(pr.Header), body)
	if err != nil {
		return nil, fmt.Errorf("forward token request: %w", err)
	}

	resp.Header = stripHopByHop(resp.Header)
	return resp, nil
}

// AllowedMethods returns the methods advertised in CORS preflight replies.
func (s *RelayService) AllowedMethods() string {
	if s.cfg.Registry.AllowWrites {
		return "GET, HEAD, POST, PUT, DELETE, OPTIONS"
	}
	return "GET, HEAD, OPTIONS"
}

func (s *RelayService) methodAllowed(method string) bool {
	if s.cfg.Registry.AllowWrites {
		return true
	}
	return method == http.MethodGet || method == http.MethodHead
}

func (s *RelayService) send(pr *model.ProxyRequest, upstreamURL string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	return s.client.DoStream(pr.Ctx, metrics.TargetRegistry, pr.Method, upstreamURL, header, r)
}

func (s *RelayService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.RelayOutcomes.WithLabelValues(outcome).Inc()
	}
}

// hasBearerChallenge reports whether resp is a 401 carrying at least one
// parseable Bearer challenge. Any other 401 is passed through untouched.
func hasBearerChallenge(resp *model.ProxyResponse) bool {
	challenges := challenge.ResponseChallenges(&http.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	})
	for _, ch := range challenges {
		if ch.Scheme == "bearer" {
			return true
		}
	}
	return false
}

// buildUpstreamURL joins base with the escaped path and raw query unchanged.
func buildUpstreamURL(base, path, rawQuery string) string {
	u := base + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func readBody(body io.ReadCloser) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
