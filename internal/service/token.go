package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/distribution/reference"

	"registry-proxy-go/internal/metrics"
	"registry-proxy-go/internal/model"
)

// ErrTokenIssuance is returned when the token endpoint answers but does not
// hand out a usable token (non-2xx, malformed JSON or no token field).
var ErrTokenIssuance = errors.New("token issuance failed")

// maxTokenResponseBytes caps how much of a token response is read.
const maxTokenResponseBytes = 1 << 20

type tokenResponse struct {
	Token string `json:"token"`
}

// DeriveScope builds the pull scope from the first two path segments after
// /v2/. When either is missing, or the pair is not a valid repository name,
// the defaults are used instead.
func DeriveScope(path, defaultNamespace, defaultRepository string) model.Scope {
	fallback := model.Scope{Namespace: defaultNamespace, Repository: defaultRepository}

	rest, ok := strings.CutPrefix(path, "/v2/")
	if !ok {
		return fallback
	}
	segments := strings.SplitN(rest, "/", 3)
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return fallback
	}
	if _, err := reference.WithName(segments[0] + "/" + segments[1]); err != nil {
		return fallback
	}
	return model.Scope{Namespace: segments[0], Repository: segments[1]}
}

// fetchToken requests an anonymous pull token for scope. The token is returned
// to the caller for a single retry and never stored.
func (s *RelayService) fetchToken(ctx context.Context, scope model.Scope) (string, error) {
	q := url.Values{}
	q.Set("service", s.cfg.Auth.Service)
	q.Set("scope", scope.String())
	tokenURL := s.cfg.Auth.TokenURL() + "?" + q.Encode()

	header := http.Header{
		"Accept":     {"application/json"},
		"User-Agent": {userAgent},
	}

	resp, err := s.client.DoStream(ctx, metrics.TargetAuth, http.MethodGet, tokenURL, header, nil)
	if err != nil {
		s.recordToken("error")
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.recordToken("rejected")
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrTokenIssuance, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&tr); err != nil {
		s.recordToken("malformed")
		return "", fmt.Errorf("%w: decode token response: %v", ErrTokenIssuance, err)
	}
	if tr.Token == "" {
		s.recordToken("malformed")
		return "", fmt.Errorf("%w: token response has no token field", ErrTokenIssuance)
	}

	s.recordToken("ok")
	s.logger.Debug("token issued", "scope", scope.String())
	return tr.Token, nil
}

func (s *RelayService) recordToken(result string) {
	if s.metrics != nil {
		s.metrics.TokenRequests.WithLabelValues(result).Inc()
	}
}
