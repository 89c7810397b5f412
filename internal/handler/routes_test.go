package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"registry-proxy-go/internal/config"
	"registry-proxy-go/internal/metrics"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	e := newTestEcho(t, newTestConfig(upstream.URL, upstream.URL))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /", http.MethodGet, "/", http.StatusOK},
		{"GET /v2", http.MethodGet, "/v2", http.StatusOK},
		{"GET /v2/", http.MethodGet, "/v2/", http.StatusOK},
		{"HEAD manifest", http.MethodHead, "/v2/library/ubuntu/manifests/latest", http.StatusOK},
		{"GET /token", http.MethodGet, "/token?service=registry.docker.io", http.StatusOK},
		{"OPTIONS /v2/", http.MethodOptions, "/v2/", http.StatusNoContent},
		{"PUT blob upload rejected", http.MethodPut, "/v2/library/ubuntu/blobs/uploads/1", http.StatusMethodNotAllowed},
		{"GET /unknown", http.MethodGet, "/unknown", http.StatusNotFound},
		{"GET /healthz stays off the public listener", http.MethodGet, "/healthz", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, tt.method, tt.path)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterAdminRoutes(t *testing.T) {
	tests := []struct {
		name           string
		metricsEnabled bool
		wantMetrics    int
	}{
		{"metrics enabled", true, http.StatusOK},
		{"metrics disabled", false, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig("https://registry-1.docker.io", "https://auth.docker.io")
			cfg.Metrics = config.MetricsConfig{Enabled: tt.metricsEnabled, Path: "/metrics"}

			m := metrics.New()
			m.TokenRequests.WithLabelValues("ok").Inc()

			e := echo.New()
			RegisterAdminRoutes(e, NewHealthHandler(cfg, "test"), cfg, m)

			for _, p := range []string{"/healthz", "/proxy/status"} {
				if rec := serve(e, http.MethodGet, p); rec.Code != http.StatusOK {
					t.Errorf("GET %s: status = %d, want %d", p, rec.Code, http.StatusOK)
				}
			}

			rec := serve(e, http.MethodGet, "/metrics")
			if rec.Code != tt.wantMetrics {
				t.Fatalf("GET /metrics: status = %d, want %d", rec.Code, tt.wantMetrics)
			}
			if tt.metricsEnabled && !strings.Contains(rec.Body.String(), "registry_proxy_token_requests_total") {
				t.Error("metrics output missing registry_proxy_token_requests_total")
			}
		})
	}
}
