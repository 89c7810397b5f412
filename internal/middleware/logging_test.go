package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success", http.StatusOK, "INFO"},
		{"challenge", http.StatusUnauthorized, "INFO"},
		{"upstream failure", http.StatusBadGateway, "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			e := echo.New()
			e.Use(RequestLogger(logger))
			e.GET("/v2/*", func(c echo.Context) error {
				return c.String(tt.status, "body")
			})

			req := httptest.NewRequest(http.MethodGet, "/v2/library/ubuntu/manifests/latest", http.NoBody)
			req.Header.Set("User-Agent", "containerd/2.0")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("unmarshal log %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["path"] != "/v2/library/ubuntu/manifests/latest" {
				t.Errorf("path = %v, want request path", entry["path"])
			}
			if entry["user_agent"] != "containerd/2.0" {
				t.Errorf("user_agent = %v, want %q", entry["user_agent"], "containerd/2.0")
			}
			if entry["bytes_out"] != float64(len("body")) {
				t.Errorf("bytes_out = %v, want %d", entry["bytes_out"], len("body"))
			}
		})
	}
}
