package service

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeriveScope(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"manifest", "/v2/library/ubuntu/manifests/latest", "repository:library/ubuntu:pull"},
		{"blob", "/v2/grafana/loki/blobs/sha256:0123", "repository:grafana/loki:pull"},
		{"exactly two segments", "/v2/library/alpine", "repository:library/alpine:pull"},
		{"one segment", "/v2/onlyonesegment", "repository:library/ubuntu:pull"},
		{"trailing slash after one segment", "/v2/onlyonesegment/", "repository:library/ubuntu:pull"},
		{"base endpoint", "/v2/", "repository:library/ubuntu:pull"},
		{"no slash", "/v2", "repository:library/ubuntu:pull"},
		{"empty namespace", "/v2//ubuntu/manifests/latest", "repository:library/ubuntu:pull"},
		{"uppercase is not a repository name", "/v2/Library/Ubuntu/manifests/latest", "repository:library/ubuntu:pull"},
		{"escaped slash", "/v2/library%2Fubuntu/x/manifests/latest", "repository:library/ubuntu:pull"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveScope(tt.path, "library", "ubuntu").String()
			if got != tt.want {
				t.Errorf("DeriveScope(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestFilterRequestHeaders(t *testing.T) {
	src := http.Header{
		"Accept":              {"application/vnd.oci.image.index.v1+json", "application/vnd.docker.distribution.manifest.v2+json"},
		"Authorization":       {"Bearer client-token"},
		"Range":               {"bytes=0-1023"},
		"Host":                {"proxy.example.com"},
		"Connection":          {"keep-alive, X-Drop-Me"},
		"X-Drop-Me":           {"1"},
		"Keep-Alive":          {"timeout=5"},
		"Proxy-Authorization": {"Basic abc"},
		"Upgrade":             {"h2c"},
		"User-Agent":          {"containerd/2.0"},
	}

	dst := filterRequestHeaders(src)

	want := http.Header{
		"Accept":        src["Accept"],
		"Authorization": {"Bearer client-token"},
		"Range":         {"bytes=0-1023"},
		"User-Agent":    {"containerd/2.0"},
	}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Errorf("filterRequestHeaders() mismatch (-want +got):\n%s", diff)
	}
	if src.Get("Connection") == "" {
		t.Error("source header map was mutated")
	}
}

func TestFilterRequestHeaders_DefaultUserAgent(t *testing.T) {
	dst := filterRequestHeaders(http.Header{})
	if ua := dst.Get("User-Agent"); ua != userAgent {
		t.Errorf("User-Agent = %q, want %q", ua, userAgent)
	}
}

func TestNormalizeResponseHeaders(t *testing.T) {
	upstream := `Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/ubuntu:pull"`

	tests := []struct {
		name         string
		rewrite      bool
		publicOrigin string
		want         string
	}{
		{
			name:         "rewrites realm to public origin",
			rewrite:      true,
			publicOrigin: "https://mirror.example.com",
			want:         `Bearer realm="https://mirror.example.com/token",service="registry.docker.io",scope="repository:library/ubuntu:pull"`,
		},
		{
			name:         "rewrite disabled",
			rewrite:      false,
			publicOrigin: "https://mirror.example.com",
			want:         upstream,
		},
		{
			name:         "no public origin",
			rewrite:      true,
			publicOrigin: "",
			want:         upstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig("https://registry-1.docker.io", "https://auth.docker.io")
			cfg.Registry.RewriteRealm = &tt.rewrite
			s := newTestService(t, cfg)

			src := http.Header{
				"Www-Authenticate":  {upstream},
				"Content-Type":      {"application/json"},
				"Cache-Control":     {"public"},
				"Transfer-Encoding": {"chunked"},
			}
			dst := s.normalizeResponseHeaders(src, tt.publicOrigin)

			if got := dst.Get("WWW-Authenticate"); got != tt.want {
				t.Errorf("WWW-Authenticate = %q, want %q", got, tt.want)
			}
			if got := dst.Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want %q", got, "no-store")
			}
			if got := dst.Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
			}
			if got := dst.Get("Access-Control-Expose-Headers"); got != ExposedHeaders {
				t.Errorf("Access-Control-Expose-Headers = %q, want %q", got, ExposedHeaders)
			}
			if got := dst.Get("Transfer-Encoding"); got != "" {
				t.Errorf("Transfer-Encoding = %q, want stripped", got)
			}
			if got := dst.Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q, want passthrough", got)
			}
		})
	}
}

func TestRewriteRealm_OtherOriginUntouched(t *testing.T) {
	s := newTestService(t, newTestConfig("https://registry-1.docker.io", "https://auth.docker.io"))

	in := `Bearer realm="https://login.example.org/token",service="x"`
	if got := s.rewriteRealm(in, "https://mirror.example.com"); got != in {
		t.Errorf("rewriteRealm() = %q, want unchanged %q", got, in)
	}
}
