// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/registry-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	PublicURL   string `kong:"help='Public origin of this proxy, used for realm rewriting (overrides config).',env='PUBLIC_URL'"`
	RegistryURL string `kong:"help='Upstream registry base URL (overrides config).',env='REGISTRY_URL'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Registry RegistryConfig `toml:"registry"`
	Auth     AuthConfig     `toml:"auth"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Admin    AdminConfig    `toml:"admin"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds public HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	// PublicURL is the origin clients use to reach the proxy. When empty it is
	// derived per request from the scheme and Host header.
	PublicURL string `toml:"public_url"`
}

// RegistryConfig describes the upstream registry API and relay behavior.
type RegistryConfig struct {
	BaseURL           string `toml:"base_url"`
	DefaultNamespace  string `toml:"default_namespace"`
	DefaultRepository string `toml:"default_repository"`
	AllowWrites       bool   `toml:"allow_writes"`
	// RewriteRealm is a pointer so that an omitted key can default to true.
	RewriteRealm *bool `toml:"rewrite_realm"`
}

// AuthConfig describes the upstream token-issuance server.
type AuthConfig struct {
	BaseURL   string `toml:"base_url"`
	TokenPath string `toml:"token_path"`
	Service   string `toml:"service"`
}

// UpstreamConfig holds outbound connection settings shared by both upstreams.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings. Metrics are served on the
// admin listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// AdminConfig holds settings for the health/metrics listener.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/registry-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.PublicURL != "" {
		c.Server.PublicURL = cli.PublicURL
	}
	if cli.RegistryURL != "" {
		c.Registry.BaseURL = cli.RegistryURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URLs must be HTTPS.
	if err := validateHTTPS("registry.base_url", c.Registry.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPS("auth.base_url", c.Auth.BaseURL); err != nil {
		return err
	}

	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("server.public_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_url must be an absolute http(s) URL; got %q", c.Server.PublicURL)
		}
	}

	p := c.Auth.TokenPath
	if p[0] != '/' {
		return fmt.Errorf("auth.token_path must start with '/'; got %q", p)
	}
	if p == "/" || p == "/v2" || strings.HasPrefix(p, "/v2/") {
		return fmt.Errorf("auth.token_path %q conflicts with registry routes", p)
	}
	if c.Auth.Service == "" {
		return fmt.Errorf("auth.service is required")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
	}
	if c.Admin.Enabled && c.Admin.Port == c.Server.Port {
		return fmt.Errorf("admin.port %d collides with server.port", c.Admin.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		mp := c.Metrics.Path
		if mp[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", mp)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if mp == reserved || strings.HasPrefix(mp, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", mp, reserved)
			}
		}
	}

	return nil
}

func validateHTTPS(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%s must use HTTPS; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")

	if c.Registry.BaseURL == "" {
		c.Registry.BaseURL = "https://registry-1.docker.io"
	}
	c.Registry.BaseURL = strings.TrimRight(c.Registry.BaseURL, "/")
	if c.Registry.DefaultNamespace == "" {
		c.Registry.DefaultNamespace = "library"
	}
	if c.Registry.DefaultRepository == "" {
		c.Registry.DefaultRepository = "ubuntu"
	}
	if c.Registry.RewriteRealm == nil {
		enabled := true
		c.Registry.RewriteRealm = &enabled
	}

	if c.Auth.BaseURL == "" {
		c.Auth.BaseURL = "https://auth.docker.io"
	}
	c.Auth.BaseURL = strings.TrimRight(c.Auth.BaseURL, "/")
	if c.Auth.TokenPath == "" {
		c.Auth.TokenPath = "/token"
	}
	if c.Auth.Service == "" {
		c.Auth.Service = "registry.docker.io"
	}

	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
}

// RewritesRealm reports whether WWW-Authenticate realms should point back at
// the proxy. An unset value counts as enabled.
func (c *RegistryConfig) RewritesRealm() bool {
	return c.RewriteRealm == nil || *c.RewriteRealm
}

// TokenURL returns the upstream token-issuance endpoint.
func (c *AuthConfig) TokenURL() string {
	return c.BaseURL + c.TokenPath
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
