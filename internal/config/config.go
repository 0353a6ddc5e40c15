// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultUserAgent is sent upstream when the caller supplies no User-Agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:91.0) Gecko/20100101 Firefox/110.0"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-relay/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel        string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	UpstreamTimeout int    `kong:"help='Upstream timeout in seconds, 0 waits forever (overrides config).',env='UPSTREAM_TIMEOUT'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Admin    AdminConfig    `toml:"admin"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds relay listener settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds settings for the shared outbound client.
type UpstreamConfig struct {
	UserAgent       string `toml:"user_agent"`
	MaxRedirects    int    `toml:"max_redirects"`
	TimeoutSeconds  int    `toml:"timeout_seconds"` // 0 means no deadline
	IdleConnections int    `toml:"idle_connections"`
	// RewriteHost sends the target host as Host instead of the caller's Host header.
	RewriteHost        bool `toml:"rewrite_host"`
	DiscardRequestBody bool `toml:"discard_request_body"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// AdminConfig holds the optional health/metrics listener settings.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/cors-relay/config.toml then configs/config.toml. If neither exists the
// built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	if cfg.Admin.Enabled && cfg.Admin.Addr() == cfg.Server.Addr() {
		return nil, fmt.Errorf("config: validate: admin listener %s collides with relay listener", cfg.Admin.Addr())
	}
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.UpstreamTimeout != 0 {
		c.Upstream.TimeoutSeconds = cli.UpstreamTimeout
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0-65535; got %d", c.Admin.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.MaxRedirects < 0 {
		return fmt.Errorf("upstream.max_redirects must be non-negative; got %d", c.Upstream.MaxRedirects)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if strings.ContainsAny(c.Upstream.UserAgent, "\r\n") {
		return errors.New("upstream.user_agent must not contain line breaks")
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics are served by the admin listener next to its own routes.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/relay/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. The exception is
// upstream.timeout_seconds, where 0 is the default and means no deadline.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Upstream.MaxRedirects == 0 {
		c.Upstream.MaxRedirects = 2
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
		c.Admin.Port = 3001
	}
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

// Addr returns the relay listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file that was loaded, or "" when running on defaults.
func (c *Config) FilePath() string {
	return c.filePath
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
