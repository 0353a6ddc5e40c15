package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9000
body_max_bytes = 5242880

[upstream]
user_agent = "relay-test/1.0"
max_redirects = 5
timeout_seconds = 60
idle_connections = 50
rewrite_host = true
discard_request_body = true

[log]
level = "debug"
format = "text"

[admin]
enabled = true
port = 9001
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Upstream.UserAgent != "relay-test/1.0" {
		t.Errorf("Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, "relay-test/1.0")
	}
	if cfg.Upstream.MaxRedirects != 5 {
		t.Errorf("Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 5)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if !cfg.Upstream.RewriteHost {
		t.Error("Upstream.RewriteHost = false, want true")
	}
	if !cfg.Upstream.DiscardRequestBody {
		t.Error("Upstream.DiscardRequestBody = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if got := cfg.Admin.Addr(); got != "127.0.0.1:9001" {
		t.Errorf("Admin.Addr() = %q, want %q", got, "127.0.0.1:9001")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.Server.Addr(); got != "127.0.0.1:3000" {
		t.Errorf("default Server.Addr() = %q, want %q", got, "127.0.0.1:3000")
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Upstream.UserAgent != DefaultUserAgent {
		t.Errorf("default Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, DefaultUserAgent)
	}
	if cfg.Upstream.MaxRedirects != 2 {
		t.Errorf("default Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 2)
	}
	if cfg.Upstream.TimeoutSeconds != 0 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want 0 (no deadline)", cfg.Upstream.TimeoutSeconds)
	}
	if cfg.Upstream.RewriteHost || cfg.Upstream.DiscardRequestBody {
		t.Error("expected Host and body to be forwarded by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Admin.Enabled || cfg.Metrics.Enabled {
		t.Error("expected admin listener and metrics to be disabled by default")
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if findConfig() != "" {
		t.Skip("a system-wide config file is present")
	}

	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v; missing config file should fall back to defaults", err)
	}
	if cfg.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", cfg.FilePath())
	}
	if got := cfg.Server.Addr(); got != "127.0.0.1:3000" {
		t.Errorf("Server.Addr() = %q, want %q", got, "127.0.0.1:3000")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if got := cfg.Server.Addr(); got != "127.0.0.1:3000" {
		t.Errorf("Server.Addr() = %q, want %q", got, "127.0.0.1:3000")
	}
	if cfg.Upstream.MaxRedirects != 2 {
		t.Errorf("Upstream.MaxRedirects = %d, want 2", cfg.Upstream.MaxRedirects)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for explicitly given missing file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[server\nport = ")))
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
timeout_seconds = 30

[log]
level = "info"
`)

	cli := &CLI{
		Config:          path,
		Host:            "127.0.0.2",
		Port:            3100,
		LogLevel:        "debug",
		UpstreamTimeout: 5,
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.2" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.2")
	}
	if cfg.Server.Port != 3100 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3100)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
	if cfg.Upstream.TimeoutSeconds != 5 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d (CLI override)", cfg.Upstream.TimeoutSeconds, 5)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative admin port", "[admin]\nport = -2\n", "admin.port"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative max_redirects", "[upstream]\nmax_redirects = -1\n", "max_redirects"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", "timeout_seconds"},
		{"negative idle connections", "[upstream]\nidle_connections = -1\n", "idle_connections"},
		{"user agent with newline", "[upstream]\nuser_agent = \"a\\r\\nX-Evil: 1\"\n", "user_agent"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_AdminCollidesWithRelay(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 4000

[admin]
enabled = true
port = 4000
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for admin listener on the relay address, got nil")
	}
	if !strings.Contains(err.Error(), "collides") {
		t.Errorf("error = %q, want mention of collision", err)
	}
}

func TestLoad_AdminDisabledSkipsCollisionCheck(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 4000

[admin]
port = 4000
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled admin listener should not be checked", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	Default().WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output when running on defaults, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	path1 := writeConfig(t, "")
	path2 := writeConfig(t, "")

	if got := findConfigInPaths([]string{path1}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\n")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\npath = \"metrics\"\n")))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithAdminRoute(t *testing.T) {
	for _, p := range []string{"/healthz", "/healthz/x", "/relay/status"} {
		t.Run(p, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = true\npath = \""+p+"\"\n")))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q, got nil", p)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}
