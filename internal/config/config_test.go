package config

import (
	"testing"
	"time"
)

var allEnvVars = []string{
	"HOST", "PORT", "HEADLESS", "BROWSER_PATH", "STEALTH_ENABLED", "NAVIGATE_WAIT",
	"START_URLS", "MAX_SESSIONS", "ALLOW_PRIVATE_URLS", "STORE_PATH",
	"DEFAULT_TIMEOUT", "MAX_TIMEOUT",
	"LOG_LEVEL", "LOG_FORMAT",
	"PPROF_ENABLED", "PPROF_PORT", "PPROF_BIND_ADDR",
	"PROMETHEUS_ENABLED", "PROMETHEUS_PORT",
	"API_KEY_ENABLED", "API_KEY",
	"CORS_ALLOWED_ORIGINS", "RATE_LIMIT_ENABLED", "RATE_LIMIT_RPM", "TRUST_PROXY",
	"SITE_FIXES_PATH", "SITE_FIXES_HOT_RELOAD", "TUI_ENABLED",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host '127.0.0.1', got %q", cfg.Host)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Expected default port %d, got %d", defaultPort, cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected Headless to be true by default")
	}
	if cfg.StealthEnabled {
		t.Error("Expected StealthEnabled to be false by default")
	}
	if len(cfg.StartURLs) != 0 {
		t.Errorf("Expected no start URLs, got %v", cfg.StartURLs)
	}
	if cfg.MaxSessions != 8 {
		t.Errorf("Expected default max sessions 8, got %d", cfg.MaxSessions)
	}
	if cfg.StorePath != "" {
		t.Errorf("Expected in-memory store by default, got %q", cfg.StorePath)
	}
	if cfg.DefaultTimeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", cfg.DefaultTimeout)
	}
	if cfg.MaxTimeout != 120*time.Second {
		t.Errorf("Expected max timeout 120s, got %v", cfg.MaxTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.PrometheusEnabled {
		t.Error("Expected Prometheus to be disabled by default")
	}
	if cfg.SiteFixesHotReload {
		t.Error("Expected site fix hot reload to be disabled by default")
	}
	if !cfg.RateLimitEnabled || cfg.RateLimitRPM != 120 {
		t.Errorf("Expected rate limiting at 120 rpm, got %v/%d", cfg.RateLimitEnabled, cfg.RateLimitRPM)
	}
	if cfg.AllowPrivateURLs || cfg.TrustProxy {
		t.Error("Expected private URLs and proxy trust off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9000")
	t.Setenv("HEADLESS", "false")
	t.Setenv("STEALTH_ENABLED", "true")
	t.Setenv("START_URLS", "https://example.com, https://github.com ,")
	t.Setenv("STORE_PATH", "/var/lib/darkmode/store.db")
	t.Setenv("DEFAULT_TIMEOUT", "45s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TUI_ENABLED", "1")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test,https://b.test")
	t.Setenv("ALLOW_PRIVATE_URLS", "true")

	cfg := Load()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got %q", cfg.Host)
	}
	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if cfg.Headless {
		t.Error("Expected Headless false")
	}
	if !cfg.StealthEnabled {
		t.Error("Expected StealthEnabled true")
	}
	if len(cfg.StartURLs) != 2 || cfg.StartURLs[1] != "https://github.com" {
		t.Errorf("Expected two trimmed start URLs, got %v", cfg.StartURLs)
	}
	if cfg.StorePath != "/var/lib/darkmode/store.db" {
		t.Errorf("Unexpected store path %q", cfg.StorePath)
	}
	if cfg.DefaultTimeout != 45*time.Second {
		t.Errorf("Expected 45s, got %v", cfg.DefaultTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected debug, got %q", cfg.LogLevel)
	}
	if !cfg.TUIEnabled {
		t.Error("Expected TUIEnabled true")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("Expected two CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.AllowPrivateURLs {
		t.Error("Expected AllowPrivateURLs true")
	}
}

func TestInvalidEnvValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("HEADLESS", "maybe")
	t.Setenv("DEFAULT_TIMEOUT", "-5s")

	cfg := Load()

	if cfg.Port != defaultPort {
		t.Errorf("Expected fallback port %d, got %d", defaultPort, cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected Headless to fall back to true")
	}
	if cfg.DefaultTimeout != 30*time.Second {
		t.Errorf("Expected fallback timeout 30s, got %v", cfg.DefaultTimeout)
	}
}

func TestValidateClampsValues(t *testing.T) {
	cfg := &Config{
		Port:           70000,
		MaxSessions:    1000,
		StartURLs:      []string{"https://a.test"},
		DefaultTimeout: 20 * time.Minute,
		MaxTimeout:     30 * time.Minute,
		NavigateWait:   time.Millisecond,
		LogLevel:       "LOUD",
		LogFormat:      "xml",
		BrowserPath:    "/opt/../etc/passwd",
	}

	cfg.Validate()

	if cfg.Port != defaultPort {
		t.Errorf("Expected port reset to %d, got %d", defaultPort, cfg.Port)
	}
	if cfg.MaxSessions != maxMaxSessions {
		t.Errorf("Expected max sessions capped at %d, got %d", maxMaxSessions, cfg.MaxSessions)
	}
	if cfg.MaxTimeout != maxTimeout {
		t.Errorf("Expected max timeout capped at %v, got %v", maxTimeout, cfg.MaxTimeout)
	}
	if cfg.DefaultTimeout != cfg.MaxTimeout {
		t.Errorf("Expected default timeout clamped to max, got %v", cfg.DefaultTimeout)
	}
	if cfg.NavigateWait != minNavigateWait {
		t.Errorf("Expected navigate wait raised to %v, got %v", minNavigateWait, cfg.NavigateWait)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level reset to info, got %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("Expected log format reset to console, got %q", cfg.LogFormat)
	}
	if cfg.BrowserPath != "" {
		t.Errorf("Expected traversal path to be dropped, got %q", cfg.BrowserPath)
	}
}

func TestValidateTrimsStartURLs(t *testing.T) {
	cfg := &Config{
		Port:           defaultPort,
		MaxSessions:    2,
		StartURLs:      []string{"https://a.test", "https://b.test", "https://c.test"},
		DefaultTimeout: time.Minute,
		MaxTimeout:     time.Minute,
		NavigateWait:   time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
	}

	cfg.Validate()

	if len(cfg.StartURLs) != 2 {
		t.Errorf("Expected start URLs trimmed to 2, got %d", len(cfg.StartURLs))
	}
}

func TestValidatePortConflicts(t *testing.T) {
	cfg := &Config{
		Port:              8192,
		MaxSessions:       1,
		DefaultTimeout:    time.Minute,
		MaxTimeout:        time.Minute,
		NavigateWait:      time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		PrometheusEnabled: true,
		PrometheusPort:    8192,
		PProfEnabled:      true,
		PProfPort:         8193,
		PProfBindAddr:     "127.0.0.1",
	}

	cfg.Validate()

	if cfg.PrometheusPort == cfg.Port {
		t.Fatalf("Expected prometheus port moved off %d", cfg.Port)
	}
	if cfg.PProfPort == cfg.PrometheusPort || cfg.PProfPort == cfg.Port {
		t.Errorf("Expected distinct ports, got api=%d metrics=%d pprof=%d", cfg.Port, cfg.PrometheusPort, cfg.PProfPort)
	}
}

func TestValidateDisablesHotReloadWithoutPath(t *testing.T) {
	cfg := &Config{
		Port:               defaultPort,
		MaxSessions:        1,
		DefaultTimeout:     time.Minute,
		MaxTimeout:         time.Minute,
		NavigateWait:       time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		SiteFixesHotReload: true,
	}

	cfg.Validate()

	if cfg.SiteFixesHotReload {
		t.Error("Expected hot reload disabled when SITE_FIXES_PATH is empty")
	}
}
