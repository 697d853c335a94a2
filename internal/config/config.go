// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration bounds to prevent resource exhaustion.
const (
	maxMaxSessions    = 64
	maxTimeout        = 10 * time.Minute
	minAPIKeyLength   = 16
	minNavigateWait   = 100 * time.Millisecond
	maxNavigateWait   = 2 * time.Minute
	defaultPort       = 8192
	defaultMetricPort = 2112
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless       bool
	BrowserPath    string
	StealthEnabled bool
	NavigateWait   time.Duration

	// Pages opened at startup, one session each
	StartURLs   []string
	MaxSessions int
	// Allow sessions on loopback and private networks
	AllowPrivateURLs bool

	// Persistence. Empty StorePath keeps everything in memory.
	StorePath string

	// Timeouts
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Profiling
	PProfEnabled  bool
	PProfPort     int
	PProfBindAddr string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// API Key Authentication
	APIKeyEnabled bool
	APIKey        string

	// HTTP hardening
	CORSAllowedOrigins []string
	RateLimitEnabled   bool
	RateLimitRPM       int
	TrustProxy         bool // honour X-Forwarded-For / X-Real-IP

	// Known-site fix table
	SiteFixesPath      string // Path to external sitefixes.yaml override file
	SiteFixesHotReload bool   // Enable file watching for hot-reload of site fixes

	// Terminal control panel
	TUIEnabled bool
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Localhost by default; the control API drives a real browser.
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", defaultPort),

		Headless:       getEnvBool("HEADLESS", true),
		BrowserPath:    getEnvString("BROWSER_PATH", ""),
		StealthEnabled: getEnvBool("STEALTH_ENABLED", false),
		NavigateWait:   getEnvDuration("NAVIGATE_WAIT", 2*time.Second),

		StartURLs:   getEnvStringSlice("START_URLS", nil),
		MaxSessions: getEnvInt("MAX_SESSIONS", 8),

		AllowPrivateURLs: getEnvBool("ALLOW_PRIVATE_URLS", false),

		StorePath: getEnvString("STORE_PATH", ""),

		DefaultTimeout: getEnvDuration("DEFAULT_TIMEOUT", 30*time.Second),
		MaxTimeout:     getEnvDuration("MAX_TIMEOUT", 120*time.Second),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "console"),

		PProfEnabled:  getEnvBool("PPROF_ENABLED", false),
		PProfPort:     getEnvInt("PPROF_PORT", 6060),
		PProfBindAddr: getEnvString("PPROF_BIND_ADDR", "127.0.0.1"),

		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", defaultMetricPort),

		APIKeyEnabled: getEnvBool("API_KEY_ENABLED", false),
		APIKey:        getEnvString("API_KEY", ""),

		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 120),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),

		SiteFixesPath:      getEnvString("SITE_FIXES_PATH", ""),
		SiteFixesHotReload: getEnvBool("SITE_FIXES_HOT_RELOAD", false),

		TUIEnabled: getEnvBool("TUI_ENABLED", false),
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Int("default", defaultPort).Msg("Invalid port, using default")
		c.Port = defaultPort
	}

	c.BrowserPath = validatePath("BROWSER_PATH", c.BrowserPath)
	c.StorePath = validatePath("STORE_PATH", c.StorePath)
	c.SiteFixesPath = validatePath("SITE_FIXES_PATH", c.SiteFixesPath)

	if c.MaxSessions < 1 {
		log.Warn().Int("max", c.MaxSessions).Msg("Invalid max sessions, using 8")
		c.MaxSessions = 8
	} else if c.MaxSessions > maxMaxSessions {
		log.Warn().
			Int("sessions", c.MaxSessions).
			Int("max", maxMaxSessions).
			Msg("Max sessions too high, capping to maximum")
		c.MaxSessions = maxMaxSessions
	}

	if len(c.StartURLs) > c.MaxSessions {
		log.Warn().
			Int("start_urls", len(c.StartURLs)).
			Int("max_sessions", c.MaxSessions).
			Msg("More START_URLS than MAX_SESSIONS, extra URLs will be ignored")
		c.StartURLs = c.StartURLs[:c.MaxSessions]
	}

	if c.NavigateWait < minNavigateWait {
		c.NavigateWait = minNavigateWait
	} else if c.NavigateWait > maxNavigateWait {
		log.Warn().Dur("wait", c.NavigateWait).Dur("max", maxNavigateWait).Msg("Navigate wait too long, capping")
		c.NavigateWait = maxNavigateWait
	}

	// MaxTimeout first so DefaultTimeout can be clamped against it
	if c.MaxTimeout < time.Second {
		log.Warn().Dur("timeout", c.MaxTimeout).Msg("Max timeout too short, using 120s")
		c.MaxTimeout = 120 * time.Second
	}
	if c.MaxTimeout > maxTimeout {
		log.Warn().
			Dur("timeout", c.MaxTimeout).
			Dur("max", maxTimeout).
			Msg("Max timeout too high, capping to maximum")
		c.MaxTimeout = maxTimeout
	}
	if c.DefaultTimeout < time.Second {
		log.Warn().Dur("timeout", c.DefaultTimeout).Msg("Default timeout too short, using 30s")
		c.DefaultTimeout = 30 * time.Second
	}
	if c.DefaultTimeout > c.MaxTimeout {
		log.Warn().
			Dur("default", c.DefaultTimeout).
			Dur("max", c.MaxTimeout).
			Msg("Default timeout exceeds max timeout, adjusting to max")
		c.DefaultTimeout = c.MaxTimeout
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		log.Warn().Str("format", c.LogFormat).Msg("Invalid log format, using 'console'")
		c.LogFormat = "console"
	}

	if c.PProfEnabled && c.PProfBindAddr != "127.0.0.1" && c.PProfBindAddr != "localhost" {
		log.Warn().
			Str("addr", c.PProfBindAddr).
			Msg("WARNING: pprof exposed on non-localhost address - this is a security risk")
	}

	if c.Host != "127.0.0.1" && c.Host != "localhost" && !c.APIKeyEnabled {
		log.Warn().
			Str("host", c.Host).
			Msg("Control API bound to a non-local address without API_KEY_ENABLED")
	}

	if c.RateLimitEnabled && c.RateLimitRPM < 1 {
		log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 120 requests per minute")
		c.RateLimitRPM = 120
	}

	c.resolvePortConflicts()

	if c.SiteFixesHotReload && c.SiteFixesPath == "" {
		log.Warn().Msg("SITE_FIXES_HOT_RELOAD enabled but SITE_FIXES_PATH not set - hot-reload disabled")
		c.SiteFixesHotReload = false
	}
	if c.SiteFixesHotReload {
		if _, err := os.Stat(c.SiteFixesPath); os.IsNotExist(err) {
			log.Warn().
				Str("path", c.SiteFixesPath).
				Msg("SiteFixesPath does not exist - hot-reload will watch for file creation")
		}
	}

	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		}
	}

	if c.TUIEnabled && c.LogFormat == "console" {
		log.Info().Msg("TUI enabled, console logs will interleave with the control panel")
	}
}

// resolvePortConflicts moves optional servers off ports already taken.
func (c *Config) resolvePortConflicts() {
	used := make(map[int]string)
	if c.Port > 0 {
		used[c.Port] = "PORT"
	}

	bump := func(name string, port *int, enabled *bool) {
		if !*enabled {
			return
		}
		existing, taken := used[*port]
		if !taken {
			used[*port] = name
			return
		}
		log.Error().
			Int("port", *port).
			Str("conflicts_with", existing).
			Msg(name + " conflicts with another port, adjusting")
		for used[*port] != "" {
			*port++
			if *port > 65535 {
				log.Warn().Str("setting", name).Msg("Could not find an available port, disabling")
				*enabled = false
				return
			}
		}
		used[*port] = name
	}

	bump("PROMETHEUS_PORT", &c.PrometheusPort, &c.PrometheusEnabled)
	bump("PPROF_PORT", &c.PProfPort, &c.PProfEnabled)
}

// validatePath rejects traversal sequences and warns on relative paths.
func validatePath(name, path string) string {
	if path == "" {
		return ""
	}
	if strings.Contains(path, "..") {
		log.Error().
			Str("setting", name).
			Str("path", path).
			Msg("Path contains traversal sequence (..), ignoring")
		return ""
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "C:") && !strings.HasPrefix(path, "c:") {
		log.Warn().
			Str("setting", name).
			Str("path", path).
			Msg("Path should be absolute")
	}
	return path
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
