package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file applied before environment variables
const ConfigFileEnv = "INVOICER_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Observability ObservabilityConfig `yaml:"observability"`
	Demo          DemoConfig          `yaml:"demo"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// CORS origins allowed to send credentials; "*" reflects any origin
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// Trust X-Forwarded-For when deriving client IPs
	TrustProxy bool `yaml:"trust_proxy"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL                string        `yaml:"url"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	QueryStatsCapacity int           `yaml:"query_stats_capacity"`
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds session and identity provider settings
type AuthConfig struct {
	SessionCookieName    string        `yaml:"session_cookie_name"`
	SessionTTL           time.Duration `yaml:"session_ttl"`
	SessionCacheTTL      time.Duration `yaml:"session_cache_ttl"`
	SessionPurgeSchedule string        `yaml:"session_purge_schedule"`
	CookieSecure         bool          `yaml:"cookie_secure"`
	APIKeysEnabled       bool          `yaml:"api_keys_enabled"`
	OIDC                 OIDCConfig    `yaml:"oidc"`
}

// OIDCConfig configures bearer ID-token verification and the login flow
type OIDCConfig struct {
	Enabled           bool     `yaml:"enabled"`
	IssuerURL         string   `yaml:"issuer_url"`
	ClientID          string   `yaml:"client_id"`
	ClientSecret      string   `yaml:"client_secret"`
	RedirectURL       string   `yaml:"redirect_url"`
	Scopes            []string `yaml:"scopes"`
	PostLoginRedirect string   `yaml:"post_login_redirect"`
}

// RateLimitConfig holds the fixed-window limiter settings per limiter type
type RateLimitConfig struct {
	Enabled         bool         `yaml:"enabled"`
	API             WindowConfig `yaml:"api"`
	Auth            WindowConfig `yaml:"auth"`
	Strict          WindowConfig `yaml:"strict"`
	CleanupSchedule string       `yaml:"cleanup_schedule"`
}

// WindowConfig is a request budget per window
type WindowConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// PermissionsConfig controls the permission checker's role cache
type PermissionsConfig struct {
	RoleCacheTTL  time.Duration `yaml:"role_cache_ttl"`
	RoleCacheSize int           `yaml:"role_cache_size"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled       bool   `yaml:"metrics_enabled"`
	StatsSummarySchedule string `yaml:"stats_summary_schedule"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// DemoConfig controls the x-demo-mode bypass. When disabled the header is ignored.
type DemoConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "3001",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:       25,
			MaxIdleConns:       5,
			ConnMaxLifetime:    30 * time.Minute,
			SlowQueryThreshold: time.Second,
			QueryStatsCapacity: 1000,
		},
		Auth: AuthConfig{
			SessionCookieName:    "invoicer.session_token",
			SessionTTL:           7 * 24 * time.Hour,
			SessionCacheTTL:      5 * time.Minute,
			SessionPurgeSchedule: "@hourly",
			CookieSecure:         true,
			APIKeysEnabled:       true,
			OIDC: OIDCConfig{
				Scopes:            []string{"openid", "email", "profile"},
				PostLoginRedirect: "/",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			API:             WindowConfig{Requests: 100, Window: time.Minute},
			Auth:            WindowConfig{Requests: 10, Window: time.Minute},
			Strict:          WindowConfig{Requests: 5, Window: time.Minute},
			CleanupSchedule: "@every 1m",
		},
		Permissions: PermissionsConfig{
			RoleCacheTTL:  30 * time.Second,
			RoleCacheSize: 10000,
		},
		Observability: ObservabilityConfig{
			LogLevel:             "info",
			LogFormat:            "json",
			MetricsEnabled:       true,
			StatsSummarySchedule: "@every 5m",
			OTelEndpoint:         "localhost:4317",
			OTelServiceName:      "invoicer-api",
			OTelServiceVersion:   "1.0.0",
			OTelInsecure:         true,
			OTelSampleRatio:      1.0,
		},
		Demo: DemoConfig{Enabled: true},
	}
}

// LoadConfig loads defaults, then the optional YAML file named by
// INVOICER_CONFIG_FILE, then environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("INVOICER_HOST", s.Host)
	s.Port = getEnv("INVOICER_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("INVOICER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("INVOICER_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("INVOICER_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("INVOICER_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("INVOICER_HEALTH_PORT", s.HealthPort)
	s.CORSAllowedOrigins = getEnvList("INVOICER_CORS_ALLOWED_ORIGINS", s.CORSAllowedOrigins)
	s.TrustProxy = getEnvBool("INVOICER_TRUST_PROXY", s.TrustProxy)

	db := &c.Database
	db.URL = getEnv("INVOICER_DATABASE_URL", db.URL)
	db.MaxOpenConns = getEnvInt("INVOICER_DATABASE_MAX_OPEN_CONNS", db.MaxOpenConns)
	db.MaxIdleConns = getEnvInt("INVOICER_DATABASE_MAX_IDLE_CONNS", db.MaxIdleConns)
	db.ConnMaxLifetime = getEnvDuration("INVOICER_DATABASE_CONN_MAX_LIFETIME", db.ConnMaxLifetime)
	db.SlowQueryThreshold = getEnvDuration("INVOICER_SLOW_QUERY_THRESHOLD", db.SlowQueryThreshold)
	db.QueryStatsCapacity = getEnvInt("INVOICER_QUERY_STATS_CAPACITY", db.QueryStatsCapacity)

	c.Redis.URL = getEnv("INVOICER_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("INVOICER_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("INVOICER_REDIS_DB", c.Redis.DB)

	a := &c.Auth
	a.SessionCookieName = getEnv("INVOICER_SESSION_COOKIE_NAME", a.SessionCookieName)
	a.SessionTTL = getEnvDuration("INVOICER_SESSION_TTL", a.SessionTTL)
	a.SessionCacheTTL = getEnvDuration("INVOICER_SESSION_CACHE_TTL", a.SessionCacheTTL)
	a.SessionPurgeSchedule = getEnv("INVOICER_SESSION_PURGE_SCHEDULE", a.SessionPurgeSchedule)
	a.CookieSecure = getEnvBool("INVOICER_COOKIE_SECURE", a.CookieSecure)
	a.APIKeysEnabled = getEnvBool("INVOICER_API_KEYS_ENABLED", a.APIKeysEnabled)
	a.OIDC.Enabled = getEnvBool("INVOICER_OIDC_ENABLED", a.OIDC.Enabled)
	a.OIDC.IssuerURL = getEnv("INVOICER_OIDC_ISSUER_URL", a.OIDC.IssuerURL)
	a.OIDC.ClientID = getEnv("INVOICER_OIDC_CLIENT_ID", a.OIDC.ClientID)
	a.OIDC.ClientSecret = getEnv("INVOICER_OIDC_CLIENT_SECRET", a.OIDC.ClientSecret)
	a.OIDC.RedirectURL = getEnv("INVOICER_OIDC_REDIRECT_URL", a.OIDC.RedirectURL)
	a.OIDC.Scopes = getEnvList("INVOICER_OIDC_SCOPES", a.OIDC.Scopes)
	a.OIDC.PostLoginRedirect = getEnv("INVOICER_OIDC_POST_LOGIN_REDIRECT", a.OIDC.PostLoginRedirect)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("INVOICER_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.API.Requests = getEnvInt("INVOICER_RATE_LIMIT_API_REQUESTS", rl.API.Requests)
	rl.API.Window = getEnvDuration("INVOICER_RATE_LIMIT_API_WINDOW", rl.API.Window)
	rl.Auth.Requests = getEnvInt("INVOICER_RATE_LIMIT_AUTH_REQUESTS", rl.Auth.Requests)
	rl.Auth.Window = getEnvDuration("INVOICER_RATE_LIMIT_AUTH_WINDOW", rl.Auth.Window)
	rl.Strict.Requests = getEnvInt("INVOICER_RATE_LIMIT_STRICT_REQUESTS", rl.Strict.Requests)
	rl.Strict.Window = getEnvDuration("INVOICER_RATE_LIMIT_STRICT_WINDOW", rl.Strict.Window)
	rl.CleanupSchedule = getEnv("INVOICER_RATE_LIMIT_CLEANUP_SCHEDULE", rl.CleanupSchedule)

	c.Permissions.RoleCacheTTL = getEnvDuration("INVOICER_ROLE_CACHE_TTL", c.Permissions.RoleCacheTTL)
	c.Permissions.RoleCacheSize = getEnvInt("INVOICER_ROLE_CACHE_SIZE", c.Permissions.RoleCacheSize)

	o := &c.Observability
	o.LogLevel = strings.ToLower(getEnv("INVOICER_LOG_LEVEL", o.LogLevel))
	o.LogFormat = strings.ToLower(getEnv("INVOICER_LOG_FORMAT", o.LogFormat))
	o.MetricsEnabled = getEnvBool("INVOICER_METRICS_ENABLED", o.MetricsEnabled)
	o.StatsSummarySchedule = getEnv("INVOICER_STATS_SUMMARY_SCHEDULE", o.StatsSummarySchedule)
	o.OTelEnabled = getEnvBool("INVOICER_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("INVOICER_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("INVOICER_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("INVOICER_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("INVOICER_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("INVOICER_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	c.Demo.Enabled = getEnvBool("INVOICER_DEMO_MODE_ENABLED", c.Demo.Enabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Auth.SessionCookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" || c.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC issuer URL and client ID are required when OIDC is enabled")
		}
		if c.Auth.OIDC.ClientSecret != "" && c.Auth.OIDC.RedirectURL == "" {
			return fmt.Errorf("OIDC redirect URL is required for the login flow")
		}
	}

	if c.RateLimit.Enabled {
		for name, w := range map[string]WindowConfig{
			"api":    c.RateLimit.API,
			"auth":   c.RateLimit.Auth,
			"strict": c.RateLimit.Strict,
		} {
			if w.Requests <= 0 || w.Window <= 0 {
				return fmt.Errorf("rate limit %q needs positive requests and window", name)
			}
		}
	}

	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
