// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// ConfigFileEnv names the variable holding the optional YAML file path.
const ConfigFileEnv = "MAXY_CONFIG"

// Backend providers.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderSupabase = "supabase"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Backend   BackendConfig        `yaml:"backend"`
	Supabase  SupabaseConfig       `yaml:"supabase"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Auth      AuthConfig           `yaml:"auth"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Janitor   JanitorConfig        `yaml:"janitor"`
	Logging   logger.LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"PORT"`
	// PublicURL is the externally visible base URL, used for self-served
	// media links.
	PublicURL      string        `yaml:"public_url" env:"PUBLIC_URL"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"` // semicolon separated
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	// MaxUploadBytes caps multipart message uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY"`
	// AuditLogPath, when set, appends account audit entries as JSON lines.
	AuditLogPath string `yaml:"audit_log_path" env:"AUDIT_LOG_PATH"`
}

// BackendConfig selects the provider behind the backend handle.
type BackendConfig struct {
	Provider string `yaml:"provider" env:"BACKEND_PROVIDER"`
}

// SupabaseConfig holds hosted project settings.
type SupabaseConfig struct {
	URL        string `yaml:"url" env:"SUPABASE_URL"`
	AnonKey    string `yaml:"anon_key" env:"SUPABASE_ANON_KEY"`
	ServiceKey string `yaml:"service_key" env:"SUPABASE_SERVICE_KEY"`
	Bucket     string `yaml:"bucket" env:"SUPABASE_BUCKET"`
	Schema     string `yaml:"schema" env:"SUPABASE_SCHEMA"`
	Realtime   bool   `yaml:"realtime" env:"SUPABASE_REALTIME"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"` // seconds
	Migrate         bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// RedisConfig enables cross-process change notifications when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// AuthConfig configures the built-in token issuer used by the memory and
// postgres providers.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool `yaml:"cookie_secure" env:"COOKIE_SECURE"`
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// JanitorConfig schedules background cleanup.
type JanitorConfig struct {
	Schedule string `yaml:"schedule" env:"JANITOR_SCHEDULE"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxUploadBytes: 25 << 20,
		},
		Backend:  BackendConfig{Provider: ProviderMemory},
		Supabase: SupabaseConfig{Bucket: "media", Schema: "public", Realtime: true},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			Migrate:         true,
		},
		Auth:      AuthConfig{TokenTTL: 24 * time.Hour},
		RateLimit: RateLimitConfig{Enabled: true, RequestsPerSecond: 20, Burst: 40},
		Janitor:   JanitorConfig{Schedule: "@every 10m"},
		Logging:   logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: "maxy"},
	}
}

// Load reads .env (when present), the YAML file named by MAXY_CONFIG (when
// set) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads defaults overlaid with the YAML file at path, ignoring the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate normalizes the configuration and rejects values the service
// cannot start with. Missing provider credentials are not an error here: the
// provider layer degrades instead.
func (c *Config) Validate() error {
	c.Backend.Provider = strings.ToLower(strings.TrimSpace(c.Backend.Provider))
	switch c.Backend.Provider {
	case "":
		c.Backend.Provider = ProviderMemory
	case ProviderMemory, ProviderPostgres, ProviderSupabase:
	default:
		return fmt.Errorf("backend provider %q is not supported", c.Backend.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token_ttl must be positive")
	}
	if c.Server.PublicURL == "" {
		host := c.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		c.Server.PublicURL = "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
	}
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")
	return nil
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
