// Package config loads and validates the AutoThreat backend configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AT_ prefix (e.g., AT_DATABASE_HOST
// overrides database.host in the YAML). The same binary therefore runs with a
// config.yaml in local development and with pure environment variables in
// containerized deployments.
//
// The JWT signing secret is deliberately NOT part of this struct. It is read
// from AT_JWT_SECRET by the auth package at startup so the secret never travels
// through config unmarshaling or accidental config dumps.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Vulndb    VulndbConfig    `mapstructure:"vulndb"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the host:port string the HTTP server listens on
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig holds the connection settings for the rate-limit counter store.
// An empty Addr means Redis is not configured; the rate limiter then requires
// the in-memory ledger (single-node only).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig holds artifact storage backend configuration
type StorageConfig struct {
	// DefaultBackend selects the artifact store: "local", "s3", "gcs", or "azure".
	DefaultBackend string             `mapstructure:"default_backend"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is an optional S3-compatible endpoint URL (MinIO, DigitalOcean Spaces, ...)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod: "default" (AWS credential chain), "static", or "assume_role"
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	// CredentialsFile points at a service account JSON key; empty means
	// Application Default Credentials.
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTExpiry is the lifetime of locally issued session tokens
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
	OIDC      OIDCConfig    `mapstructure:"oidc"`
}

// OIDCConfig holds the trusted external identity provider. Tokens are verified
// against the provider's published JWKS; issuer and audience must both match.
type OIDCConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IssuerURL string `mapstructure:"issuer_url"`
	Audience  string `mapstructure:"audience"`
}

// RateLimitConfig holds the two-layer rate limiting policy: a coarse per-IP
// limit across all endpoints and fine per-(user, endpoint) limits.
type RateLimitConfig struct {
	// Backend selects the counter store: "redis" (multi-instance, atomic) or
	// "memory" (single node, dev).
	Backend string `mapstructure:"backend"`
	// Window is the counting window length shared by all fine-grained limits.
	Window time.Duration `mapstructure:"window"`
	// IPLimit is the per-IP request budget per window across all endpoints.
	IPLimit int `mapstructure:"ip_limit"`
	// Endpoints maps endpoint names to per-identity request budgets per window.
	Endpoints map[string]int `mapstructure:"endpoints"`
}

const defaultEndpointLimit = 60

// LimitFor returns the per-identity budget for an endpoint name, or the
// fallback default when the endpoint has no explicit entry.
func (r *RateLimitConfig) LimitFor(endpoint string) int {
	if limit, ok := r.Endpoints[endpoint]; ok {
		return limit
	}
	return defaultEndpointLimit
}

// VulndbConfig holds the vulnerability correlation settings
type VulndbConfig struct {
	// BaseURL of the OSV API; overridable for tests and mirrors.
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds the whole correlation call for one sync.
	Timeout time.Duration `mapstructure:"timeout"`
	// Disabled skips correlation entirely (findings count 0).
	Disabled bool `mapstructure:"disabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// Load reads configuration from the given path (or the default search paths)
// and overlays AT_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/autothreat")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment variables only.
	}

	v.SetEnvPrefix("AT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not cooperate with Unmarshal for nested keys, so every
	// key that may come from the environment is bound explicitly.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "autothreat")
	v.SetDefault("database.user", "autothreat")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./data/sboms")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.auth_method", "")
	v.SetDefault("storage.s3.role_session_name", "autothreat-backend")

	v.SetDefault("auth.jwt_expiry", "1h")
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.issuer_url", "")
	v.SetDefault("auth.oidc.audience", "")

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.ip_limit", 100)
	v.SetDefault("rate_limit.endpoints", map[string]int{
		"tokens:list":    10,
		"tokens:create":  5,
		"tokens:delete":  10,
		"sbom:sync":      30,
		"projects:write": 30,
	})

	v.SetDefault("vulndb.base_url", "https://api.osv.dev")
	v.SetDefault("vulndb.timeout", "20s")
	v.SetDefault("vulndb.disabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"server.host", "server.port", "server.base_url",
		"server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode",
		"database.max_connections", "database.min_idle_connections",
		"redis.addr", "redis.password", "redis.db",
		"storage.default_backend", "storage.local.base_path",
		"storage.s3.endpoint", "storage.s3.region", "storage.s3.bucket",
		"storage.s3.auth_method", "storage.s3.access_key_id",
		"storage.s3.secret_access_key", "storage.s3.role_arn",
		"storage.s3.role_session_name", "storage.s3.external_id",
		"storage.gcs.bucket", "storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.azure.account_name", "storage.azure.account_key",
		"storage.azure.container_name",
		"auth.jwt_expiry",
		"auth.oidc.enabled", "auth.oidc.issuer_url", "auth.oidc.audience",
		"rate_limit.backend", "rate_limit.window", "rate_limit.ip_limit",
		"vulndb.base_url", "vulndb.timeout", "vulndb.disabled",
		"logging.level", "logging.format",
		"telemetry.metrics.enabled", "telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// expandEnv resolves ${VAR} references so secrets can be injected indirectly
// (e.g. database.password: ${DB_PASSWORD_FROM_VAULT}).
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	}
	return value
}

// Validate checks the configuration for inconsistencies that would otherwise
// surface as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Storage.DefaultBackend {
	case "local", "s3", "gcs", "azure":
	default:
		return fmt.Errorf("storage.default_backend must be 'local', 's3', 'gcs', or 'azure', got %q", c.Storage.DefaultBackend)
	}

	if c.Storage.DefaultBackend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when the s3 backend is selected")
	}
	if c.Storage.DefaultBackend == "gcs" && c.Storage.GCS.Bucket == "" {
		return fmt.Errorf("storage.gcs.bucket is required when the gcs backend is selected")
	}
	if c.Storage.DefaultBackend == "azure" && (c.Storage.Azure.AccountName == "" || c.Storage.Azure.ContainerName == "") {
		return fmt.Errorf("storage.azure.account_name and storage.azure.container_name are required when the azure backend is selected")
	}

	switch c.RateLimit.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when rate_limit.backend is 'redis'")
		}
	case "memory":
	default:
		return fmt.Errorf("rate_limit.backend must be 'redis' or 'memory', got %q", c.RateLimit.Backend)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.IPLimit <= 0 {
		return fmt.Errorf("rate_limit.ip_limit must be positive, got %d", c.RateLimit.IPLimit)
	}

	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.Audience == "" {
			return fmt.Errorf("auth.oidc.audience is required when OIDC is enabled")
		}
	}

	return nil
}
