// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Models       []ModelConfig      `yaml:"models" validate:"required,min=1,dive"`
	Backend      BackendConfig      `yaml:"backend"`
	Cache        CacheConfig        `yaml:"cache"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	Health       HealthConfig       `yaml:"health"`
	Storage      StorageConfig      `yaml:"storage"`
	Usage        UsageConfig        `yaml:"usage"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Logging      LogConfig          `yaml:"logging"`
	HTTP         HTTPConfig         `yaml:"http"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port" env:"PORT" validate:"required"`
	// MasterKey protects the API. Empty runs in unsafe mode.
	MasterKey string `yaml:"master_key" env:"INFERGATE_MASTER_KEY"`
	// MasterKeySecret names a secret holding the master key. Takes precedence
	// over MasterKey and is re-read through the secret cache on every request.
	MasterKeySecret string `yaml:"master_key_secret" env:"INFERGATE_MASTER_KEY_SECRET"`
	BodySizeLimit   string `yaml:"body_size_limit" env:"BODY_SIZE_LIMIT"`
	// SwaggerEnabled serves the API docs under /swagger/
	SwaggerEnabled bool `yaml:"swagger_enabled" env:"SWAGGER_ENABLED"`
	// AdminEndpointsEnabled serves the usage reports under /admin/api/v1.
	// They need usage tracking and answer with empty reports without it.
	AdminEndpointsEnabled bool `yaml:"admin_endpoints_enabled" env:"ADMIN_ENDPOINTS_ENABLED"`
}

// OrchestratorConfig holds defaults applied to chat requests
type OrchestratorConfig struct {
	DefaultMaxTokens   int     `yaml:"default_max_tokens" env:"DEFAULT_MAX_TOKENS" validate:"gt=0"`
	DefaultTemperature float64 `yaml:"default_temperature" env:"DEFAULT_TEMPERATURE" validate:"gte=0,lte=2"`
	DefaultTopP        float64 `yaml:"default_top_p" env:"DEFAULT_TOP_P" validate:"gte=0,lte=1"`
	// TokenEstimator is one of "chars", "words" or "tiktoken"
	TokenEstimator string `yaml:"token_estimator" env:"TOKEN_ESTIMATOR" validate:"oneof=chars words tiktoken"`
}

// ModelConfig describes one entry of the model catalog
type ModelConfig struct {
	ID               string  `yaml:"id" validate:"required,ne=auto"`
	ContextLength    int     `yaml:"context_length" validate:"gt=0"`
	PricePer1KTokens float64 `yaml:"price_per_1k_tokens" validate:"gte=0"`
	Priority         int     `yaml:"priority"`
	OwnedBy          string  `yaml:"owned_by"`
	Created          int64   `yaml:"created"`
	BackendURL       string  `yaml:"backend_url" validate:"omitempty,url"`
}

// BackendConfig holds inference backend client configuration
type BackendConfig struct {
	BaseURL string `yaml:"base_url" env:"INFERENCE_BACKEND_URL" validate:"required,url"`
	// APIKeySecret is the secret name of the internal service key
	APIKeySecret   string               `yaml:"api_key_secret" env:"BACKEND_API_KEY_SECRET"`
	HealthPath     string               `yaml:"health_path"`
	MaxRetries     int                  `yaml:"max_retries" env:"BACKEND_MAX_RETRIES" validate:"gte=0"`
	InitialBackoff time.Duration        `yaml:"initial_backoff"`
	MaxBackoff     time.Duration        `yaml:"max_backoff"`
	BackoffFactor  float64              `yaml:"backoff_factor" validate:"gte=1"`
	BackoffJitter  float64              `yaml:"backoff_jitter" validate:"gte=0,lte=1"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-model circuit breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"gt=0"`
	Timeout          time.Duration `yaml:"timeout"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	// Type is one of "memory", "redis", "mongodb", "sqlite", "postgresql" or "disabled"
	Type string `yaml:"type" env:"CACHE_TYPE" validate:"oneof=memory redis mongodb sqlite postgresql disabled"`
	// TTL is the application-level entry lifetime in seconds
	TTL int `yaml:"ttl" env:"CACHE_TTL" validate:"gt=0"`
	// StoreTTL is the storage-level reclamation backstop in seconds
	StoreTTL         int         `yaml:"store_ttl" env:"CACHE_STORE_TTL" validate:"gt=0"`
	Compression      bool        `yaml:"compression" env:"CACHE_COMPRESSION"`
	CompressMinBytes int         `yaml:"compress_min_bytes" validate:"gte=0"`
	CollapseInflight bool        `yaml:"collapse_inflight" env:"CACHE_COLLAPSE_INFLIGHT"`
	Redis            RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific cache configuration
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
	Key string `yaml:"key" env:"REDIS_KEY_PREFIX"`
}

// SecretsConfig holds secret store configuration
type SecretsConfig struct {
	// Type is one of "keyvault", "env" or "file"
	Type      string `yaml:"type" env:"SECRETS_TYPE" validate:"oneof=keyvault env file"`
	VaultName string `yaml:"vault_name" env:"KEY_VAULT_NAME"`
	VaultURL  string `yaml:"vault_url" env:"KEY_VAULT_URL" validate:"omitempty,url"`
	Dir       string `yaml:"dir" env:"SECRETS_DIR"`
	// CacheTTL bounds how long a resolved secret is served from memory
	CacheTTL time.Duration `yaml:"cache_ttl" env:"SECRETS_CACHE_TTL" validate:"gt=0"`
	// EnvFallback consults environment variables when the primary store
	// reports a secret as missing
	EnvFallback bool `yaml:"env_fallback" env:"SECRETS_ENV_FALLBACK"`
}

// HealthConfig holds dependency probe configuration
type HealthConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"HEALTH_PROBE_TIMEOUT" validate:"gt=0"`
	// Interval is the orchestrator's probe period; probes must finish well inside it
	Interval         time.Duration `yaml:"interval" validate:"gt=0"`
	MinProbeInterval time.Duration `yaml:"min_probe_interval" env:"HEALTH_MIN_PROBE_INTERVAL" validate:"gte=0"`
	CheckBackend     bool          `yaml:"check_backend" env:"HEALTH_CHECK_BACKEND"`
}

// StorageConfig holds shared database configuration
type StorageConfig struct {
	Type       string           `yaml:"type" env:"STORAGE_TYPE" validate:"oneof=sqlite postgresql mongodb"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url" env:"POSTGRES_URL"`
	MaxConns int    `yaml:"max_conns" env:"POSTGRES_MAX_CONNS"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url" env:"COSMOS_MONGO_URL"`
	Database string `yaml:"database" env:"MONGODB_DATABASE"`
}

// UsageConfig holds per-request usage record configuration
type UsageConfig struct {
	Enabled       bool          `yaml:"enabled" env:"USAGE_ENABLED"`
	BufferSize    int           `yaml:"buffer_size" validate:"gt=0"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
	RetentionDays int           `yaml:"retention_days" env:"USAGE_RETENTION_DAYS" validate:"gte=0"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Endpoint string `yaml:"endpoint" env:"METRICS_ENDPOINT"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"TRACING_ENABLED"`
	Exporter    string `yaml:"exporter" env:"TRACING_EXPORTER" validate:"oneof=stdout noop"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// LogConfig holds application log configuration
type LogConfig struct {
	// Format is "json", "pretty" or empty to pick by terminal detection
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"omitempty,oneof=json pretty"`
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// HTTPConfig holds outbound HTTP client timeouts in seconds
type HTTPConfig struct {
	// Timeout bounds a non-streaming backend call, retries included.
	// Streams are only bounded by ResponseHeaderTimeout and the client.
	Timeout               int `yaml:"timeout" env:"HTTP_TIMEOUT" validate:"gt=0"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout" env:"HTTP_RESPONSE_HEADER_TIMEOUT" validate:"gt=0"`
}

// LoadResult is the outcome of Load
type LoadResult struct {
	Config *Config
	// Path is the config file that was read, empty when none was found
	Path string
}

// defaultPaths are searched when no explicit config path is given
var defaultPaths = []string{"config/config.yaml", "config.yaml"}

// Load reads configuration from the path in INFERGATE_CONFIG or the default
// locations, then applies environment overrides.
func Load() (*LoadResult, error) {
	return LoadFile(os.Getenv("INFERGATE_CONFIG"))
}

// LoadFile reads configuration from path. An empty path searches the default
// locations; a missing default file is not an error, a missing explicit one is.
func LoadFile(path string) (*LoadResult, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()
	used, err := readConfigFile(cfg, path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &LoadResult{Config: cfg, Path: used}, nil
}

func readConfigFile(cfg *Config, path string) (string, error) {
	candidates := defaultPaths
	explicit := path != ""
	if explicit {
		candidates = []string{path}
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && !explicit {
				continue
			}
			return "", fmt.Errorf("failed to read config file %s: %w", p, err)
		}

		// Placeholders are expanded before parsing so that defaults work for
		// every scalar type, not only strings.
		expanded := expandString(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

// buildDefaultConfig returns the configuration used when nothing is set.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                  "8080",
			BodySizeLimit:         "10M",
			AdminEndpointsEnabled: true,
		},
		Orchestrator: OrchestratorConfig{
			DefaultMaxTokens:   256,
			DefaultTemperature: 1.0,
			DefaultTopP:        1.0,
			TokenEstimator:     "chars",
		},
		Models: DefaultModels(),
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8000",
			APIKeySecret:   "internal-service-key",
			HealthPath:     "/health",
			MaxRetries:     2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			BackoffFactor:  2.0,
			BackoffJitter:  0.1,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Cache: CacheConfig{
			Type:             "memory",
			TTL:              3600,
			StoreTTL:         86400,
			CompressMinBytes: 1024,
			Redis: RedisConfig{
				Key: "infergate:cache:",
			},
		},
		Secrets: SecretsConfig{
			Type:        "env",
			Dir:         "/mnt/secrets-store",
			CacheTTL:    5 * time.Minute,
			EnvFallback: true,
		},
		Health: HealthConfig{
			ProbeTimeout: 3 * time.Second,
			Interval:     30 * time.Second,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "data/infergate.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "inferencecache",
			},
		},
		Usage: UsageConfig{
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "infergate",
		},
		Logging: LogConfig{
			Level: "info",
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
	}
}

// DefaultModels is the catalog served when the config file defines none.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{ID: "mixtral-8x7b", ContextLength: 32768, PricePer1KTokens: 0.002, Priority: 1, OwnedBy: "mistralai", Created: 1700000000},
		{ID: "llama-3-70b", ContextLength: 8192, PricePer1KTokens: 0.003, Priority: 2, OwnedBy: "meta", Created: 1700000000},
		{ID: "phi-3-mini", ContextLength: 4096, PricePer1KTokens: 0.0005, Priority: 0, OwnedBy: "microsoft", Created: 1700000000},
	}
}

// applyEnvOverrides overlays environment variables on cfg. Fields whose
// variable is unset keep their current value.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Models))
	for _, m := range cfg.Models {
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("invalid configuration: duplicate model id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}

	if cfg.Health.ProbeTimeout >= cfg.Health.Interval {
		return fmt.Errorf("invalid configuration: health.probe_timeout (%s) must be shorter than health.interval (%s)",
			cfg.Health.ProbeTimeout, cfg.Health.Interval)
	}

	if cfg.Cache.Type == "redis" && cfg.Cache.Redis.URL == "" {
		return errors.New("invalid configuration: cache.redis.url is required for the redis cache")
	}
	if cfg.Secrets.Type == "keyvault" && cfg.Secrets.VaultURL == "" && cfg.Secrets.VaultName == "" {
		return errors.New("invalid configuration: secrets.vault_name or secrets.vault_url is required for keyvault")
	}

	needsStore := func(kind string) bool {
		return cfg.Cache.Type == kind || (cfg.Usage.Enabled && cfg.Storage.Type == kind)
	}
	if needsStore("postgresql") && cfg.Storage.PostgreSQL.URL == "" {
		return errors.New("invalid configuration: storage.postgresql.url is required")
	}
	if needsStore("mongodb") && cfg.Storage.MongoDB.URL == "" {
		return errors.New("invalid configuration: storage.mongodb.url is required")
	}
	return nil
}

// placeholder matches ${VAR} and ${VAR:-default}
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} with the value of VAR and ${VAR:-default} with
// the value or the default when VAR is unset or empty. ${VAR} without a
// default is left untouched when VAR is unset or empty.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}
