package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Env      string         `env:"APP_ENV" envDefault:"dev"`
	Server   ServerConfig   `envPrefix:""`
	Database DatabaseConfig `envPrefix:"DB_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Auth     AuthConfig     `envPrefix:"AUTH_"`
	Grants   GrantsConfig   `envPrefix:"GRANTS_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	Ingest   IngestConfig   `envPrefix:"INGEST_"`
	Search   SearchConfig   `envPrefix:"SEARCH_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
	Tracing  TracingConfig  `envPrefix:"OTEL_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	// PublicBaseURL prefixes local-mode callback URLs, e.g. http://localhost:8080.
	PublicBaseURL      string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `env:"URL"` // if set, used as-is
	Host            string        `env:"HOST" envDefault:"localhost"`
	Port            string        `env:"PORT" envDefault:"5432"`
	User            string        `env:"USER" envDefault:"postgres"`
	Password        string        `env:"PASSWORD" envDefault:"postgres"`
	Name            string        `env:"NAME" envDefault:"data_viewer"`
	SSLMode         string        `env:"SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"30m"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables rate limiting.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// AuthConfig verifies identity tokens minted by the external auth layer.
type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-identity-secret"`
	Issuer    string        `env:"JWT_ISSUER"`
	DevTTL    time.Duration `env:"DEV_TOKEN_TTL" envDefault:"24h"`
}

// GrantsConfig controls signed upload and read grants.
type GrantsConfig struct {
	Secret    string        `env:"SECRET" envDefault:"dev-grant-secret"`
	ReadTTL   time.Duration `env:"READ_TTL" envDefault:"5m"`
	UploadTTL time.Duration `env:"UPLOAD_TTL" envDefault:"5m"`
	CacheSize int           `env:"CACHE_SIZE" envDefault:"10000"`
	CacheSkew time.Duration `env:"CACHE_MIN_REMAINING" envDefault:"60s"`
}

// StorageConfig selects the object storage backend.
type StorageConfig struct {
	Backend  string `env:"BACKEND" envDefault:"local"`
	LocalDir string `env:"LOCAL_DIR" envDefault:"./data/assets"`

	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3UsePathStyle    bool   `env:"S3_USE_PATH_STYLE"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`

	GCSBucket          string `env:"GCS_BUCKET"`
	GCSCredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// IngestConfig gates the ingest API.
type IngestConfig struct {
	Enabled              bool `env:"ENABLED" envDefault:"true"`
	RateLimitPerMinute   int  `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	MaxFilesPerBatch     int  `env:"MAX_FILES_PER_BATCH" envDefault:"500"`
	ReconcileConcurrency int  `env:"RECONCILE_CONCURRENCY" envDefault:"8"`
}

// SearchConfig picks the free-text matcher: "ilike" or "fts".
type SearchConfig struct {
	Mode string `env:"MODE" envDefault:"ilike"`
}

// MetricsConfig guards /metrics. An empty Secret leaves it open.
type MetricsConfig struct {
	Secret string `env:"SECRET"`
}

// TracingConfig configures OTLP export.
type TracingConfig struct {
	ServiceName string  `env:"SERVICE_NAME" envDefault:"data-viewer"`
	Endpoint    string  `env:"EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `env:"EXPORTER_OTLP_INSECURE"`
	SampleRatio float64 `env:"SAMPLER_RATIO" envDefault:"1"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (DB_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// IsDev reports whether the process runs in the dev environment.
func (c *Config) IsDev() bool {
	return c.Env == "" || c.Env == "dev"
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would be unsafe or unusable.
func (c *Config) Validate() error {
	var errs []error
	if !c.IsDev() {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-identity-secret" {
			errs = append(errs, errors.New("AUTH_JWT_SECRET must be set outside dev"))
		}
		if c.Grants.Secret == "" || c.Grants.Secret == "dev-grant-secret" {
			errs = append(errs, errors.New("GRANTS_SECRET must be set outside dev"))
		}
	}
	if c.Grants.ReadTTL < time.Minute || c.Grants.ReadTTL > 5*time.Minute {
		errs = append(errs, fmt.Errorf("GRANTS_READ_TTL must be between 1m and 5m, got %s", c.Grants.ReadTTL))
	}
	if c.Grants.UploadTTL < time.Minute || c.Grants.UploadTTL > 5*time.Minute {
		errs = append(errs, fmt.Errorf("GRANTS_UPLOAD_TTL must be between 1m and 5m, got %s", c.Grants.UploadTTL))
	}
	switch c.Storage.Backend {
	case "local", "s3", "gcs":
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be local, s3 or gcs, got %q", c.Storage.Backend))
	}
	switch strings.ToLower(c.Search.Mode) {
	case "ilike", "fts":
	default:
		errs = append(errs, fmt.Errorf("SEARCH_MODE must be ilike or fts, got %q", c.Search.Mode))
	}
	return errors.Join(errs...)
}
