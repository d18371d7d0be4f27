package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Storage     StorageConfig   `yaml:"storage"`
	Auth        AuthConfig      `yaml:"auth"`
	Redis       RedisConfig     `yaml:"redis"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	CORS        CORSConfig      `yaml:"cors"`
	Workers     WorkersConfig   `yaml:"workers"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Logging     LoggingConfig   `yaml:"logging"`
	Environment string          `yaml:"environment"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	MinConnections int    `yaml:"min_connections"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type StorageConfig struct {
	// Driver is "postgres" or "memory". Empty picks postgres when a database
	// URL is configured.
	Driver string `yaml:"driver"`
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTExpiry    time.Duration `yaml:"jwt_expiry"`
	Issuer       string        `yaml:"issuer"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
}

type RateLimitConfig struct {
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

// CORSConfig lists the browser origins allowed to call the API with
// credentials. AllowAllOrigins is only honoured outside production.
type CORSConfig struct {
	AllowAllOrigins bool     `yaml:"allow_all_origins"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

type WorkersConfig struct {
	// Count overrides the CPU-derived pool size when positive.
	Count             int           `yaml:"count"`
	MemoryPerWorkerMB int           `yaml:"memory_per_worker_mb"`
	MemoryTotalMB     int           `yaml:"memory_total_mb"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	RestartInitial    time.Duration `yaml:"restart_initial"`
	RestartMax        time.Duration `yaml:"restart_max"`
	MaxCrashes        int           `yaml:"max_crashes"`
	CrashWindow       time.Duration `yaml:"crash_window"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			MaxConnections: 10,
			MinConnections: 1,
		},
		Auth: AuthConfig{
			JWTExpiry: 24 * time.Hour,
			Issuer:    "eventboard",
		},
		Redis: RedisConfig{
			Namespace: "eventboard",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             30,
		},
		Workers: WorkersConfig{
			MemoryPerWorkerMB: 512,
			DrainTimeout:      15 * time.Second,
			RestartInitial:    100 * time.Millisecond,
			RestartMax:        10 * time.Second,
			MaxCrashes:        5,
			CrashWindow:       time.Minute,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "eventboard",
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Environment: "development",
	}
}

// Load builds the configuration from defaults, the optional YAML file at path,
// a .env file in the working directory and the process environment, in that
// order of increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
		if cfg.Database.URL != "" {
			cfg.Storage.Driver = DriverPostgres
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	if c.IsProduction() && c.CORS.AllowAllOrigins {
		return fmt.Errorf("CORS_ALLOW_ALL is not allowed in production")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	if c.Workers.MemoryPerWorkerMB <= 0 {
		return fmt.Errorf("WORKER_MEMORY_MB must be positive")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// ExposeErrors reports whether internal error messages may be returned to
// clients.
func (c Config) ExposeErrors() bool {
	return c.Environment == "development" || c.Environment == "test"
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func applyEnv(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	setString(&cfg.Server.Host, "SERVER_HOST")
	collect(setInt(&cfg.Server.Port, "SERVER_PORT"))
	collect(setDuration(&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT"))
	collect(setDuration(&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT"))
	collect(setInt64(&cfg.Server.MaxBodyBytes, "SERVER_MAX_BODY_BYTES"))

	setString(&cfg.Database.URL, "DATABASE_URL")
	collect(setInt(&cfg.Database.MaxConnections, "DATABASE_MAX_CONNECTIONS"))
	collect(setInt(&cfg.Database.MinConnections, "DATABASE_MIN_CONNECTIONS"))
	collect(setBool(&cfg.Database.MigrateOnStart, "DATABASE_MIGRATE"))
	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	if hours := os.Getenv("JWT_EXPIRY_HOURS"); hours != "" {
		parsed, err := strconv.Atoi(hours)
		if err != nil || parsed <= 0 {
			collect(fmt.Errorf("JWT_EXPIRY_HOURS must be a positive integer, got %q", hours))
		} else {
			cfg.Auth.JWTExpiry = time.Duration(parsed) * time.Hour
		}
	}
	setString(&cfg.Auth.Issuer, "JWT_ISSUER")
	collect(setBool(&cfg.Auth.CookieSecure, "COOKIE_SECURE"))

	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Namespace, "REDIS_NAMESPACE")

	collect(setInt(&cfg.RateLimit.RequestsPerMinute, "RATE_LIMIT_PER_MINUTE"))
	collect(setInt(&cfg.RateLimit.Burst, "RATE_LIMIT_BURST"))
	if cidrs := os.Getenv("TRUSTED_PROXY_CIDRS"); cidrs != "" {
		cfg.RateLimit.TrustedProxyCIDRs = splitList(cidrs)
	}

	collect(setBool(&cfg.CORS.AllowAllOrigins, "CORS_ALLOW_ALL"))
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORS.AllowedOrigins = splitList(origins)
	}

	collect(setInt(&cfg.Workers.Count, "WORKERS"))
	collect(setInt(&cfg.Workers.MemoryPerWorkerMB, "WORKER_MEMORY_MB"))
	collect(setInt(&cfg.Workers.MemoryTotalMB, "MEMORY_TOTAL_MB"))
	collect(setDuration(&cfg.Workers.DrainTimeout, "WORKER_DRAIN_TIMEOUT"))
	collect(setDuration(&cfg.Workers.RestartInitial, "WORKER_RESTART_INITIAL"))
	collect(setDuration(&cfg.Workers.RestartMax, "WORKER_RESTART_MAX"))
	collect(setInt(&cfg.Workers.MaxCrashes, "WORKER_MAX_CRASHES"))
	collect(setDuration(&cfg.Workers.CrashWindow, "WORKER_CRASH_WINDOW"))

	collect(setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED"))
	setString(&cfg.Tracing.Exporter, "TRACING_EXPORTER")
	setString(&cfg.Tracing.ServiceName, "TRACING_SERVICE_NAME")
	setString(&cfg.Tracing.OTLPEndpoint, "OTLP_ENDPOINT")
	collect(setFloat(&cfg.Tracing.SampleRate, "TRACING_SAMPLE_RATE"))

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Environment, "ENVIRONMENT")

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	*dst = parsed
	return nil
}

func setInt64(dst *int64, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	*dst = parsed
	return nil
}

func setBool(dst *bool, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s must be a boolean, got %q", key, value)
	}
	*dst = parsed
	return nil
}

func setFloat(dst *float64, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("%s must be a number, got %q", key, value)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s must be a duration, got %q", key, value)
	}
	*dst = parsed
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
