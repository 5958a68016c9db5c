// internal/pkg/config/config.go
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration for the capture API and the
// background worker. Both binaries load the same struct; the worker simply
// ignores the server block.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Asynq    AsynqConfig
	AWS      AWSConfig
	Capture  CaptureConfig
	Security SecurityConfig
	Server   ServerConfig
}

// AppConfig identifies the running process.
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	LogLevel    string
	LogFormat   string
	Debug       bool
}

// DatabaseConfig holds the Postgres pool settings.
type DatabaseConfig struct {
	Host               string `required:"true"`
	Port               string
	User               string
	Password           string
	Name               string `required:"true"`
	SSLMode            string
	MaxConnections     int32
	MinConnections     int32
	MaxConnLifetime    time.Duration
	MaxConnIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
	ConnectTimeout     time.Duration
	EnableQueryLogging bool
	MigrationPath      string
}

// RedisConfig holds the cache connection settings.
type RedisConfig struct {
	Host            string
	Port            string
	Password        string
	DB              int
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	TTL             time.Duration
}

// AsynqConfig holds the task-queue settings.
type AsynqConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	Concurrency     int
	Queues          map[string]int
	StrictPriority  bool
	RetryMax        int
	ShutdownTimeout time.Duration
}

// AWSConfig holds the S3 photo-proof bucket settings. Endpoint and path style
// exist for MinIO deployments.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	S3Endpoint      string
	UsePathStyle    bool
}

// CaptureConfig holds the timing knobs of the count-capture workflow.
type CaptureConfig struct {
	ScanWindow     time.Duration
	ScanLimit      int
	ScanDebounce   time.Duration
	SearchDebounce time.Duration
	LookupCooldown time.Duration
	SubmitRetries  int
	SubmitBackoff  time.Duration
	PhotoCapture   bool
	SessionIdleTTL time.Duration
	SweepInterval  time.Duration
}

// SecurityConfig holds transport-level protections.
type SecurityConfig struct {
	RateLimitRequests int
	RateLimitDuration time.Duration
	AllowedOrigins    []string
	TrustedProxies    []string
	SecureHeaders     bool
	RequestIDHeader   string
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host              string
	Port              string `required:"true"`
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GracefulTimeout   time.Duration
	EnablePprof       bool
	EnableHealthCheck bool
	TLSEnabled        bool
	TLSCertFile       string
	TLSKeyFile        string
}

// Load reads configuration from the environment, overlays secrets in
// production, and validates the result. Development loads a .env file first
// so a laptop needs no exported variables.
func Load(logger *slog.Logger) (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" || env == "local" {
		if err := godotenv.Load(); err != nil {
			logger.Warn("no .env file found, using environment variables",
				slog.String("error", err.Error()))
		} else {
			logger.Info(".env file loaded")
		}
	}

	v := newViper(env)
	cfg := build(v, env)

	if err := overlaySecrets(context.Background(), cfg, logger); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// newViper registers every default so an empty environment still yields a
// runnable development configuration.
func newViper(env string) *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	dev := env == "development"

	defaults := map[string]interface{}{
		"APP_NAME":    "countd-api",
		"APP_VERSION": "dev",
		"LOG_LEVEL":   "debug",
		"LOG_FORMAT":  "json",
		"APP_DEBUG":   dev,

		"DB_HOST":                "localhost",
		"DB_PORT":                "5432",
		"DB_USER":                "countd",
		"DB_PASSWORD":            "countd_dev_2026",
		"DB_NAME":                "countd_capture",
		"DB_SSL_MODE":            "disable",
		"DB_MAX_CONNECTIONS":     25,
		"DB_MIN_CONNECTIONS":     5,
		"DB_CONNECTION_LIFETIME": time.Hour,
		"DB_IDLE_TIME":           30 * time.Minute,
		"DB_HEALTH_CHECK_PERIOD": time.Minute,
		"DB_CONNECT_TIMEOUT":     10 * time.Second,
		"DB_QUERY_LOGGING":       dev,
		"DB_MIGRATION_PATH":      "migrations",

		"REDIS_HOST":              "localhost",
		"REDIS_PORT":              "6379",
		"REDIS_PASSWORD":          "",
		"REDIS_DB":                0,
		"REDIS_MAX_RETRIES":       3,
		"REDIS_MIN_RETRY_BACKOFF": 8 * time.Millisecond,
		"REDIS_MAX_RETRY_BACKOFF": 512 * time.Millisecond,
		"REDIS_DIAL_TIMEOUT":      5 * time.Second,
		"REDIS_READ_TIMEOUT":      3 * time.Second,
		"REDIS_WRITE_TIMEOUT":     3 * time.Second,
		"REDIS_POOL_SIZE":         10,
		"REDIS_MIN_IDLE_CONNS":    2,
		"REDIS_POOL_TIMEOUT":      4 * time.Second,
		"REDIS_TTL":               time.Hour,

		"ASYNQ_REDIS_DB":         0,
		"ASYNQ_CONCURRENCY":      10,
		"ASYNQ_QUEUES":           "critical:6,default:3,low:1",
		"ASYNQ_STRICT_PRIORITY":  false,
		"ASYNQ_RETRY_MAX":        3,
		"ASYNQ_SHUTDOWN_TIMEOUT": 30 * time.Second,

		"AWS_REGION":            "us-east-1",
		"AWS_ACCESS_KEY_ID":     "minioadmin",
		"AWS_SECRET_ACCESS_KEY": "minioadmin123",
		"AWS_S3_BUCKET":         "countd-proofs",
		"AWS_S3_ENDPOINT":       "",
		"AWS_S3_PATH_STYLE":     dev,

		"CAPTURE_SCAN_WINDOW":      15 * time.Second,
		"CAPTURE_SCAN_LIMIT":       5,
		"CAPTURE_SCAN_DEBOUNCE":    1500 * time.Millisecond,
		"CAPTURE_SEARCH_DEBOUNCE":  400 * time.Millisecond,
		"CAPTURE_LOOKUP_COOLDOWN":  2 * time.Second,
		"CAPTURE_SUBMIT_RETRIES":   3,
		"CAPTURE_SUBMIT_BACKOFF":   250 * time.Millisecond,
		"CAPTURE_PHOTO_PROOFS":     true,
		"CAPTURE_SESSION_IDLE_TTL": 12 * time.Hour,
		"CAPTURE_SWEEP_INTERVAL":   10 * time.Minute,

		"RATE_LIMIT_REQUESTS": 100,
		"RATE_LIMIT_DURATION": time.Minute,
		"ALLOWED_ORIGINS":     "*",
		"TRUSTED_PROXIES":     "",
		"SECURE_HEADERS":      env == "production",
		"REQUEST_ID_HEADER":   "X-Request-ID",

		"SERVER_HOST":             "0.0.0.0",
		"SERVER_PORT":             "8080",
		"SERVER_READ_TIMEOUT":     15 * time.Second,
		"SERVER_WRITE_TIMEOUT":    15 * time.Second,
		"SERVER_IDLE_TIMEOUT":     60 * time.Second,
		"SERVER_MAX_HEADER_BYTES": 1 << 20,
		"SERVER_GRACEFUL_TIMEOUT": 30 * time.Second,
		"ENABLE_PPROF":            dev,
		"ENABLE_HEALTH_CHECK":     true,
		"TLS_ENABLED":             false,
		"TLS_CERT_FILE":           "",
		"TLS_KEY_FILE":            "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func build(v *viper.Viper, env string) *Config {
	return &Config{
		App: AppConfig{
			Name:        v.GetString("APP_NAME"),
			Environment: env,
			Version:     v.GetString("APP_VERSION"),
			LogLevel:    v.GetString("LOG_LEVEL"),
			LogFormat:   v.GetString("LOG_FORMAT"),
			Debug:       v.GetBool("APP_DEBUG"),
		},
		Database: DatabaseConfig{
			Host:               v.GetString("DB_HOST"),
			Port:               v.GetString("DB_PORT"),
			User:               v.GetString("DB_USER"),
			Password:           v.GetString("DB_PASSWORD"),
			Name:               v.GetString("DB_NAME"),
			SSLMode:            v.GetString("DB_SSL_MODE"),
			MaxConnections:     v.GetInt32("DB_MAX_CONNECTIONS"),
			MinConnections:     v.GetInt32("DB_MIN_CONNECTIONS"),
			MaxConnLifetime:    v.GetDuration("DB_CONNECTION_LIFETIME"),
			MaxConnIdleTime:    v.GetDuration("DB_IDLE_TIME"),
			HealthCheckPeriod:  v.GetDuration("DB_HEALTH_CHECK_PERIOD"),
			ConnectTimeout:     v.GetDuration("DB_CONNECT_TIMEOUT"),
			EnableQueryLogging: v.GetBool("DB_QUERY_LOGGING"),
			MigrationPath:      v.GetString("DB_MIGRATION_PATH"),
		},
		Redis: RedisConfig{
			Host:            v.GetString("REDIS_HOST"),
			Port:            v.GetString("REDIS_PORT"),
			Password:        v.GetString("REDIS_PASSWORD"),
			DB:              v.GetInt("REDIS_DB"),
			MaxRetries:      v.GetInt("REDIS_MAX_RETRIES"),
			MinRetryBackoff: v.GetDuration("REDIS_MIN_RETRY_BACKOFF"),
			MaxRetryBackoff: v.GetDuration("REDIS_MAX_RETRY_BACKOFF"),
			DialTimeout:     v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:     v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:        v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns:    v.GetInt("REDIS_MIN_IDLE_CONNS"),
			PoolTimeout:     v.GetDuration("REDIS_POOL_TIMEOUT"),
			TTL:             v.GetDuration("REDIS_TTL"),
		},
		Asynq: AsynqConfig{
			RedisAddr:       v.GetString("REDIS_HOST") + ":" + v.GetString("REDIS_PORT"),
			RedisPassword:   v.GetString("REDIS_PASSWORD"),
			RedisDB:         v.GetInt("ASYNQ_REDIS_DB"),
			Concurrency:     v.GetInt("ASYNQ_CONCURRENCY"),
			Queues:          parseQueues(v.GetString("ASYNQ_QUEUES")),
			StrictPriority:  v.GetBool("ASYNQ_STRICT_PRIORITY"),
			RetryMax:        v.GetInt("ASYNQ_RETRY_MAX"),
			ShutdownTimeout: v.GetDuration("ASYNQ_SHUTDOWN_TIMEOUT"),
		},
		AWS: AWSConfig{
			Region:          v.GetString("AWS_REGION"),
			AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			S3Bucket:        v.GetString("AWS_S3_BUCKET"),
			S3Endpoint:      v.GetString("AWS_S3_ENDPOINT"),
			UsePathStyle:    v.GetBool("AWS_S3_PATH_STYLE"),
		},
		Capture: CaptureConfig{
			ScanWindow:     v.GetDuration("CAPTURE_SCAN_WINDOW"),
			ScanLimit:      v.GetInt("CAPTURE_SCAN_LIMIT"),
			ScanDebounce:   v.GetDuration("CAPTURE_SCAN_DEBOUNCE"),
			SearchDebounce: v.GetDuration("CAPTURE_SEARCH_DEBOUNCE"),
			LookupCooldown: v.GetDuration("CAPTURE_LOOKUP_COOLDOWN"),
			SubmitRetries:  v.GetInt("CAPTURE_SUBMIT_RETRIES"),
			SubmitBackoff:  v.GetDuration("CAPTURE_SUBMIT_BACKOFF"),
			PhotoCapture:   v.GetBool("CAPTURE_PHOTO_PROOFS"),
			SessionIdleTTL: v.GetDuration("CAPTURE_SESSION_IDLE_TTL"),
			SweepInterval:  v.GetDuration("CAPTURE_SWEEP_INTERVAL"),
		},
		Security: SecurityConfig{
			RateLimitRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
			RateLimitDuration: v.GetDuration("RATE_LIMIT_DURATION"),
			AllowedOrigins:    splitList(v.GetString("ALLOWED_ORIGINS")),
			TrustedProxies:    splitList(v.GetString("TRUSTED_PROXIES")),
			SecureHeaders:     v.GetBool("SECURE_HEADERS"),
			RequestIDHeader:   v.GetString("REQUEST_ID_HEADER"),
		},
		Server: ServerConfig{
			Host:              v.GetString("SERVER_HOST"),
			Port:              v.GetString("SERVER_PORT"),
			ReadTimeout:       v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:      v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:       v.GetDuration("SERVER_IDLE_TIMEOUT"),
			MaxHeaderBytes:    v.GetInt("SERVER_MAX_HEADER_BYTES"),
			GracefulTimeout:   v.GetDuration("SERVER_GRACEFUL_TIMEOUT"),
			EnablePprof:       v.GetBool("ENABLE_PPROF"),
			EnableHealthCheck: v.GetBool("ENABLE_HEALTH_CHECK"),
			TLSEnabled:        v.GetBool("TLS_ENABLED"),
			TLSCertFile:       v.GetString("TLS_CERT_FILE"),
			TLSKeyFile:        v.GetString("TLS_KEY_FILE"),
		},
	}
}

// overlaySecrets replaces the database and cache passwords with values from
// AWS Secrets Manager when COUNTD_SECRET_NAME is set. Development keeps the
// .env values.
func overlaySecrets(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	secretName := os.Getenv("COUNTD_SECRET_NAME")
	if secretName == "" || cfg.IsDevelopment() {
		return nil
	}

	sm, err := NewAWSSecretsManager(cfg.AWS.Region, secretName, logger)
	if err != nil {
		return err
	}

	secrets, err := sm.GetSecrets(ctx, []string{
		"DB_PASSWORD", "REDIS_PASSWORD", "AWS_SECRET_ACCESS_KEY",
	})
	if err != nil {
		return err
	}

	if val, ok := secrets["DB_PASSWORD"]; ok {
		cfg.Database.Password = val
	}
	if val, ok := secrets["REDIS_PASSWORD"]; ok {
		cfg.Redis.Password = val
		cfg.Asynq.RedisPassword = val
	}
	if val, ok := secrets["AWS_SECRET_ACCESS_KEY"]; ok {
		cfg.AWS.SecretAccessKey = val
	}
	return nil
}

// Validate runs the basic validator, plus the production validator when the
// environment warrants it.
func (c *Config) Validate() error {
	validators := []Validator{&BasicValidator{}}
	if c.IsProduction() {
		validators = append(validators, &ProductionValidator{})
	}

	for _, v := range validators {
		if err := v.Validate(c); err != nil {
			return err
		}
	}
	return nil
}

// GetDatabaseURL returns the connection string the migration runner uses.
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns host:port for the HTTP listener.
func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsProduction reports whether this process serves a real count event.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment reports whether this is a local or CI run.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "local"
}

func splitList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseQueues parses "name:priority" pairs, falling back to a single default
// queue on garbage input rather than refusing to boot.
func parseQueues(spec string) map[string]int {
	queues := make(map[string]int)
	for _, pair := range strings.Split(spec, ",") {
		name, prio, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		priority, err := strconv.Atoi(strings.TrimSpace(prio))
		if err != nil {
			continue
		}
		queues[strings.TrimSpace(name)] = priority
	}
	if len(queues) == 0 {
		queues["default"] = 1
	}
	return queues
}
