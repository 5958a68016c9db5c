// test/helpers/helpers.go
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stocklens/countd/internal/adapters/db"
	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/pkg/config"
)

// TestDB represents a test database instance
type TestDB struct {
	PgxPool  *pgxpool.Pool
	Database *db.Database
	Resource *dockertest.Resource
	Pool     *dockertest.Pool
	Config   *db.Config
}

// TestRedis represents a test Redis instance
type TestRedis struct {
	Client *redis.Client
	Server *miniredis.Miniredis
}

// TestLogger returns a quiet logger; -v raises it to debug.
func TestLogger() *slog.Logger {
	level := slog.LevelError
	if testing.Verbose() {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// SetupTestDB starts a throwaway Postgres container, waits for it, and
// applies the real migrations so repository tests run against the same schema
// as production.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "Could not connect to Docker")

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=test",
			"POSTGRES_PASSWORD=test",
			"POSTGRES_DB=test_countd",
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "Could not start PostgreSQL container")

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("Could not purge resource: %s", err)
		}
	})

	dbConfig := &db.Config{
		Host:               "localhost",
		Port:               resource.GetPort("5432/tcp"),
		User:               "test",
		Password:           "test",
		Database:           "test_countd",
		SSLMode:            "disable",
		MaxConnections:     5,
		MinConnections:     1,
		MaxConnLifetime:    time.Hour,
		MaxConnIdleTime:    time.Minute * 30,
		HealthCheckPeriod:  time.Minute,
		ConnectTimeout:     time.Second * 10,
		StatementCacheMode: "describe",
		EnableQueryLogging: testing.Verbose(),
	}

	// Wait for database to be ready
	var database *db.Database
	err = pool.Retry(func() error {
		ctx := context.Background()
		var err error
		database, err = db.NewDatabase(ctx, dbConfig, TestLogger())
		if err != nil {
			return err
		}
		return database.Ping(ctx)
	})
	require.NoError(t, err, "Could not connect to PostgreSQL")

	ctx := context.Background()
	migrationConfig := &db.MigrationConfig{
		DatabaseURL: fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=%s",
			dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port,
			dbConfig.Database, dbConfig.SSLMode),
		SourcePath: "../../migrations",
		TableName:  "schema_migrations",
		SchemaName: "public",
	}

	err = db.RunMigrationsWithRetry(ctx, migrationConfig, TestLogger(), 3)
	require.NoError(t, err, "Could not run migrations")

	return &TestDB{
		PgxPool:  database.Pool(),
		Database: database,
		Resource: resource,
		Pool:     pool,
		Config:   dbConfig,
	}
}

// SetupTestRedis creates a mock Redis instance for testing
func SetupTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return &TestRedis{
		Client: client,
		Server: mr,
	}
}

// LoadTestConfig returns a test configuration
func LoadTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:        "countd-test",
			Environment: "test",
			Version:     "test",
			LogLevel:    "debug",
			LogFormat:   "text",
			Debug:       true,
		},
		Database: config.DatabaseConfig{
			Host:               "localhost",
			Port:               "5432",
			User:               "test",
			Password:           "test",
			Name:               "test_countd",
			SSLMode:            "disable",
			MaxConnections:     10,
			MinConnections:     2,
			EnableQueryLogging: true,
		},
		Redis: config.RedisConfig{
			Host:     "localhost",
			Port:     "6379",
			DB:       0,
			TTL:      time.Hour,
			PoolSize: 10,
		},
		Capture: config.CaptureConfig{
			ScanWindow:     15 * time.Second,
			ScanLimit:      5,
			ScanDebounce:   1500 * time.Millisecond,
			SearchDebounce: 400 * time.Millisecond,
			LookupCooldown: 2 * time.Second,
			SubmitRetries:  3,
			SubmitBackoff:  250 * time.Millisecond,
			PhotoCapture:   true,
			SessionIdleTTL: 12 * time.Hour,
			SweepInterval:  10 * time.Minute,
		},
		Security: config.SecurityConfig{
			RateLimitRequests: 100,
			RateLimitDuration: time.Minute,
			AllowedOrigins:    []string{"*"},
			SecureHeaders:     false,
		},
		Server: config.ServerConfig{
			Host:         "localhost",
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}
}

// CreateTestItem creates a catalog item for testing
func CreateTestItem(overrides ...func(*domain.Item)) *domain.Item {
	item := &domain.Item{
		Code:         "ITM-001",
		Name:         "Cordless Drill 18V",
		Barcode:      "4006381333931",
		Price:        decimal.NewNullDecimal(decimal.NewFromFloat(129.99)),
		StockQty:     12,
		SerialPolicy: domain.SerialNone,
		Category:     "power-tools",
	}

	for _, override := range overrides {
		override(item)
	}

	return item
}

// CreateTestSession creates a counting session context for testing
func CreateTestSession(overrides ...func(*domain.Session)) *domain.Session {
	session := &domain.Session{
		ID: uuid.New().String(),
		Location: domain.Location{
			Warehouse: "WH-01",
			Floor:     "2",
			Rack:      "A-17",
		},
		CountedBy: "counter-7",
	}

	for _, override := range overrides {
		override(session)
	}

	return session
}

// CreateTestItems creates a batch of distinct catalog items
func CreateTestItems(count int) []domain.Item {
	policies := []domain.SerialPolicy{
		domain.SerialNone,
		domain.SerialOptional,
		domain.SerialSingle,
		domain.SerialDual,
	}

	items := make([]domain.Item, count)
	for i := 0; i < count; i++ {
		items[i] = *CreateTestItem(func(item *domain.Item) {
			item.Code = fmt.Sprintf("ITM-%03d", i+1)
			item.Name = fmt.Sprintf("Test Item %d", i+1)
			item.Barcode = fmt.Sprintf("40063813339%02d", i+1)
			item.Price = decimal.NewNullDecimal(decimal.NewFromFloat(float64(50 + i*25)))
			item.SerialPolicy = policies[i%len(policies)]
		})
	}

	return items
}

// AssertEventuallyWithTimeout asserts that a condition is met within a timeout
func AssertEventuallyWithTimeout(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}

	t.Errorf("Condition not met within %v: %s", timeout, msg)
}

// TruncateAllTables truncates all tables in the test database
func TruncateAllTables(t *testing.T, db *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	tables := []string{
		"count_line_serials",
		"count_lines",
		"variance_reasons",
		"items",
	}

	for _, table := range tables {
		_, err := db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err, "Failed to truncate table: %s", table)
	}
}

// SeedTestItems seeds the catalog with test items
func SeedTestItems(t *testing.T, db *pgxpool.Pool, items []domain.Item) {
	t.Helper()

	ctx := context.Background()

	for _, item := range items {
		variantsJSON, err := json.Marshal(item.RawVariants)
		require.NoError(t, err, "Failed to encode price variants")

		query := `
			INSERT INTO items (
				code, name, barcode, price, price_variants,
				stock_qty, serial_policy, category, condition_tag
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`

		var price any
		if item.Price.Valid {
			price = item.Price.Decimal
		}

		_, err = db.Exec(ctx, query,
			item.Code, item.Name, item.Barcode, price, variantsJSON,
			item.StockQty, item.SerialPolicy, item.Category, item.ConditionTag,
		)
		require.NoError(t, err, "Failed to seed item %s", item.Code)
	}
}

// SeedVarianceReasons seeds the selectable variance reason list
func SeedVarianceReasons(t *testing.T, db *pgxpool.Pool, reasons []domain.VarianceReason) {
	t.Helper()

	ctx := context.Background()

	for i, reason := range reasons {
		_, err := db.Exec(ctx,
			`INSERT INTO variance_reasons (code, label, sort_order) VALUES ($1, $2, $3)`,
			reason.Code, reason.Label, i,
		)
		require.NoError(t, err, "Failed to seed variance reason %s", reason.Code)
	}
}
