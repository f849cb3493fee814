package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMySQL  = "mysql"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	Storage           StorageConfig
	MySQL             MySQLConfig
	Redis             RedisConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Stripe            StripeConfig
	Retry             RetryConfig
	Clock             ClockConfig
	Events            EventsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type StorageConfig struct {
	Driver string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type StripeConfig struct {
	SecretKey   string
	BaseURL     string
	HTTPTimeout time.Duration
}

type RetryConfig struct {
	DefaultsFile     string
	AttemptTimeout   time.Duration
	DuePolicy        string
	SweepParallelism int
	SweepBatchSize   int
	SweepInterval    time.Duration
	DefaultProvider  string
}

type ClockConfig struct {
	ControlEnabled bool
	// Start is zero when the clock should start at the wall time of the process start.
	Start time.Time
}

type EventsConfig struct {
	DeliveryRetrySchedule []time.Duration
	WebhookMaxRetries     int
	WebhookTimeout        time.Duration
	SubscriberRPS         float64
	JournalSize           int
	DeliveryLogSize       int
	KafkaBrokers          []string
	KafkaTopic            string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	driver := strings.ToLower(getEnv("STORAGE_DRIVER", StorageMySQL))
	mysqlDSN := os.Getenv("MYSQL_DSN")
	switch driver {
	case StorageMySQL:
		if mysqlDSN == "" {
			return nil, errors.New("MYSQL_DSN environment variable is required")
		}
	case StorageRedis, StorageMemory:
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER %q is not supported", driver)
	}

	duePolicy := strings.ToLower(getEnv("RETRY_DUE_POLICY", "rederive"))
	if duePolicy != "rederive" && duePolicy != "pinned" {
		return nil, fmt.Errorf("RETRY_DUE_POLICY %q must be rederive or pinned", duePolicy)
	}

	var clockStart time.Time
	if raw := strings.TrimSpace(os.Getenv("CLOCK_START")); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("CLOCK_START must be RFC 3339: %w", err)
		}
		clockStart = start.UTC()
	}

	retrySchedule, err := getDurationListEnv("EVENTS_DELIVERY_RETRY_SCHEDULE", []time.Duration{
		15 * time.Minute, time.Hour, 24 * time.Hour, 48 * time.Hour,
	})
	if err != nil {
		return nil, err
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payment-retries-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		Storage: StorageConfig{
			Driver: driver,
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getIntEnv("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "retries"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Stripe: StripeConfig{
			SecretKey:   getEnv("STRIPE_SECRET_KEY", ""),
			BaseURL:     getEnv("STRIPE_API_BASE_URL", "https://api.stripe.com"),
			HTTPTimeout: getSecondsEnv("STRIPE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Retry: RetryConfig{
			DefaultsFile:     getEnv("RETRY_DEFAULTS_FILE", ""),
			AttemptTimeout:   getSecondsEnv("RETRY_ATTEMPT_TIMEOUT_SECONDS", 30*time.Second),
			DuePolicy:        duePolicy,
			SweepParallelism: getIntEnv("RETRY_SWEEP_PARALLELISM", 4),
			SweepBatchSize:   getIntEnv("RETRY_SWEEP_BATCH_SIZE", 100),
			SweepInterval:    getSecondsEnv("RETRY_SWEEP_INTERVAL_SECONDS", time.Minute),
			DefaultProvider:  strings.ToLower(getEnv("RETRY_DEFAULT_PROVIDER", "stripe")),
		},
		Clock: ClockConfig{
			ControlEnabled: getBoolEnv("CLOCK_CONTROL_ENABLED", false),
			Start:          clockStart,
		},
		Events: EventsConfig{
			DeliveryRetrySchedule: retrySchedule,
			WebhookMaxRetries:     getIntEnv("EVENTS_WEBHOOK_MAX_RETRIES", 2),
			WebhookTimeout:        getSecondsEnv("EVENTS_WEBHOOK_TIMEOUT_SECONDS", 10*time.Second),
			SubscriberRPS:         getFloatEnv("EVENTS_SUBSCRIBER_RPS", 0),
			JournalSize:           getIntEnv("EVENTS_JOURNAL_SIZE", 10000),
			DeliveryLogSize:       getIntEnv("EVENTS_DELIVERY_LOG_SIZE", 5000),
			KafkaBrokers:          getListEnv("EVENTS_KAFKA_BROKERS"),
			KafkaTopic:            getEnv("EVENTS_KAFKA_TOPIC", "payment-retry-events"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	items := make([]string, 0)
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getDurationListEnv(key string, defaultValue []time.Duration) ([]time.Duration, error) {
	parts := getListEnv(key)
	if len(parts) == 0 {
		return defaultValue, nil
	}
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%s entry %q must be a positive duration", key, part)
		}
		out = append(out, d)
	}
	return out, nil
}
