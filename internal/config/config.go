package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store drivers accepted by STORE_DRIVER
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Realtime    RealtimeConfig
	Auth        AuthConfig
	Anomaly     AnomalyConfig
}

// HTTPConfig holds the query API listener settings
type HTTPConfig struct {
	Addr            string
	DefaultLimit    int
	MaxLimit        int
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver        string
	URL           string
	RunMigrations bool
}

// RabbitMQConfig holds broker connection and topic settings for the backend bridge
type RabbitMQConfig struct {
	URL            string
	Exchange       string
	IngestQueue    string
	DLQQueue       string
	TopicNamespace string
	PrefetchCount  int
	ReconnectDelay time.Duration
	PublishTimeout time.Duration
}

// RealtimeConfig holds settings for the client-facing fan-out connection
type RealtimeConfig struct {
	Enabled bool
	URL     string
}

// AuthConfig holds token signing settings
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// AnomalyConfig holds weight anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
	HistorySize               int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "medimind-backend"),
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":3000"),
			DefaultLimit:    getEnvAsInt("HTTP_DEFAULT_LIMIT", 100),
			MaxLimit:        getEnvAsInt("HTTP_MAX_LIMIT", 1000),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("STORE_DRIVER", StoreDriverPostgres),
			URL:           getEnv("DATABASE_URL", ""),
			RunMigrations: getEnvAsBool("DATABASE_RUN_MIGRATIONS", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:            getEnv("RABBITMQ_URL", ""),
			Exchange:       getEnv("RABBITMQ_EXCHANGE", "amq.topic"),
			IngestQueue:    getEnv("RABBITMQ_INGEST_QUEUE", "medimind.backend.events"),
			DLQQueue:       getEnv("RABBITMQ_DLQ_QUEUE", ""),
			TopicNamespace: getEnv("TOPIC_NAMESPACE", "medibox"),
			PrefetchCount:  getEnvAsInt("RABBITMQ_PREFETCH", 10),
			ReconnectDelay: getEnvAsDuration("RABBITMQ_RECONNECT_DELAY", time.Second),
			PublishTimeout: getEnvAsDuration("RABBITMQ_PUBLISH_TIMEOUT", 5*time.Second),
		},
		Realtime: RealtimeConfig{
			Enabled: getEnvAsBool("REALTIME_ENABLED", true),
			URL:     getEnv("REALTIME_RABBITMQ_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			TokenTTL:   getEnvAsDuration("JWT_TTL", 7*24*time.Hour),
			BcryptCost: getEnvAsInt("BCRYPT_COST", 10),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
			HistorySize:               getEnvAsInt("ANOMALY_HISTORY_SIZE", 10),
		},
	}

	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = cfg.RabbitMQ.URL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Database.Driver)
	}
	if c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set in environment variables")
	}
	if c.HTTP.MaxLimit < 1 {
		return fmt.Errorf("HTTP_MAX_LIMIT must be positive, got %d", c.HTTP.MaxLimit)
	}
	if c.HTTP.DefaultLimit < 1 || c.HTTP.DefaultLimit > c.HTTP.MaxLimit {
		return fmt.Errorf("HTTP_DEFAULT_LIMIT must be within [1, %d], got %d", c.HTTP.MaxLimit, c.HTTP.DefaultLimit)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
