package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds the coordinator configuration
type Config struct {
	HTTPAddr     string
	DatabaseURL  string
	StoreBackend string
	DataDir      string
	// PublicBaseURL is where agents download resources; empty hands out local paths
	PublicBaseURL string

	// Scheduling
	LeaseDuration          time.Duration
	LeaseGraceFactor       float64
	MaxTaskRetries         int
	SweepSchedule          string
	ChunkDuration          time.Duration
	FallbackChunkSize      models.Keyspace
	ChunkFluctuationPct    int
	ProgressRecalcInterval time.Duration
	DAGEnabledByDefault    bool

	// Notifications
	WebhookURL    string
	WebhookSecret string
	AMQPURL       string
	AMQPExchange  string

	// Websocket
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

// Load reads the configuration from the environment, loading a .env file first if present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		debug.Debug("No .env file loaded: %v", err)
	}

	cfg := &Config{
		HTTPAddr:               getEnv("KH_HTTP_ADDR", ":31337"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		StoreBackend:           strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		DataDir:                getEnv("KH_DATA_DIR", "./data"),
		PublicBaseURL:          getEnv("KH_PUBLIC_BASE_URL", ""),
		LeaseDuration:          getEnvDuration("KH_LEASE_DURATION", 5*time.Minute),
		LeaseGraceFactor:       getEnvFloat("KH_LEASE_GRACE_FACTOR", 1.5),
		MaxTaskRetries:         getEnvInt("KH_MAX_TASK_RETRIES", 3),
		SweepSchedule:          getEnv("KH_SWEEP_SCHEDULE", "@every 30s"),
		ChunkDuration:          getEnvDuration("KH_CHUNK_DURATION", 20*time.Minute),
		ChunkFluctuationPct:    getEnvInt("KH_CHUNK_FLUCTUATION_PERCENT", 20),
		ProgressRecalcInterval: getEnvDuration("KH_PROGRESS_RECALC_INTERVAL", time.Second),
		DAGEnabledByDefault:    getEnvBool("KH_DAG_DEFAULT", false),
		WebhookURL:             getEnv("KH_WEBHOOK_URL", ""),
		WebhookSecret:          getEnv("KH_WEBHOOK_SECRET", ""),
		AMQPURL:                getEnv("AMQP_URL", ""),
		AMQPExchange:           getEnv("AMQP_EXCHANGE", "krakenhashes.events"),
		WriteWait:              getEnvDuration("KH_WRITE_WAIT", 10*time.Second),
		PongWait:               getEnvDuration("KH_PONG_WAIT", 60*time.Second),
		PingPeriod:             getEnvDuration("KH_PING_PERIOD", 54*time.Second),
	}

	fallback, err := models.ParseKeyspace(getEnv("KH_FALLBACK_CHUNK_SIZE", "1000000"))
	if err != nil {
		return nil, fmt.Errorf("invalid KH_FALLBACK_CHUNK_SIZE: %w", err)
	}
	cfg.FallbackChunkSize = fallback

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with
func (c *Config) Validate() error {
	if c.StoreBackend != StoreBackendPostgres && c.StoreBackend != StoreBackendMemory {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend == StoreBackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("KH_LEASE_DURATION must be positive")
	}
	if c.LeaseGraceFactor < 1 {
		return fmt.Errorf("KH_LEASE_GRACE_FACTOR must be at least 1")
	}
	if c.MaxTaskRetries < 0 {
		return fmt.Errorf("KH_MAX_TASK_RETRIES cannot be negative")
	}
	if c.FallbackChunkSize.Sign() <= 0 {
		return fmt.Errorf("KH_FALLBACK_CHUNK_SIZE must be positive")
	}
	if c.ChunkFluctuationPct < 0 || c.ChunkFluctuationPct > 100 {
		return fmt.Errorf("KH_CHUNK_FLUCTUATION_PERCENT must be between 0 and 100")
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("KH_PING_PERIOD must be shorter than KH_PONG_WAIT")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration gets a duration from an environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			debug.Debug("Loaded %s: %v", key, duration)
			return duration
		}
		debug.Warning("Invalid %s value: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		debug.Warning("Invalid %s value: %s, using default: %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		debug.Warning("Invalid %s value: %s, using default: %v", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		debug.Warning("Invalid %s value: %s, using default: %v", key, val, defaultValue)
	}
	return defaultValue
}
