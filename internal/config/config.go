package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort    string
	ApiEnabled string

	BalanceCacheTTL     time.Duration
	LowBalanceThreshold int64
	LowBalanceCooldown  time.Duration
	ResetInterval       time.Duration
	ResetBatch          int
}

// New loads and validates configuration from environment variables.
// The HTTP server is optional: if CREDLO_API_ENABLED != "true", ApiAddr()
// returns an error and the HTTP server simply won't start.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:  os.Getenv("CREDLO_POSTGRES_USER"),
		DBPass:  os.Getenv("CREDLO_POSTGRES_PASSWORD"),
		DBHost:  os.Getenv("CREDLO_POSTGRES_HOST"),
		DBPort:  os.Getenv("CREDLO_POSTGRES_PORT"),
		DBName:  os.Getenv("CREDLO_POSTGRES_DB"),
		SSLMode: os.Getenv("CREDLO_POSTGRES_SSLMODE"),

		RedisHost: os.Getenv("CREDLO_REDIS_HOST"),
		RedisPort: os.Getenv("CREDLO_REDIS_PORT"),

		NatsHost: os.Getenv("CREDLO_NATS_HOST"),
		NatsPort: os.Getenv("CREDLO_NATS_PORT"),

		ApiPort:    os.Getenv("CREDLO_API_PORT"),
		ApiEnabled: os.Getenv("CREDLO_API_ENABLED"),

		BalanceCacheTTL:     getEnvDuration("CREDLO_BALANCE_CACHE_TTL", 30*time.Second),
		LowBalanceThreshold: getEnvInt64("CREDLO_LOW_BALANCE_THRESHOLD", 10),
		LowBalanceCooldown:  getEnvDuration("CREDLO_LOW_BALANCE_COOLDOWN", 24*time.Hour),
		ResetInterval:       getEnvDuration("CREDLO_RESET_INTERVAL", time.Hour),
		ResetBatch:          int(getEnvInt64("CREDLO_RESET_BATCH", 500)),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: CREDLO_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: CREDLO_REDIS_HOST/PORT")
	}

	// Required: nats (event bus and command transport)
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: CREDLO_NATS_HOST/PORT")
	}

	if cfg.ResetBatch <= 0 {
		return nil, fmt.Errorf("CREDLO_RESET_BATCH must be positive")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if CREDLO_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("CREDLO_API_PORT is required when CREDLO_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (CREDLO_API_ENABLED != true)")
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int64
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
