package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser    string
	DBPass    string
	DBHost    string
	DBPort    string
	DBName    string
	SSLMode   string
	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string

	ApiEnabled string
	ApiPort    string

	RateFeedURL  string
	RateSymbol   string
	RateTTL      time.Duration
	RateFallback string

	DealTTL          time.Duration
	DeviceLiveness   time.Duration
	MinTraderBalance string
	SweepInterval    time.Duration

	ShiftDayStart int
	ShiftDayEnd   int
	ShiftDaySLA   time.Duration
	ShiftNightSLA time.Duration
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if SETTLEX_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:    os.Getenv("SETTLEX_POSTGRES_USER"),
		DBPass:    os.Getenv("SETTLEX_POSTGRES_PASSWORD"),
		DBHost:    os.Getenv("SETTLEX_POSTGRES_HOST"),
		DBPort:    os.Getenv("SETTLEX_POSTGRES_PORT"),
		DBName:    os.Getenv("SETTLEX_POSTGRES_DB"),
		SSLMode:   os.Getenv("SETTLEX_POSTGRES_SSLMODE"),
		RedisHost: os.Getenv("SETTLEX_REDIS_HOST"),
		RedisPort: os.Getenv("SETTLEX_REDIS_PORT"),
		NatsHost:  os.Getenv("SETTLEX_NATS_HOST"),
		NatsPort:  os.Getenv("SETTLEX_NATS_PORT"),

		ApiEnabled: os.Getenv("SETTLEX_API_ENABLED"),
		ApiPort:    os.Getenv("SETTLEX_API_PORT"),

		RateFeedURL:  os.Getenv("SETTLEX_RATE_FEED_URL"),
		RateSymbol:   getEnv("SETTLEX_RATE_SYMBOL", "USDTRUB"),
		RateTTL:      getEnvDuration("SETTLEX_RATE_TTL", 30*time.Second),
		RateFallback: getEnv("SETTLEX_RATE_FALLBACK", "100"),

		DealTTL:          getEnvDuration("SETTLEX_DEAL_TTL", 15*time.Minute),
		DeviceLiveness:   getEnvDuration("SETTLEX_DEVICE_LIVENESS", 5*time.Minute),
		MinTraderBalance: getEnv("SETTLEX_MIN_TRADER_BALANCE", "0"),
		SweepInterval:    getEnvDuration("SETTLEX_SWEEP_INTERVAL", 30*time.Second),

		ShiftDayStart: getEnvInt("SETTLEX_SHIFT_DAY_START", 9),
		ShiftDayEnd:   getEnvInt("SETTLEX_SHIFT_DAY_END", 21),
		ShiftDaySLA:   getEnvDuration("SETTLEX_SHIFT_DAY_SLA", 30*time.Minute),
		ShiftNightSLA: getEnvDuration("SETTLEX_SHIFT_NIGHT_SLA", 60*time.Minute),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: SETTLEX_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis, the authoritative balance store
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: SETTLEX_REDIS_HOST/PORT")
	}

	// Required: nats carries notifications and balance sync events
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: SETTLEX_NATS_HOST/PORT")
	}

	if cfg.RateFeedURL == "" {
		return nil, fmt.Errorf("missing required env: SETTLEX_RATE_FEED_URL")
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
// Returns an error if SETTLEX_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("SETTLEX_API_PORT is required when SETTLEX_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (SETTLEX_API_ENABLED != true)")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
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
