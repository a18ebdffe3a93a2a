package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultUniverseURL lists the S&P 500 constituents
const DefaultUniverseURL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"

// maxDefaultWorkers caps the worker pool when MAX_WORKERS is unset
const maxDefaultWorkers = 16

// Config holds all application configuration
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Postgres
	DBHost         string `env:"DB_HOST"`
	DBPort         string `env:"DB_PORT" envDefault:"5432"`
	DBUser         string `env:"DB_USER"`
	DBPassword     string `env:"DB_PASSWORD"`
	DBName         string `env:"DB_NAME"`
	DBSSLMode      string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`

	// Redis, optional; the Postgres cache table is used when unset
	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Price provider
	TwelveAPIKey   string    `env:"TWELVE_API_KEY"`
	TwelveBaseURL  string    `env:"TWELVE_BASE_URL" envDefault:"https://api.twelvedata.com"`
	RequestTimeout int       `env:"REQUEST_TIMEOUT" envDefault:"30"` // seconds
	RequestsPerSec int       `env:"REQUESTS_PER_SEC" envDefault:"5"`
	RefreshBars    int       `env:"REFRESH_BARS" envDefault:"120"`
	HistoryStart   time.Time `env:"HISTORY_START" envDefault:"2012-01-01"`
	UniverseURL    string    `env:"UNIVERSE_URL" envDefault:"https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"`

	// Snapshot parameters
	LookbackDays         int     `env:"LOOKBACK_DAYS" envDefault:"15"`
	ForwardDays          int     `env:"FORWARD_DAYS" envDefault:"15"`
	CorrelationThreshold float64 `env:"CORRELATION_THRESHOLD" envDefault:"0.85"`
	Movement             model.Thresholds

	// Execution
	MaxWorkers int `env:"MAX_WORKERS"`
	ChunkSize  int `env:"CHUNK_SIZE" envDefault:"50"`
	BatchSize  int `env:"BATCH_SIZE" envDefault:"1000"`

	// Persistence retry
	RetryMaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"1s"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"30s"`

	// Prediction
	SimilarityThreshold float64       `env:"SIMILARITY_THRESHOLD" envDefault:"0.7"`
	HistoryLimit        int           `env:"HISTORY_LIMIT" envDefault:"1000"`
	AnalysisCacheTTL    time.Duration `env:"ANALYSIS_CACHE_TTL_DAYS" envDefault:"7"`
}

// ConfigurationError is fatal at startup and never retried
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")

	cfg.DBHost = os.Getenv("DB_HOST")
	cfg.DBPort = getEnvWithDefault("DB_PORT", "5432")
	cfg.DBUser = os.Getenv("DB_USER")
	cfg.DBPassword = os.Getenv("DB_PASSWORD")
	cfg.DBName = os.Getenv("DB_NAME")
	cfg.DBSSLMode = getEnvWithDefault("DB_SSLMODE", "disable")
	cfg.DBMaxOpenConns = getEnvIntWithDefault("DB_MAX_OPEN_CONNS", 20)

	cfg.RedisHost = os.Getenv("REDIS_HOST")
	cfg.RedisPort = getEnvWithDefault("REDIS_PORT", "6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvIntWithDefault("REDIS_DB", 0)

	cfg.TwelveAPIKey = os.Getenv("TWELVE_API_KEY")
	cfg.TwelveBaseURL = getEnvWithDefault("TWELVE_BASE_URL", "https://api.twelvedata.com")
	cfg.RequestTimeout = getEnvIntWithDefault("REQUEST_TIMEOUT", 30)
	cfg.RequestsPerSec = getEnvIntWithDefault("REQUESTS_PER_SEC", 5)
	cfg.RefreshBars = getEnvIntWithDefault("REFRESH_BARS", 120)
	cfg.UniverseURL = getEnvWithDefault("UNIVERSE_URL", DefaultUniverseURL)

	historyStart, err := time.Parse("2006-01-02", getEnvWithDefault("HISTORY_START", "2012-01-01"))
	if err != nil {
		return nil, &ConfigurationError{Field: "HISTORY_START", Reason: "must be a YYYY-MM-DD date"}
	}
	cfg.HistoryStart = historyStart

	cfg.LookbackDays = getEnvIntWithDefault("LOOKBACK_DAYS", 15)
	cfg.ForwardDays = getEnvIntWithDefault("FORWARD_DAYS", 15)
	cfg.CorrelationThreshold = getEnvFloatWithDefault("CORRELATION_THRESHOLD", 0.85)
	defaults := model.DefaultThresholds()
	cfg.Movement = model.Thresholds{
		StrongUp:     getEnvFloatWithDefault("MOVE_STRONG_UP", defaults.StrongUp),
		ModerateUp:   getEnvFloatWithDefault("MOVE_MODERATE_UP", defaults.ModerateUp),
		NeutralLower: getEnvFloatWithDefault("MOVE_NEUTRAL_LOWER", defaults.NeutralLower),
		StrongDown:   getEnvFloatWithDefault("MOVE_STRONG_DOWN", defaults.StrongDown),
	}

	cfg.MaxWorkers = getEnvIntWithDefault("MAX_WORKERS", DefaultWorkers())
	cfg.ChunkSize = getEnvIntWithDefault("CHUNK_SIZE", 50)
	cfg.BatchSize = getEnvIntWithDefault("BATCH_SIZE", 1000)

	cfg.RetryMaxAttempts = getEnvIntWithDefault("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryInitialInterval = getEnvDurationWithDefault("RETRY_INITIAL_INTERVAL", time.Second)
	cfg.RetryMaxInterval = getEnvDurationWithDefault("RETRY_MAX_INTERVAL", 30*time.Second)

	cfg.SimilarityThreshold = getEnvFloatWithDefault("SIMILARITY_THRESHOLD", 0.7)
	cfg.HistoryLimit = getEnvIntWithDefault("HISTORY_LIMIT", 1000)
	cfg.AnalysisCacheTTL = time.Duration(getEnvIntWithDefault("ANALYSIS_CACHE_TTL_DAYS", 7)) * 24 * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.LookbackDays < 2:
		return &ConfigurationError{Field: "LOOKBACK_DAYS", Reason: "must be at least 2"}
	case c.ForwardDays < 1:
		return &ConfigurationError{Field: "FORWARD_DAYS", Reason: "must be at least 1"}
	case c.CorrelationThreshold <= 0 || c.CorrelationThreshold > 1:
		return &ConfigurationError{Field: "CORRELATION_THRESHOLD", Reason: "must be in (0, 1]"}
	case !c.Movement.Valid():
		return &ConfigurationError{Field: "MOVE_*", Reason: "must satisfy STRONG_DOWN < NEUTRAL_LOWER < MODERATE_UP < STRONG_UP"}
	case c.MaxWorkers < 1:
		return &ConfigurationError{Field: "MAX_WORKERS", Reason: "must be positive"}
	case c.ChunkSize < 1:
		return &ConfigurationError{Field: "CHUNK_SIZE", Reason: "must be positive"}
	case c.BatchSize < 1:
		return &ConfigurationError{Field: "BATCH_SIZE", Reason: "must be positive"}
	case c.RetryMaxAttempts < 1:
		return &ConfigurationError{Field: "RETRY_MAX_ATTEMPTS", Reason: "must be positive"}
	case c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1:
		return &ConfigurationError{Field: "SIMILARITY_THRESHOLD", Reason: "must be in (0, 1]"}
	}
	return nil
}

// RequireDatabase fails when Postgres credentials are missing
func (c *Config) RequireDatabase() error {
	switch {
	case c.DBHost == "":
		return &ConfigurationError{Field: "DB_HOST", Reason: "is required"}
	case c.DBUser == "":
		return &ConfigurationError{Field: "DB_USER", Reason: "is required"}
	case c.DBName == "":
		return &ConfigurationError{Field: "DB_NAME", Reason: "is required"}
	}
	return nil
}

// RequireProvider fails when the price provider key is missing
func (c *Config) RequireProvider() error {
	if c.TwelveAPIKey == "" {
		return &ConfigurationError{Field: "TWELVE_API_KEY", Reason: "is required"}
	}
	return nil
}

// Params returns the snapshot parameter set from configuration
func (c *Config) Params() model.Params {
	return model.Params{
		LookbackDays:         c.LookbackDays,
		ForwardDays:          c.ForwardDays,
		CorrelationThreshold: c.CorrelationThreshold,
		WindowType:           model.WindowTradingDays,
	}
}

// DefaultWorkers is min(16, logical cores)
func DefaultWorkers() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores < 1 {
		cores = runtime.NumCPU()
	}
	return min(maxDefaultWorkers, cores)
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
