// Package app wires configuration into the concrete components shared by the
// command line entry points.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/api/twelvedata"
	"github.com/ZyrticX/DELTA-MIX/internal/cache"
	"github.com/ZyrticX/DELTA-MIX/internal/config"
	"github.com/ZyrticX/DELTA-MIX/internal/database"
	"github.com/ZyrticX/DELTA-MIX/internal/precompute"
	"github.com/ZyrticX/DELTA-MIX/internal/retry"
	"github.com/ZyrticX/DELTA-MIX/internal/universe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UniverseReader lists the active universe
type UniverseReader interface {
	GetActiveUniverse(ctx context.Context) ([]string, error)
}

// Cache is the analysis cache contract shared by Postgres and Redis
type Cache interface {
	CacheGet(ctx context.Context, key cache.Key, dest any) (bool, error)
	CachePut(ctx context.Context, key cache.Key, value any, ttl time.Duration) error
	PurgeExpiredCache(ctx context.Context) (int64, error)
}

// SetupSignalHandling cancels ctx on SIGINT or SIGTERM
func SetupSignalHandling(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info().Msg("Shutdown signal received, stopping...")
		cancel()
	}()
}

// SetupLogging configures the console logger
func SetupLogging(logLevel string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(output)

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
}

// PrintConfig logs the effective configuration without secrets
func PrintConfig(cfg *config.Config) {
	log.Info().
		Str("DBHost", cfg.DBHost).
		Str("DBName", cfg.DBName).
		Bool("Redis", cfg.RedisHost != "").
		Int("LookbackDays", cfg.LookbackDays).
		Int("ForwardDays", cfg.ForwardDays).
		Float64("CorrelationThreshold", cfg.CorrelationThreshold).
		Int("MaxWorkers", cfg.MaxWorkers).
		Int("ChunkSize", cfg.ChunkSize).
		Int("BatchSize", cfg.BatchSize).
		Int("RetryMaxAttempts", cfg.RetryMaxAttempts).
		Float64("SimilarityThreshold", cfg.SimilarityThreshold).
		Msg("Configuration loaded")
}

// OpenStore connects to Postgres and wraps it with the persistence retry policy.
// The returned closer releases the connection pool.
func OpenStore(ctx context.Context, cfg *config.Config) (*database.RetryingStore, func(), error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:         cfg.DBHost,
		Port:         cfg.DBPort,
		User:         cfg.DBUser,
		Password:     cfg.DBPassword,
		DBName:       cfg.DBName,
		SSLMode:      cfg.DBSSLMode,
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := database.NewRetryingStore(db, RetryPolicy(cfg))
	closer := func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing database failed")
		}
	}
	return store, closer, nil
}

// RetryPolicy builds the persistence retry policy from configuration
func RetryPolicy(cfg *config.Config) retry.Policy {
	return retry.NewPolicy(cfg.RetryMaxAttempts, cfg.RetryInitialInterval, cfg.RetryMaxInterval)
}

// OpenCache returns Redis when configured and reachable, otherwise fallback
func OpenCache(ctx context.Context, cfg *config.Config, fallback Cache) (Cache, func()) {
	if cfg.RedisHost == "" {
		return fallback, func() {}
	}

	rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using the database cache table")
		return fallback, func() {}
	}
	return rc, func() { _ = rc.Close() }
}

// NewPriceClient creates the Twelve Data client
func NewPriceClient(cfg *config.Config) (*twelvedata.Client, error) {
	if err := cfg.RequireProvider(); err != nil {
		return nil, err
	}
	return twelvedata.NewClient(twelvedata.ClientOptions{
		APIKey:          cfg.TwelveAPIKey,
		BaseURL:         cfg.TwelveBaseURL,
		RequestTimeout:  time.Duration(cfg.RequestTimeout) * time.Second,
		RequestsPerSec:  cfg.RequestsPerSec,
		MaxRetries:      cfg.RetryMaxAttempts,
		MaxRetryTimeout: cfg.RetryMaxInterval,
		RefreshBars:     cfg.RefreshBars,
	}), nil
}

// NewEngine creates the pre-computation engine writing through store
func NewEngine(cfg *config.Config, store precompute.SnapshotWriter) *precompute.Engine {
	return precompute.NewEngine(store, precompute.Options{
		Workers:    cfg.MaxWorkers,
		ChunkSize:  cfg.ChunkSize,
		BatchSize:  cfg.BatchSize,
		Thresholds: cfg.Movement,
	})
}

// UniverseSource scrapes the configured constituents page and falls back to
// the built-in list
func UniverseSource(cfg *config.Config) universe.Source {
	if cfg.UniverseURL == "" {
		return universe.DefaultSP500()
	}
	primary := universe.NewWikipediaSource(cfg.UniverseURL, time.Duration(cfg.RequestTimeout)*time.Second)
	return universe.NewFallbackSource(primary, universe.DefaultSP500())
}

// ParseSymbols splits a comma separated list and normalises each symbol
func ParseSymbols(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		sym := universe.NormalizeSymbol(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// ParseDate parses YYYY-MM-DD; an empty string yields the zero time
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// ApplyParams overrides snapshot parameters from command line flags and
// re-validates the configuration
func ApplyParams(cfg *config.Config, lookback, forward int, threshold float64) error {
	cfg.LookbackDays = lookback
	cfg.ForwardDays = forward
	cfg.CorrelationThreshold = threshold
	return cfg.Validate()
}

// ResolveSymbols returns explicit symbols when given, otherwise the active
// universe, otherwise the universe source. testMode keeps the first ten.
func ResolveSymbols(ctx context.Context, explicit []string, store UniverseReader, src universe.Source, testMode bool) ([]string, error) {
	symbols := explicit
	if len(symbols) == 0 && store != nil {
		active, err := store.GetActiveUniverse(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading active universe: %w", err)
		}
		symbols = active
	}
	if len(symbols) == 0 && src != nil {
		log.Info().Msg("Active universe is empty, loading symbols from the universe source")
		fetched, err := universe.GetSymbols(ctx, src)
		if err != nil {
			return nil, err
		}
		symbols = fetched
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to process")
	}

	if testMode && len(symbols) > testModeSymbols {
		log.Info().Int("symbols", testModeSymbols).Msg("Test mode: limiting the universe")
		symbols = symbols[:testModeSymbols]
	}
	return symbols, nil
}

const testModeSymbols = 10
