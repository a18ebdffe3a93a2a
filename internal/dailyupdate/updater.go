// Package dailyupdate re-applies the pre-computation to the latest trading
// date after refreshing prices.
package dailyupdate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/ZyrticX/DELTA-MIX/internal/precompute"
	"github.com/ZyrticX/DELTA-MIX/internal/universe"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PriceProvider refreshes recent price history
type PriceProvider interface {
	Refresh(ctx context.Context, symbols []string) (map[string][]model.Bar, error)
}

// UniverseStore reads and maintains the tracked universe
type UniverseStore interface {
	GetActiveUniverse(ctx context.Context) ([]string, error)
	UpsertStockUniverse(ctx context.Context, stocks []model.Stock) error
	DeactivateMissing(ctx context.Context, active []string) (int64, error)
}

// CachePurger drops expired cached analyses
type CachePurger interface {
	PurgeExpiredCache(ctx context.Context) (int64, error)
}

// Updater runs the daily incremental pass
type Updater struct {
	provider PriceProvider
	store    UniverseStore
	engine   *precompute.Engine
	params   model.Params
	caches   []CachePurger
	source   universe.Source
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures an Updater
type Option func(*Updater)

// WithCaches registers caches purged after each run
func WithCaches(caches ...CachePurger) Option {
	return func(u *Updater) { u.caches = append(u.caches, caches...) }
}

// WithUniverseSource sets the source used by SyncUniverse
func WithUniverseSource(src universe.Source) Option {
	return func(u *Updater) { u.source = src }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(u *Updater) { u.now = now }
}

// New creates an Updater
func New(provider PriceProvider, store UniverseStore, engine *precompute.Engine, params model.Params, opts ...Option) *Updater {
	u := &Updater{
		provider: provider,
		store:    store,
		engine:   engine,
		params:   params,
		now:      time.Now,
		logger:   log.With().Str("component", "daily_updater").Logger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Report summarises one daily run
type Report struct {
	RunID               string        `json:"run_id"`
	TargetDate          time.Time     `json:"target_date"`
	Universe            int           `json:"universe"`
	Refreshed           int           `json:"refreshed"`
	Eligible            int           `json:"eligible"`
	InsufficientHistory int           `json:"insufficient_history"`
	Produced            int           `json:"produced"`
	Persisted           int           `json:"persisted"`
	CachePurged         int64         `json:"cache_purged"`
	Elapsed             time.Duration `json:"elapsed"`
}

// ComputeTodaySnapshots runs the daily pass and returns the number of
// snapshots persisted
func (u *Updater) ComputeTodaySnapshots(ctx context.Context) (int, error) {
	report, err := u.Run(ctx)
	if report == nil {
		return 0, err
	}
	return report.Persisted, err
}

// Run refreshes prices, computes snapshots for the latest trading date and
// purges expired cache entries.
func (u *Updater) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{RunID: uuid.New().String()}
	logger := u.logger.With().Str("run_id", report.RunID).Logger()

	symbols, err := u.store.GetActiveUniverse(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active universe: %w", err)
	}
	if len(symbols) == 0 {
		return nil, errors.New("active universe is empty")
	}
	report.Universe = len(symbols)

	bars, err := u.provider.Refresh(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("refreshing prices: %w", err)
	}
	report.Refreshed = len(bars)
	if len(bars) == 0 {
		return nil, errors.New("no price data after refresh")
	}

	ds := model.NewDataset(bars)
	target, ok := ds.LatestOnOrBefore(u.now())
	if !ok {
		return nil, errors.New("no trading date on or before today")
	}
	report.TargetDate = target

	eligible := EligibleSymbols(ds, target, u.params.LookbackDays, u.engine.PriceField())
	report.Eligible = len(eligible)
	report.InsufficientHistory = len(ds.Symbols()) - len(eligible)

	logger.Info().
		Time("target_date", target).
		Int("universe", report.Universe).
		Int("refreshed", report.Refreshed).
		Int("eligible", report.Eligible).
		Msg("Running daily snapshot update")

	var runErr error
	if len(eligible) > 0 {
		pre, err := u.engine.ComputeAll(ctx, precompute.Request{
			Dataset: ds,
			Symbols: eligible,
			Dates:   []time.Time{target},
			Params:  u.params,
		})
		if pre != nil {
			report.Produced = pre.Produced
			report.Persisted = pre.Persisted
		}
		runErr = err
	} else {
		logger.Warn().Msg("No stock has enough history for the target date")
	}

	report.CachePurged = u.purgeCaches(ctx, logger)
	report.Elapsed = time.Since(started)

	logger.Info().
		Int("produced", report.Produced).
		Int("persisted", report.Persisted).
		Int64("cache_purged", report.CachePurged).
		Dur("elapsed", report.Elapsed).
		Msg("Daily update finished")

	return report, runErr
}

// purgeCaches is best effort: failures are logged and ignored
func (u *Updater) purgeCaches(ctx context.Context, logger zerolog.Logger) int64 {
	var total int64
	for _, c := range u.caches {
		n, err := c.PurgeExpiredCache(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Cache purge failed, continuing")
			continue
		}
		total += n
	}
	return total
}

// SyncUniverse replaces the tracked universe with the source's list
func (u *Updater) SyncUniverse(ctx context.Context) (int, error) {
	if u.source == nil {
		return 0, errors.New("no universe source configured")
	}

	stocks, err := u.source.GetStocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching universe: %w", err)
	}
	if len(stocks) == 0 {
		return 0, errors.New("universe source returned no stocks")
	}

	if err := u.store.UpsertStockUniverse(ctx, stocks); err != nil {
		return 0, fmt.Errorf("storing universe: %w", err)
	}

	active := make([]string, 0, len(stocks))
	for _, s := range stocks {
		if s.IsActive {
			active = append(active, s.Symbol)
		}
	}
	deactivated, err := u.store.DeactivateMissing(ctx, active)
	if err != nil {
		return 0, fmt.Errorf("deactivating delisted stocks: %w", err)
	}

	u.logger.Info().Int("stocks", len(stocks)).Int64("deactivated", deactivated).Msg("Universe synchronised")
	return len(stocks), nil
}

// EligibleSymbols lists symbols with a field value on target and at least
// lookback observations of it up to target
func EligibleSymbols(ds *model.Dataset, target time.Time, lookback int, field model.Field) []string {
	idx, ok := ds.IndexOf(target)
	if !ok || idx < lookback-1 {
		return nil
	}

	var out []string
	for _, sym := range ds.Symbols() {
		s, _ := ds.Series(sym)
		if math.IsNaN(s.Value(field, idx)) {
			continue
		}
		valid := 0
		for i := 0; i <= idx; i++ {
			if !math.IsNaN(s.Value(field, i)) {
				valid++
			}
		}
		if valid >= lookback {
			out = append(out, sym)
		}
	}
	return out
}
