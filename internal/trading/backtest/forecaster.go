package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/cache"
	"github.com/ZyrticX/DELTA-MIX/internal/database"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/ZyrticX/DELTA-MIX/internal/pattern"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SnapshotReader reads persisted snapshots
type SnapshotReader interface {
	QuerySnapshots(ctx context.Context, filter database.SnapshotFilter) ([]model.CorrelationSnapshot, error)
}

// ForecastCache memoises forecasts per (date, stock, params)
type ForecastCache interface {
	CacheGet(ctx context.Context, key cache.Key, dest any) (bool, error)
	CachePut(ctx context.Context, key cache.Key, value any, ttl time.Duration) error
}

// ForecasterOptions tune similarity search
type ForecasterOptions struct {
	// SimilarityThreshold is exclusive: a case must score strictly above it.
	// Zero selects the default of 0.7.
	SimilarityThreshold float64
	HistoryLimit        int
	CacheTTL            time.Duration
}

// Forecaster turns similar historical snapshots into a directional forecast
type Forecaster struct {
	store  SnapshotReader
	cache  ForecastCache
	opts   ForecasterOptions
	logger zerolog.Logger
}

// NewForecaster creates a forecaster. fc may be nil to disable caching.
func NewForecaster(store SnapshotReader, fc ForecastCache, opts ForecasterOptions) *Forecaster {
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = 0.7
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 7 * 24 * time.Hour
	}
	return &Forecaster{
		store:  store,
		cache:  fc,
		opts:   opts,
		logger: log.With().Str("component", "forecaster").Logger(),
	}
}

// Predict forecasts stock on date. A nil forecast with a nil error means
// there is no prediction.
func (f *Forecaster) Predict(ctx context.Context, stock string, date time.Time, params model.Params) (*model.Forecast, error) {
	key := cache.NewForecastKey(date, stock, params, f.opts.SimilarityThreshold, f.opts.HistoryLimit)
	if f.cache != nil {
		var cached model.Forecast
		found, err := f.cache.CacheGet(ctx, key, &cached)
		if err != nil {
			f.logger.Warn().Err(err).Str("stock", stock).Msg("Forecast cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	current, err := f.store.QuerySnapshots(ctx, database.OnDate(stock, date, params))
	if err != nil {
		return nil, fmt.Errorf("loading current snapshot: %w", err)
	}
	if len(current) == 0 || len(current[0].MatchedStocks) == 0 {
		return nil, nil
	}
	snap := current[0]

	history, err := f.store.QuerySnapshots(ctx, database.SnapshotFilter{
		Symbol: stock,
		Before: date,
		Params: &params,
		Limit:  f.opts.HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	var (
		sum      float64
		up, down int
		best     float64
		bestDate time.Time
		similar  int
	)
	for _, h := range history {
		if h.FutureReturnPct == nil {
			continue
		}
		score := pattern.Similarity(snap.MatchedStocks, h.MatchedStocks)
		if score <= f.opts.SimilarityThreshold {
			continue
		}

		similar++
		ret := *h.FutureReturnPct
		sum += ret
		switch model.DirectionOf(ret) {
		case model.DirectionUp:
			up++
		case model.DirectionDown:
			down++
		}
		if score > best {
			best, bestDate = score, h.SnapshotDate
		}
	}

	if similar == 0 {
		return nil, nil
	}

	mean := sum / float64(similar)
	forecast := &model.Forecast{
		Stock:                stock,
		Date:                 model.Day(date),
		Direction:            model.DirectionOf(mean),
		Confidence:           float64(max(up, down)) / float64(similar) * 100,
		ExpectedReturn:       mean,
		NumSimilarPatterns:   similar,
		UpCount:              up,
		DownCount:            down,
		CurrentMatches:       len(snap.MatchedStocks),
		CurrentSignature:     snap.PatternSignature,
		MostSimilarDate:      bestDate,
		MostSimilarScore:     best,
		HistoricalCandidates: len(history),
	}

	if f.cache != nil {
		if err := f.cache.CachePut(ctx, key, forecast, f.opts.CacheTTL); err != nil {
			f.logger.Warn().Err(err).Str("stock", stock).Msg("Forecast cache write failed")
		}
	}

	return forecast, nil
}

// ActualOutcome reads the realised move recorded on the snapshot for stock
// on date. A nil outcome means there is no ground truth.
func (f *Forecaster) ActualOutcome(ctx context.Context, stock string, date time.Time, params model.Params) (*model.Outcome, error) {
	snaps, err := f.store.QuerySnapshots(ctx, database.OnDate(stock, date, params))
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if len(snaps) == 0 || snaps[0].FutureReturnPct == nil {
		return nil, nil
	}

	ret := *snaps[0].FutureReturnPct
	return &model.Outcome{
		Direction:    model.DirectionOf(ret),
		ReturnPct:    ret,
		MovementType: snaps[0].MovementType,
	}, nil
}

// IsCorrect reports whether the forecast direction matches the outcome.
// Neutral only matches neutral.
func IsCorrect(f *model.Forecast, o *model.Outcome) bool {
	return f != nil && o != nil && f.Direction == o.Direction
}
