// Package database is the persistence gateway for snapshots, the stock
// universe and the analysis cache.
package database

import (
	"context"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/cache"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
)

// Gateway is the full persistence contract. Every write is an idempotent upsert.
type Gateway interface {
	UpsertSnapshots(ctx context.Context, batch []model.CorrelationSnapshot) (int, error)
	QuerySnapshots(ctx context.Context, filter SnapshotFilter) ([]model.CorrelationSnapshot, error)
	UpsertStockUniverse(ctx context.Context, stocks []model.Stock) error
	DeactivateMissing(ctx context.Context, active []string) (int64, error)
	GetActiveUniverse(ctx context.Context) ([]string, error)
	CacheGet(ctx context.Context, key cache.Key, dest any) (bool, error)
	CachePut(ctx context.Context, key cache.Key, value any, ttl time.Duration) error
	PurgeExpiredCache(ctx context.Context) (int64, error)
}

// SnapshotFilter narrows a snapshot query. Results are ordered by
// snapshot_date descending.
type SnapshotFilter struct {
	Symbol string
	// From and To bound snapshot_date inclusively; zero means unbounded
	From time.Time
	To   time.Time
	// Before bounds snapshot_date exclusively
	Before time.Time
	// Params restricts to one parameter set
	Params *model.Params
	Limit  int
}

// OnDate builds a filter for exactly one snapshot date
func OnDate(symbol string, date time.Time, params model.Params) SnapshotFilter {
	d := model.Day(date)
	return SnapshotFilter{Symbol: symbol, From: d, To: d, Params: &params, Limit: 1}
}

// Match reports whether a snapshot satisfies the filter
func (f SnapshotFilter) Match(s model.CorrelationSnapshot) bool {
	if f.Symbol != "" && s.StockSymbol != f.Symbol {
		return false
	}
	d := model.Day(s.SnapshotDate)
	if !f.From.IsZero() && d.Before(model.Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && d.After(model.Day(f.To)) {
		return false
	}
	if !f.Before.IsZero() && !d.Before(model.Day(f.Before)) {
		return false
	}
	if f.Params != nil {
		if s.Params.LookbackDays != f.Params.LookbackDays ||
			s.Params.ForwardDays != f.Params.ForwardDays ||
			s.Params.ThresholdKey() != f.Params.ThresholdKey() {
			return false
		}
	}
	return true
}
