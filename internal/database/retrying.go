package database

import (
	"context"
	"errors"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/cache"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/ZyrticX/DELTA-MIX/internal/retry"
)

// RetryingStore applies one retry policy to every call on a Gateway
type RetryingStore struct {
	inner  Gateway
	policy retry.Policy
}

// NewRetryingStore wraps inner. Errors IsRetryable rejects fail immediately.
func NewRetryingStore(inner Gateway, policy retry.Policy) *RetryingStore {
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}
	return &RetryingStore{inner: inner, policy: policy}
}

func (r *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	err := r.policy.Do(ctx, op, fn)
	if err == nil {
		return nil
	}
	var re *retry.Error
	if errors.As(err, &re) {
		return &PersistenceError{Operation: op, Attempts: re.Attempts, Err: re.Err}
	}
	return err
}

// UpsertSnapshots retries the whole batch; upserts make resubmission safe
func (r *RetryingStore) UpsertSnapshots(ctx context.Context, batch []model.CorrelationSnapshot) (int, error) {
	var n int
	err := r.do(ctx, "upsert_snapshots", func() error {
		var err error
		n, err = r.inner.UpsertSnapshots(ctx, batch)
		return err
	})
	return n, err
}

// QuerySnapshots retries a snapshot query
func (r *RetryingStore) QuerySnapshots(ctx context.Context, filter SnapshotFilter) ([]model.CorrelationSnapshot, error) {
	var out []model.CorrelationSnapshot
	err := r.do(ctx, "query_snapshots", func() error {
		var err error
		out, err = r.inner.QuerySnapshots(ctx, filter)
		return err
	})
	return out, err
}

// UpsertStockUniverse retries a universe upsert
func (r *RetryingStore) UpsertStockUniverse(ctx context.Context, stocks []model.Stock) error {
	return r.do(ctx, "upsert_stock_universe", func() error {
		return r.inner.UpsertStockUniverse(ctx, stocks)
	})
}

// DeactivateMissing retries a universe deactivation
func (r *RetryingStore) DeactivateMissing(ctx context.Context, active []string) (int64, error) {
	var n int64
	err := r.do(ctx, "deactivate_missing", func() error {
		var err error
		n, err = r.inner.DeactivateMissing(ctx, active)
		return err
	})
	return n, err
}

// GetActiveUniverse retries a universe read
func (r *RetryingStore) GetActiveUniverse(ctx context.Context) ([]string, error) {
	var out []string
	err := r.do(ctx, "get_active_universe", func() error {
		var err error
		out, err = r.inner.GetActiveUniverse(ctx)
		return err
	})
	return out, err
}

// CacheGet retries a cache read
func (r *RetryingStore) CacheGet(ctx context.Context, key cache.Key, dest any) (bool, error) {
	var found bool
	err := r.do(ctx, "cache_get", func() error {
		var err error
		found, err = r.inner.CacheGet(ctx, key, dest)
		return err
	})
	return found, err
}

// CachePut retries a cache write
func (r *RetryingStore) CachePut(ctx context.Context, key cache.Key, value any, ttl time.Duration) error {
	return r.do(ctx, "cache_put", func() error {
		return r.inner.CachePut(ctx, key, value, ttl)
	})
}

// PurgeExpiredCache retries a cache purge
func (r *RetryingStore) PurgeExpiredCache(ctx context.Context) (int64, error) {
	var n int64
	err := r.do(ctx, "purge_expired_cache", func() error {
		var err error
		n, err = r.inner.PurgeExpiredCache(ctx)
		return err
	})
	return n, err
}
