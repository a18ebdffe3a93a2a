package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/cache"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
)

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Gateway. It backs dry runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[model.SnapshotKey]model.CorrelationSnapshot
	stocks    map[string]model.Stock
	cache     map[cache.Key]cacheEntry
	now       func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[model.SnapshotKey]model.CorrelationSnapshot),
		stocks:    make(map[string]model.Stock),
		cache:     make(map[cache.Key]cacheEntry),
		now:       time.Now,
	}
}

// SetClock overrides the clock used for cache expiry
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// UpsertSnapshots stores the batch keyed by snapshot identity
func (m *MemoryStore) UpsertSnapshots(_ context.Context, batch []model.CorrelationSnapshot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range batch {
		if s.StockSymbol == "" {
			return 0, &ValidationError{Field: "stock_symbol", Reason: "must not be empty"}
		}
	}
	for _, s := range batch {
		s.SnapshotDate = model.Day(s.SnapshotDate)
		s.NumMatches = len(s.MatchedStocks)
		if s.Params.WindowType == "" {
			s.Params.WindowType = model.WindowTradingDays
		}
		if existing, ok := m.snapshots[s.Key()]; ok {
			s.CreatedAt = existing.CreatedAt
		} else if s.CreatedAt.IsZero() {
			s.CreatedAt = m.now()
		}
		m.snapshots[s.Key()] = s
	}
	return len(dedupeSnapshots(batch)), nil
}

// QuerySnapshots returns matching snapshots, newest first
func (m *MemoryStore) QuerySnapshots(_ context.Context, filter SnapshotFilter) ([]model.CorrelationSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.CorrelationSnapshot
	for _, s := range m.snapshots {
		if filter.Match(s) {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotDate.Equal(out[j].SnapshotDate) {
			return out[i].SnapshotDate.After(out[j].SnapshotDate)
		}
		return out[i].StockSymbol < out[j].StockSymbol
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Len returns the number of stored snapshots
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// UpsertStockUniverse inserts or replaces stocks by symbol
func (m *MemoryStore) UpsertStockUniverse(_ context.Context, stocks []model.Stock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stocks {
		s.UpdatedAt = m.now()
		m.stocks[s.Symbol] = s
	}
	return nil
}

// DeactivateMissing marks every stock not in active as inactive
func (m *MemoryStore) DeactivateMissing(_ context.Context, active []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]struct{}, len(active))
	for _, s := range active {
		keep[s] = struct{}{}
	}

	var n int64
	for sym, s := range m.stocks {
		if _, ok := keep[sym]; ok || !s.IsActive {
			continue
		}
		s.IsActive = false
		s.UpdatedAt = m.now()
		m.stocks[sym] = s
		n++
	}
	return n, nil
}

// GetActiveUniverse lists active symbols alphabetically
func (m *MemoryStore) GetActiveUniverse(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for sym, s := range m.stocks {
		if s.IsActive {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CacheGet loads an unexpired entry into dest
func (m *MemoryStore) CacheGet(_ context.Context, key cache.Key, dest any) (bool, error) {
	m.mu.RLock()
	entry, ok := m.cache[normaliseKey(key)]
	now := m.now()
	m.mu.RUnlock()

	if !ok || !entry.expiresAt.After(now) {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return true, nil
}

// CachePut stores value for ttl
func (m *MemoryStore) CachePut(_ context.Context, key cache.Key, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[normaliseKey(key)] = cacheEntry{data: data, expiresAt: m.now().Add(ttl)}
	return nil
}

// PurgeExpiredCache drops expired entries
func (m *MemoryStore) PurgeExpiredCache(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for k, e := range m.cache {
		if !e.expiresAt.After(now) {
			delete(m.cache, k)
			n++
		}
	}
	return n, nil
}

func normaliseKey(k cache.Key) cache.Key {
	k.Date = model.Day(k.Date)
	return k
}
