package precompute

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/database"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/ZyrticX/DELTA-MIX/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start  = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	params = model.Params{LookbackDays: 15, ForwardDays: 15, CorrelationThreshold: 0.7, WindowType: model.WindowTradingDays}
)

// tradingDays returns n weekdays starting at start
func tradingDays(n int) []time.Time {
	var out []time.Time
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

func syntheticBars(days []time.Time, scale, phase float64) []model.Bar {
	bars := make([]model.Bar, len(days))
	for i, d := range days {
		p := scale * (100 + 8*math.Sin(float64(i)/4+phase) + 0.2*float64(i))
		bars[i] = model.Bar{Date: d, Close: p, AdjClose: p, Volume: 1e6 + 1e5*math.Cos(float64(i)/3+phase)}
	}
	return bars
}

func twoStockDataset() *model.Dataset {
	days := tradingDays(100)
	return model.NewDataset(map[string][]model.Bar{
		"XXX": syntheticBars(days, 1, 0),
		"YYY": syntheticBars(days, 2, 0),
	})
}

func newEngine(store SnapshotWriter, batch int) *Engine {
	return NewEngine(store, Options{Workers: 4, ChunkSize: 1, BatchSize: batch})
}

func TestComputeAllEndToEnd(t *testing.T) {
	ds := twoStockDataset()
	store := database.NewMemoryStore()
	dates := TargetDates(ds, time.Time{}, time.Time{}, params.LookbackDays)
	require.Len(t, dates, 86)

	report, err := newEngine(store, 1000).ComputeAll(context.Background(), Request{Dataset: ds, Dates: dates, Params: params})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Stocks)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 172, report.Produced)
	assert.Equal(t, 142, report.WithFutureReturn)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, 172, report.Persisted)
	assert.Equal(t, map[string]int{"persisted": 172}, report.UnitStates)
	assert.NotEmpty(t, report.RunID)

	for _, sym := range []string{"XXX", "YYY"} {
		snaps, err := store.QuerySnapshots(context.Background(), database.SnapshotFilter{Symbol: sym, Params: &params})
		require.NoError(t, err)
		require.Len(t, snaps, 86)

		withReturn := 0
		for i, s := range snaps {
			if s.FutureReturnPct != nil {
				withReturn++
				assert.NotEmpty(t, s.MovementType)
			} else {
				assert.Empty(t, s.MovementType)
				// newest first: only the tail of history lacks a return
				assert.Less(t, i, 15)
			}
			require.Len(t, s.MatchedStocks, 1)
			assert.InDelta(t, 1.0, *s.MatchedStocks[0].PriceCorr, 1e-9)
		}
		assert.Equal(t, 100-15+1-15, withReturn)
		peer := map[string]string{"XXX": "YYY", "YYY": "XXX"}[sym]
		assert.Equal(t, peer+":0.70", snaps[0].PatternSignature)
	}
}

func TestComputeAllIsIdempotent(t *testing.T) {
	ds := twoStockDataset()
	store := database.NewMemoryStore()
	dates := TargetDates(ds, time.Time{}, time.Time{}, params.LookbackDays)
	engine := newEngine(store, 25)
	req := Request{Dataset: ds, Dates: dates, Params: params}

	_, err := engine.ComputeAll(context.Background(), req)
	require.NoError(t, err)
	first, err := store.QuerySnapshots(context.Background(), database.SnapshotFilter{})
	require.NoError(t, err)

	_, err = engine.ComputeAll(context.Background(), req)
	require.NoError(t, err)
	second, err := store.QuerySnapshots(context.Background(), database.SnapshotFilter{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Key(), second[i].Key())
		assert.Equal(t, first[i].MatchedStocks, second[i].MatchedStocks)
		assert.Equal(t, first[i].FutureReturnPct, second[i].FutureReturnPct)
	}
}

func TestComputeStockSkipsMissingAnchorPrice(t *testing.T) {
	days := tradingDays(40)
	anchor := syntheticBars(days, 1, 0)
	anchor = append(anchor[:20], anchor[21:]...)
	ds := model.NewDataset(map[string][]model.Bar{
		"XXX": anchor,
		"YYY": syntheticBars(days, 1, 2),
	})

	engine := newEngine(database.NewMemoryStore(), 100)
	snaps, st := engine.ComputeStock(ds, "XXX", []time.Time{days[19], days[20], days[21]}, params)
	assert.Len(t, snaps, 2)
	assert.Equal(t, 2, st.Produced)
	assert.Equal(t, 1, st.Skipped)

	_, st = engine.ComputeStock(ds, "NOPE", []time.Time{days[19]}, params)
	assert.Equal(t, 1, st.Skipped)

	weekend := days[0].AddDate(0, 0, 5)
	_, st = engine.ComputeStock(ds, "XXX", []time.Time{weekend}, params)
	assert.Equal(t, 1, st.Skipped)
}

func TestComputeStockInsufficientHistoryHasNoMatches(t *testing.T) {
	ds := twoStockDataset()
	snaps, st := newEngine(database.NewMemoryStore(), 100).ComputeStock(ds, "XXX", ds.Dates()[:3], params)
	require.Len(t, snaps, 3)
	assert.Equal(t, 3, st.Produced)
	for _, s := range snaps {
		assert.Empty(t, s.MatchedStocks)
		assert.NotNil(t, s.FutureReturnPct)
	}
}

// failingStore rejects every batch containing the given stock
type failingStore struct {
	mu     sync.Mutex
	inner  *database.MemoryStore
	reject string
}

func (f *failingStore) UpsertSnapshots(ctx context.Context, batch []model.CorrelationSnapshot) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range batch {
		if s.StockSymbol == f.reject {
			return 0, &database.PersistenceError{Operation: "upsert_snapshots", Attempts: 3, Err: errors.New("timeout")}
		}
	}
	return f.inner.UpsertSnapshots(ctx, batch)
}

func TestComputeAllFailsBatchNotRun(t *testing.T) {
	ds := twoStockDataset()
	store := &failingStore{inner: database.NewMemoryStore(), reject: "XXX"}
	dates := TargetDates(ds, time.Time{}, time.Time{}, params.LookbackDays)

	report, err := newEngine(store, 40).ComputeAll(context.Background(), Request{Dataset: ds, Dates: dates, Params: params})
	require.Error(t, err)

	var perr *database.PersistenceError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, report.FailedBatches)
	assert.Equal(t, 86, report.Persisted)
	assert.Equal(t, 86, store.inner.Len())
	assert.Equal(t, map[string]int{"persisted": 86, "classified": 86}, report.UnitStates)
}

// panicOn returns a correlation that panics for one anchor stock and date
func panicOn(stock string, date time.Time) CorrelateFunc {
	return func(a, b *model.PriceSeries, anchor time.Time, lookback int, field model.Field) (float64, bool) {
		if a.Symbol == stock && anchor.Equal(date) {
			panic("corrupt window")
		}
		return stats.WindowedCorrelation(a, b, anchor, lookback, field)
	}
}

func TestComputeAllIsolatesPanickingUnit(t *testing.T) {
	ds := twoStockDataset()
	store := database.NewMemoryStore()
	dates := TargetDates(ds, time.Time{}, time.Time{}, params.LookbackDays)

	engine := NewEngine(store, Options{Workers: 4, ChunkSize: 1, BatchSize: 1000, Correlate: panicOn("XXX", dates[40])})
	report, err := engine.ComputeAll(context.Background(), Request{Dataset: ds, Dates: dates, Params: params})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 171, report.Produced)
	assert.Equal(t, 141, report.WithFutureReturn)
	assert.Equal(t, 171, report.Persisted)
	assert.Equal(t, map[string]int{"persisted": 171}, report.UnitStates)

	snaps, err := store.QuerySnapshots(context.Background(), database.SnapshotFilter{Symbol: "XXX", Params: &params})
	require.NoError(t, err)
	require.Len(t, snaps, 85)
	for _, s := range snaps {
		assert.False(t, s.SnapshotDate.Equal(dates[40]))
	}
}

func TestComputeUnitRecoversPanic(t *testing.T) {
	ds := twoStockDataset()
	dates := TargetDates(ds, time.Time{}, time.Time{}, params.LookbackDays)
	xxx, _ := ds.Series("XXX")
	yyy, _ := ds.Series("YYY")

	engine := NewEngine(database.NewMemoryStore(), Options{Correlate: panicOn("XXX", dates[0])})
	snap, _, err := engine.computeUnit(ds, xxx, []*model.PriceSeries{yyy}, dates[0], params)
	require.Error(t, err)
	assert.Nil(t, snap)

	var cerr *ComputationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "XXX", cerr.Stock)
	assert.Equal(t, StateScanningPeers, cerr.State)
	assert.Contains(t, err.Error(), "corrupt window")
}

func TestComputeUnitClassifiesWithoutForwardWindow(t *testing.T) {
	ds := twoStockDataset()
	dates := TargetDates(ds, time.Time{}, time.Time{}, params.LookbackDays)
	xxx, _ := ds.Series("XXX")
	yyy, _ := ds.Series("YYY")
	engine := NewEngine(database.NewMemoryStore(), Options{})

	snap, state, err := engine.computeUnit(ds, xxx, []*model.PriceSeries{yyy}, dates[len(dates)-1], params)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, StateClassified, state)
	assert.Nil(t, snap.FutureReturnPct)

	snap, state, err = engine.computeUnit(ds, xxx, []*model.PriceSeries{yyy}, dates[0], params)
	require.NoError(t, err)
	assert.Equal(t, StateClassified, state)
	assert.NotNil(t, snap.FutureReturnPct)
}

func TestPartitionIsDisjointCover(t *testing.T) {
	symbols := []string{"A", "B", "C", "A", "D", "E", "", "F", "G"}
	chunks := Partition(symbols, 3)
	require.Len(t, chunks, 3)

	var all []string
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 3)
		all = append(all, c...)
	}
	sort.Strings(all)
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F", "G"}, all)
}

func TestTargetDates(t *testing.T) {
	ds := twoStockDataset()
	all := ds.Dates()

	got := TargetDates(ds, all[50], all[60], 15)
	assert.Len(t, got, 11)
	assert.Equal(t, all[50], got[0])

	got = TargetDates(ds, time.Time{}, all[20], 15)
	assert.Len(t, got, 7)
	assert.Equal(t, all[14], got[0])
}

func TestUnitStateString(t *testing.T) {
	assert.Equal(t, "scanning_peers", StateScanningPeers.String())
	err := &ComputationError{Stock: "XXX", Date: start, State: StateComputingFutureReturn, Err: errors.New("boom")}
	assert.Contains(t, err.Error(), "computing_future_return")
}
