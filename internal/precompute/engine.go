// Package precompute scans every (stock, date) pair of a price dataset for
// correlated peers and persists the resulting snapshots.
package precompute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/ZyrticX/DELTA-MIX/internal/pattern"
	"github.com/ZyrticX/DELTA-MIX/internal/stats"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SnapshotWriter persists snapshot batches
type SnapshotWriter interface {
	UpsertSnapshots(ctx context.Context, batch []model.CorrelationSnapshot) (int, error)
}

// CorrelateFunc measures the windowed correlation of two series at anchor
type CorrelateFunc func(a, b *model.PriceSeries, anchor time.Time, lookback int, field model.Field) (float64, bool)

// Options tune the engine
type Options struct {
	Workers     int
	ChunkSize   int
	BatchSize   int
	Thresholds  model.Thresholds
	PriceField  model.Field
	VolumeField model.Field
	// Correlate defaults to stats.WindowedCorrelation
	Correlate CorrelateFunc
}

// Engine computes correlation snapshots
type Engine struct {
	store  SnapshotWriter
	opts   Options
	logger zerolog.Logger
}

// NewEngine creates an engine writing through store
func NewEngine(store SnapshotWriter, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 50
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1000
	}
	if opts.Thresholds == (model.Thresholds{}) {
		opts.Thresholds = model.DefaultThresholds()
	}
	if opts.PriceField == "" {
		opts.PriceField = model.FieldAdjClose
	}
	if opts.VolumeField == "" {
		opts.VolumeField = model.FieldVolume
	}
	if opts.Correlate == nil {
		opts.Correlate = stats.WindowedCorrelation
	}

	return &Engine{
		store:  store,
		opts:   opts,
		logger: log.With().Str("component", "precompute").Logger(),
	}
}

// PriceField is the series field correlations and returns are computed on
func (e *Engine) PriceField() model.Field {
	return e.opts.PriceField
}

// Request describes one pre-computation run
type Request struct {
	Dataset *model.Dataset
	// Symbols are the anchors to compute; empty means every dataset symbol.
	// Peers are always every dataset symbol.
	Symbols []string
	Dates   []time.Time
	Params  model.Params
}

// Report summarises a run
type Report struct {
	RunID            string        `json:"run_id"`
	Stocks           int           `json:"stocks"`
	Dates            int           `json:"dates"`
	Chunks           int           `json:"chunks"`
	Produced         int           `json:"produced"`
	WithFutureReturn int           `json:"with_future_return"`
	Skipped          int           `json:"skipped"`
	Failed           int           `json:"failed"`
	Persisted        int           `json:"persisted"`
	FailedBatches    int           `json:"failed_batches"`
	// UnitStates counts units by the state they finished in. Failed units
	// are only counted in Failed.
	UnitStates map[string]int `json:"unit_states"`
	Elapsed    time.Duration  `json:"elapsed"`
}

// chunkResult is what one chunk contributes to the report
type chunkResult struct {
	stats     UnitStats
	states    map[UnitState]int
	persisted int
	errs      []error
}

// ComputeAll runs the full scan. A batch that cannot be persisted is reported
// in the returned error; all other batches are still written.
func (e *Engine) ComputeAll(ctx context.Context, req Request) (*Report, error) {
	if req.Dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	if req.Params.LookbackDays < 2 || req.Params.ForwardDays < 1 {
		return nil, fmt.Errorf("invalid params: lookback %d forward %d", req.Params.LookbackDays, req.Params.ForwardDays)
	}
	if req.Params.WindowType == "" {
		req.Params.WindowType = model.WindowTradingDays
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = req.Dataset.Symbols()
	}
	chunks := Partition(symbols, e.opts.ChunkSize)

	report := &Report{
		RunID:      uuid.New().String(),
		Dates:      len(req.Dates),
		Chunks:     len(chunks),
		UnitStates: make(map[string]int),
	}
	for _, c := range chunks {
		report.Stocks += len(c)
	}

	logger := e.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().
		Int("stocks", report.Stocks).
		Int("dates", report.Dates).
		Int("chunks", report.Chunks).
		Int("workers", e.opts.Workers).
		Int("lookback", req.Params.LookbackDays).
		Int("forward", req.Params.ForwardDays).
		Float64("threshold", req.Params.CorrelationThreshold).
		Msg("Starting snapshot pre-computation")

	start := time.Now()
	var (
		mu       sync.Mutex
		totals   UnitStats
		batchErr []error
		g        errgroup.Group
	)
	g.SetLimit(e.opts.Workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			res := e.processChunk(ctx, logger, i, chunk, req)

			mu.Lock()
			defer mu.Unlock()
			totals.add(res.stats)
			for state, n := range res.states {
				report.UnitStates[state.String()] += n
			}
			report.Persisted += res.persisted
			report.FailedBatches += len(res.errs)
			batchErr = append(batchErr, res.errs...)
			return nil
		})
	}
	_ = g.Wait()

	report.Produced = totals.Produced
	report.WithFutureReturn = totals.WithFutureReturn
	report.Skipped = totals.Skipped
	report.Failed = totals.Failed
	report.Elapsed = time.Since(start)

	logger.Info().
		Int("produced", report.Produced).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("persisted", report.Persisted).
		Int("failed_batches", report.FailedBatches).
		Dur("elapsed", report.Elapsed).
		Msg("Snapshot pre-computation finished")

	return report, errors.Join(batchErr...)
}

// processChunk computes every stock of a chunk, then flushes in batches.
// Rows of a written batch move from classified to persisted; rows of a
// rejected batch stay classified.
func (e *Engine) processChunk(ctx context.Context, logger zerolog.Logger, index int, chunk []string, req Request) chunkResult {
	res := chunkResult{states: make(map[UnitState]int)}
	var snapshots []model.CorrelationSnapshot
	for _, stock := range chunk {
		snaps, st := e.ComputeStock(req.Dataset, stock, req.Dates, req.Params)
		res.stats.add(st)
		snapshots = append(snapshots, snaps...)
	}
	if res.stats.Skipped > 0 {
		res.states[StateSkipped] = res.stats.Skipped
	}

	for start := 0; start < len(snapshots); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(snapshots))
		n, err := e.store.UpsertSnapshots(ctx, snapshots[start:end])
		if err != nil {
			logger.Error().
				Err(err).
				Int("chunk", index).
				Int("batch_start", start).
				Int("batch_rows", end-start).
				Msg("Snapshot batch could not be persisted")
			res.errs = append(res.errs, fmt.Errorf("chunk %d batch at %d: %w", index, start, err))
			res.states[StateClassified] += end - start
			continue
		}
		res.persisted += n
		res.states[StatePersisted] += end - start
	}

	logger.Debug().
		Int("chunk", index).
		Int("stocks", len(chunk)).
		Int("snapshots", len(snapshots)).
		Int("persisted", res.persisted).
		Msg("Chunk complete")
	return res
}

// ComputeStock builds the snapshots of one anchor stock for every date.
// Units with no anchor price on the date are skipped; units that fail are
// logged and dropped.
func (e *Engine) ComputeStock(ds *model.Dataset, stock string, dates []time.Time, params model.Params) ([]model.CorrelationSnapshot, UnitStats) {
	var st UnitStats

	anchor, ok := ds.Series(stock)
	if !ok {
		st.Skipped = len(dates)
		return nil, st
	}

	peers := make([]*model.PriceSeries, 0, len(ds.Symbols()))
	for _, sym := range ds.Symbols() {
		if sym == stock {
			continue
		}
		if s, ok := ds.Series(sym); ok {
			peers = append(peers, s)
		}
	}

	out := make([]model.CorrelationSnapshot, 0, len(dates))
	for _, date := range dates {
		snap, state, err := e.computeUnit(ds, anchor, peers, date, params)
		switch {
		case err != nil:
			st.Failed++
			e.logger.Warn().Err(err).Str("stock", stock).Time("date", date).Msg("Skipping unit after computation error")
		case state == StateSkipped:
			st.Skipped++
		default:
			st.Produced++
			if snap.FutureReturnPct != nil {
				st.WithFutureReturn++
			}
			out = append(out, *snap)
		}
	}
	return out, st
}

// computeUnit runs one (stock, date) through the state machine
func (e *Engine) computeUnit(ds *model.Dataset, anchor *model.PriceSeries, peers []*model.PriceSeries, date time.Time, params model.Params) (snap *model.CorrelationSnapshot, state UnitState, err error) {
	state = StatePending
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = &ComputationError{Stock: anchor.Symbol, Date: date, State: state, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	day := model.Day(date)
	idx, ok := ds.IndexOf(day)
	if !ok || !ds.Dates()[idx].Equal(day) || math.IsNaN(anchor.Value(e.opts.PriceField, idx)) {
		return nil, StateSkipped, nil
	}

	state = StateScanningPeers
	matched := make([]model.MatchedStock, 0)
	for _, peer := range peers {
		pc, priceOK := e.opts.Correlate(anchor, peer, day, params.LookbackDays, e.opts.PriceField)
		vc, volumeOK := e.opts.Correlate(anchor, peer, day, params.LookbackDays, e.opts.VolumeField)

		if !(priceOK && pc >= params.CorrelationThreshold) && !(volumeOK && vc >= params.CorrelationThreshold) {
			continue
		}

		m := model.MatchedStock{Symbol: peer.Symbol}
		if priceOK {
			m.PriceCorr = &pc
		}
		if volumeOK {
			m.VolumeCorr = &vc
		}
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Symbol < matched[j].Symbol })

	snap = &model.CorrelationSnapshot{
		StockSymbol:      anchor.Symbol,
		SnapshotDate:     day,
		Params:           params,
		MatchedStocks:    matched,
		NumMatches:       len(matched),
		PatternSignature: pattern.Signature(matched, params.CorrelationThreshold),
	}

	state = StateComputingFutureReturn
	if ret, ok := stats.ForwardReturn(anchor, day, params.ForwardDays, e.opts.PriceField); ok {
		snap.FutureReturnPct = &ret
		snap.MovementType = stats.ClassifyMovement(ret, e.opts.Thresholds)
	}

	// without a forward window the unit is classified with no movement
	state = StateClassified

	return snap, state, nil
}

// Partition splits symbols into disjoint chunks of at most size, dropping
// duplicates. Every symbol lands in exactly one chunk.
func Partition(symbols []string, size int) [][]string {
	if size < 1 {
		size = 1
	}

	seen := make(map[string]struct{}, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}

	var chunks [][]string
	for start := 0; start < len(unique); start += size {
		end := min(start+size, len(unique))
		chunks = append(chunks, unique[start:end])
	}
	return chunks
}

// TargetDates lists the trading dates in [start, end] that have a full
// lookback window behind them. Zero bounds are open.
func TargetDates(ds *model.Dataset, start, end time.Time, lookback int) []time.Time {
	dates := ds.Dates()
	if lookback < 1 {
		lookback = 1
	}
	if len(dates) < lookback {
		return nil
	}

	var out []time.Time
	for _, d := range dates[lookback-1:] {
		if !start.IsZero() && d.Before(model.Day(start)) {
			continue
		}
		if !end.IsZero() && d.After(model.Day(end)) {
			continue
		}
		out = append(out, d)
	}
	return out
}
