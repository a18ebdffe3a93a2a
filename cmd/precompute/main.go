package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/app"
	"github.com/ZyrticX/DELTA-MIX/internal/config"
	"github.com/ZyrticX/DELTA-MIX/internal/database"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
	"github.com/ZyrticX/DELTA-MIX/internal/precompute"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.SetupSignalHandling(cancel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		startFlag = flag.String("start", "", "first snapshot date, YYYY-MM-DD (default: first date with a full lookback window)")
		endFlag   = flag.String("end", "", "last snapshot date, YYYY-MM-DD (default: last available date)")
		symbols   = flag.String("symbols", "", "comma separated anchor symbols (default: active universe)")
		lookback  = flag.Int("lookback", cfg.LookbackDays, "correlation lookback in trading days")
		forward   = flag.Int("forward", cfg.ForwardDays, "forward return horizon in trading days")
		threshold = flag.Float64("threshold", cfg.CorrelationThreshold, "minimum correlation for a peer to match")
		testMode  = flag.Bool("test", false, "only process the first 10 symbols")
		dryRun    = flag.Bool("dry-run", false, "compute without a database; snapshots are kept in memory")
	)
	flag.Parse()

	app.SetupLogging(cfg.LogLevel)
	if err := app.ApplyParams(cfg, *lookback, *forward, *threshold); err != nil {
		log.Fatal().Err(err).Msg("Invalid parameters")
	}
	app.PrintConfig(cfg)

	start, err := app.ParseDate(*startFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -start")
	}
	end, err := app.ParseDate(*endFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -end")
	}

	if err := run(ctx, cfg, start, end, app.ParseSymbols(*symbols), *testMode, *dryRun); err != nil {
		log.Error().Err(err).Msg("Pre-computation failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, start, end time.Time, explicit []string, testMode, dryRun bool) error {
	var store database.Gateway
	if dryRun {
		log.Warn().Msg("Dry run: snapshots will not be persisted")
		store = database.NewMemoryStore()
	} else {
		s, closeStore, err := app.OpenStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		store = s
	}

	client, err := app.NewPriceClient(cfg)
	if err != nil {
		return err
	}

	symbols, err := app.ResolveSymbols(ctx, explicit, store, app.UniverseSource(cfg), testMode)
	if err != nil {
		return err
	}

	log.Info().Int("symbols", len(symbols)).Time("history_start", cfg.HistoryStart).Msg("Loading price history")
	bars, err := client.LoadSeries(ctx, symbols, cfg.HistoryStart)
	if err != nil {
		return fmt.Errorf("loading price history: %w", err)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no price data loaded")
	}

	ds := model.NewDataset(bars)
	params := cfg.Params()
	dates := precompute.TargetDates(ds, start, end, params.LookbackDays)
	if len(dates) == 0 {
		return fmt.Errorf("no trading dates with a full %d day lookback in range", params.LookbackDays)
	}

	engine := app.NewEngine(cfg, store)
	report, err := engine.ComputeAll(ctx, precompute.Request{
		Dataset: ds,
		Dates:   dates,
		Params:  params,
	})
	if report != nil {
		printReport(report)
	}
	return err
}

func printReport(r *precompute.Report) {
	fmt.Println("\n===== PRE-COMPUTATION REPORT =====")
	fmt.Printf("Run: %s\n", r.RunID)
	fmt.Printf("Stocks: %d | Dates: %d | Chunks: %d\n", r.Stocks, r.Dates, r.Chunks)
	fmt.Printf("Snapshots produced: %d (with future return: %d)\n", r.Produced, r.WithFutureReturn)
	fmt.Printf("Skipped: %d | Failed: %d\n", r.Skipped, r.Failed)
	fmt.Printf("Persisted: %d | Failed batches: %d\n", r.Persisted, r.FailedBatches)
	fmt.Printf("Elapsed: %s\n", r.Elapsed)
}
