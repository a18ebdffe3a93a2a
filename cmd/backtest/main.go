package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/app"
	"github.com/ZyrticX/DELTA-MIX/internal/config"
	"github.com/ZyrticX/DELTA-MIX/internal/trading/backtest"
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
		startFlag = flag.String("start", "", "first date to test, YYYY-MM-DD (default: 90 days before -end)")
		endFlag   = flag.String("end", "", "last date to test, YYYY-MM-DD (default: today)")
		symbols   = flag.String("symbols", "", "comma separated symbols (default: active universe)")
		lookback  = flag.Int("lookback", cfg.LookbackDays, "snapshot lookback in trading days")
		forward   = flag.Int("forward", cfg.ForwardDays, "snapshot forward horizon in trading days")
		threshold = flag.Float64("threshold", cfg.CorrelationThreshold, "snapshot correlation threshold")
		testMode  = flag.Bool("test", false, "only test the first 10 symbols")
		asJSON    = flag.Bool("json", false, "print results as JSON")
	)
	flag.Parse()

	app.SetupLogging(cfg.LogLevel)
	if err := app.ApplyParams(cfg, *lookback, *forward, *threshold); err != nil {
		log.Fatal().Err(err).Msg("Invalid parameters")
	}
	app.PrintConfig(cfg)

	end, err := app.ParseDate(*endFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -end")
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start, err := app.ParseDate(*startFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -start")
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -90)
	}

	if err := run(ctx, cfg, start, end, app.ParseSymbols(*symbols), *testMode, *asJSON); err != nil {
		log.Error().Err(err).Msg("Backtest failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, start, end time.Time, explicit []string, testMode, asJSON bool) error {
	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	symbols, err := app.ResolveSymbols(ctx, explicit, store, nil, testMode)
	if err != nil {
		return err
	}

	// Every (stock, date) is visited once, so forecasts are not cached
	forecaster := backtest.NewForecaster(store, nil, backtest.ForecasterOptions{
		SimilarityThreshold: cfg.SimilarityThreshold,
		HistoryLimit:        cfg.HistoryLimit,
	})
	engine := backtest.NewEngine(forecaster)

	results, err := engine.Run(ctx, backtest.Request{
		Stocks:    symbols,
		StartDate: start,
		EndDate:   end,
		Params:    cfg.Params(),
	})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	fmt.Println(engine.FormatResults(results))
	return nil
}
