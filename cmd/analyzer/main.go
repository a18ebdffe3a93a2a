package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ZyrticX/DELTA-MIX/internal/app"
	"github.com/ZyrticX/DELTA-MIX/internal/config"
	"github.com/ZyrticX/DELTA-MIX/internal/model"
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
		symbols   = flag.String("symbols", "", "comma separated symbols to forecast (required)")
		dateFlag  = flag.String("date", "", "analysis date, YYYY-MM-DD (default: today)")
		lookback  = flag.Int("lookback", cfg.LookbackDays, "snapshot lookback in trading days")
		forward   = flag.Int("forward", cfg.ForwardDays, "snapshot forward horizon in trading days")
		threshold = flag.Float64("threshold", cfg.CorrelationThreshold, "snapshot correlation threshold")
	)
	flag.Parse()

	app.SetupLogging(cfg.LogLevel)
	log.Info().Msg("Starting pattern analyzer")
	if err := app.ApplyParams(cfg, *lookback, *forward, *threshold); err != nil {
		log.Fatal().Err(err).Msg("Invalid parameters")
	}
	app.PrintConfig(cfg)

	stocks := app.ParseSymbols(*symbols)
	if len(stocks) == 0 {
		log.Fatal().Msg("-symbols is required")
	}
	date, err := app.ParseDate(*dateFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -date")
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}

	if err := run(ctx, cfg, stocks, date); err != nil {
		log.Error().Err(err).Msg("Analysis failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, stocks []string, date time.Time) error {
	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	analysisCache, closeCache := app.OpenCache(ctx, cfg, store)
	defer closeCache()

	forecaster := backtest.NewForecaster(store, analysisCache, backtest.ForecasterOptions{
		SimilarityThreshold: cfg.SimilarityThreshold,
		HistoryLimit:        cfg.HistoryLimit,
		CacheTTL:            cfg.AnalysisCacheTTL,
	})

	params := cfg.Params()
	for _, stock := range stocks {
		forecast, err := forecaster.Predict(ctx, stock, date, params)
		if err != nil {
			return fmt.Errorf("predicting %s: %w", stock, err)
		}
		printPrediction(stock, date, forecast)
	}
	return nil
}

// printPrediction outputs one forecast
func printPrediction(stock string, date time.Time, f *model.Forecast) {
	fmt.Printf("\n===== PREDICTION: %s %s =====\n", stock, date.Format("2006-01-02"))
	if f == nil {
		fmt.Println("No prediction: no snapshot with matches on this date or no similar history")
		return
	}

	fmt.Printf("Direction: %s | Confidence: %.2f%% | Expected return: %.2f%%\n",
		f.Direction, f.Confidence, f.ExpectedReturn)
	fmt.Printf("Similar patterns: %d of %d candidates (up: %d, down: %d)\n",
		f.NumSimilarPatterns, f.HistoricalCandidates, f.UpCount, f.DownCount)
	fmt.Printf("Current matches: %d\n", f.CurrentMatches)
	fmt.Printf("Signature: %s\n", f.CurrentSignature)
	fmt.Printf("Most similar: %s (score %.3f)\n", f.MostSimilarDate.Format("2006-01-02"), f.MostSimilarScore)
}
