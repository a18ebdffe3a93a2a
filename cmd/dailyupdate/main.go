package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ZyrticX/DELTA-MIX/internal/app"
	"github.com/ZyrticX/DELTA-MIX/internal/config"
	"github.com/ZyrticX/DELTA-MIX/internal/dailyupdate"
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
		syncUniverse = flag.Bool("sync-universe", false, "refresh the stock universe before updating")
		syncOnly     = flag.Bool("sync-only", false, "refresh the stock universe and exit")
	)
	flag.Parse()

	app.SetupLogging(cfg.LogLevel)
	app.PrintConfig(cfg)

	if err := run(ctx, cfg, *syncUniverse || *syncOnly, *syncOnly); err != nil {
		log.Error().Err(err).Msg("Daily update failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, syncUniverse, syncOnly bool) error {
	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := app.NewPriceClient(cfg)
	if err != nil {
		return err
	}

	analysisCache, closeCache := app.OpenCache(ctx, cfg, store)
	defer closeCache()

	opts := []dailyupdate.Option{
		dailyupdate.WithUniverseSource(app.UniverseSource(cfg)),
		dailyupdate.WithCaches(store),
	}
	if analysisCache != app.Cache(store) {
		opts = append(opts, dailyupdate.WithCaches(analysisCache))
	}

	updater := dailyupdate.New(client, store, app.NewEngine(cfg, store), cfg.Params(), opts...)

	if syncUniverse {
		n, err := updater.SyncUniverse(ctx)
		if err != nil {
			return fmt.Errorf("syncing universe: %w", err)
		}
		log.Info().Int("stocks", n).Msg("Stock universe synchronised")
		if syncOnly {
			return nil
		}
	}

	report, err := updater.Run(ctx)
	if report != nil {
		printReport(report)
	}
	return err
}

func printReport(r *dailyupdate.Report) {
	fmt.Println("\n===== DAILY UPDATE REPORT =====")
	fmt.Printf("Run: %s\n", r.RunID)
	fmt.Printf("Target date: %s\n", r.TargetDate.Format("2006-01-02"))
	fmt.Printf("Universe: %d | Refreshed: %d | Failed: %d\n", r.Universe, r.Refreshed, r.Universe-r.Refreshed)
	fmt.Printf("Eligible: %d | Insufficient history: %d\n", r.Eligible, r.InsufficientHistory)
	fmt.Printf("Snapshots produced: %d | Persisted: %d\n", r.Produced, r.Persisted)
	fmt.Printf("Cache entries purged: %d\n", r.CachePurged)
	fmt.Printf("Elapsed: %s\n", r.Elapsed)
}
