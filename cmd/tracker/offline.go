package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/osa030/skiptracker/internal/app/stats"
	"github.com/osa030/skiptracker/internal/app/sweep"
	"github.com/osa030/skiptracker/internal/infra/config"
)

// runSweep performs one windowed sweep against the stats file and exits.
func runSweep(cfg *config.Config, dryRun bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	sweepCfg := sweep.Config{
		SkipThreshold: cfg.Tracker.SkipThreshold,
		Timeframe:     cfg.Tracker.Window(),
	}

	if dryRun {
		sweeper := sweep.New(sweepCfg, store, nil)
		sweeper.WarnSynthesized(store.Synthesized())
		candidates := sweeper.Candidates(time.Now())
		fmt.Printf("%d tracks reached %d skips within %s:\n", len(candidates), sweepCfg.SkipThreshold, sweepCfg.Timeframe)
		for _, id := range candidates {
			fmt.Printf("  %s\n", id)
		}
		return nil
	}

	spotifyClient, err := newSpotifyClient(ctx, cfg)
	if err != nil {
		return err
	}

	sweeper := sweep.New(sweepCfg, store, spotifyClient)
	sweeper.WarnSynthesized(store.Synthesized())
	result, err := sweeper.Run(ctx)
	if result != nil {
		printSweepResult(result)
	}
	return err
}

func printSweepResult(result *sweep.Result) {
	fmt.Printf("Checked %s tracks (window %s)\n", humanize.Comma(int64(result.Checked)), result.Window)
	fmt.Printf("Unliked: %d\n", len(result.Unliked))
	for _, id := range result.Unliked {
		fmt.Printf("  %s\n", id)
	}
	if len(result.Failed) > 0 {
		fmt.Printf("Failed: %d\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Printf("  %s: %s\n", f.TrackID, f.Error)
		}
	}
}

// runStats prints the most skipped tracks.
func runStats(cfg *config.Config, limit int) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	entries := store.Entries()
	fmt.Printf("%s tracked tracks in %s\n", humanize.Comma(int64(len(entries))), store.Path())
	if info, err := os.Stat(store.Path()); err == nil {
		fmt.Printf("Last written %s (%s)\n", humanize.Time(info.ModTime()), humanize.Bytes(uint64(info.Size())))
	}
	if len(entries) == 0 {
		return nil
	}
	printEntries(entries, limit, cfg.Tracker.Window().Duration())
	return nil
}

func printEntries(entries []stats.Entry, limit int, window time.Duration) {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	now := time.Now()

	fmt.Println()
	fmt.Printf("%-4s %-24s %8s %8s %8s  %s\n", "#", "TRACK", "SKIPPED", "PLAYED", "WINDOW", "LAST SKIP")
	for i, e := range entries {
		last := "-"
		if e.Stats.LastSkipped != nil {
			last = humanize.Time(e.Stats.LastSkipped.Time)
		}
		fmt.Printf("%-4s %-24s %8d %8d %8d  %s\n",
			humanize.Ordinal(i+1), e.TrackID, e.Stats.Skipped, e.Stats.NotSkipped,
			e.Stats.SkipsWithin(now, window), last)
	}
}
