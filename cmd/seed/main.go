// cmd/seed loads the {order}_{collection}.json files of the seed directory
// (SEED_DIR) into the configured store, in ascending order.
//
// Usage:
//
//	seed [--clear]
//
// With --clear every target collection is emptied first. Record and file
// failures are reported in the summary and do not change the exit status;
// only configuration, connection and seed directory problems do. The
// memory backend is rejected since nothing would outlive the command.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/backend"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/config"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/logger"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/seed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var clearFirst bool

	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.BoolVar(&clearFirst, "clear", false, "delete every document of each target collection before loading")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// A memory store would be discarded on exit; the server preloads
	// SEED_DIR itself in that mode.
	if err := cfg.Store.RequirePersistent(); err != nil {
		return err
	}
	log, err := logger.New(cfg.App.LogLevel, cfg.App.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	files, err := seed.Discover(cfg.Seed.Dir)
	if err != nil {
		return err
	}
	log.Info("found seed files", zap.String("dir", cfg.Seed.Dir), zap.Int("count", len(files)))
	for _, f := range files {
		log.Info(fmt.Sprintf("  %s → %s (%s)", f.Order, f.Collection, f.Name))
	}

	db, closeStore, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	sum, err := seed.NewLoader(db, log, seed.WithClear(clearFirst)).Run(ctx, files)
	if err != nil {
		return fmt.Errorf("seeding interrupted: %w", err)
	}

	for _, c := range sum.Cleared {
		if c.Error != "" {
			log.Warn("collection not cleared", zap.String("collection", c.Collection), zap.String("error", c.Error))
		}
	}
	for _, f := range sum.Files {
		if f.Skipped != "" {
			log.Warn("file skipped", zap.String("file", f.File), zap.String("reason", f.Skipped))
		}
	}
	log.Info("seeding complete",
		zap.Int("collections", sum.Collections),
		zap.Int("documents", sum.Documents),
		zap.Int("errors", sum.Errors),
	)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: seed [--clear]\n\n")
	fmt.Fprintf(os.Stderr, "Loads {order}_{collection}.json files from SEED_DIR into the configured store.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flagSet.PrintDefaults()
}
