// Package main provides the batch ingestion CLI. It walks a directory of
// Scopus abstract retrieval JSON files, batches them, and loads them into
// PostgreSQL through a concurrent worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/scopus-ingest/internal/config"
	"github.com/helixir/scopus-ingest/internal/database"
	"github.com/helixir/scopus-ingest/internal/loader"
	"github.com/helixir/scopus-ingest/internal/observability"
	"github.com/helixir/scopus-ingest/internal/scopus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dataDir := flag.String("data-dir", "", "Directory containing Scopus JSON files (required)")
	batchSize := flag.Int("batch-size", 0, "Records per batch (default from config)")
	workers := flag.Int("workers", 0, "Concurrent batch workers (default from config)")
	preload := flag.Bool("preload", true, "Bulk upsert sources and affiliations before linking")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		return fmt.Errorf("-data-dir is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *batchSize <= 0 {
		*batchSize = cfg.Loader.BatchSize
	}
	if *workers <= 0 {
		*workers = cfg.Loader.Workers
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "ingest").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	batches, total, err := loadBatches(*dataDir, *batchSize, logger)
	if err != nil {
		return err
	}
	if total == 0 {
		logger.Warn().Str("data_dir", *dataDir).Msg("no records found")
		return nil
	}
	logger.Info().
		Int("records", total).
		Int("batches", len(batches)).
		Int("batch_size", *batchSize).
		Int("workers", *workers).
		Msg("starting ingestion")

	loaderOpts := []loader.Option{}
	if cfg.Metrics.Enabled {
		loaderOpts = append(loaderOpts, loader.WithMetrics(observability.NewMetrics(cfg.Metrics.Namespace)))
	}
	if !*preload || !cfg.Loader.PreloadDimensions {
		loaderOpts = append(loaderOpts, loader.DisableDimensionPreload())
	}

	pool := loader.NewPool(db, logger, *workers, loaderOpts...)

	start := time.Now()
	results, err := pool.InsertBatches(ctx, batches,
		loader.WithStages(func(stage string, current, total int) {
			logger.Debug().
				Str("stage", stage).
				Int("current", current).
				Int("total", total).
				Msg("stage")
		}),
	)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	loaded := 0
	for _, ids := range results {
		loaded += len(ids)
	}
	logger.Info().
		Int("papers", loaded).
		Dur("elapsed", time.Since(start)).
		Msg("ingestion complete")
	return nil
}

// loadBatches walks the data directory, parses every JSON file, and groups
// the records into batches. Files that fail to parse are logged and skipped.
func loadBatches(dataDir string, batchSize int, logger zerolog.Logger) ([][]*scopus.Record, int, error) {
	var batches [][]*scopus.Record
	var current []*scopus.Record
	total := 0

	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			logger.Warn().Err(readErr).Str("file", path).Msg("skipping unreadable file")
			return nil
		}

		rec, parseErr := scopus.ParseRecord(data)
		if parseErr != nil {
			logger.Warn().Err(parseErr).Str("file", path).Msg("skipping unparseable file")
			return nil
		}

		current = append(current, rec)
		total++
		if len(current) >= batchSize {
			batches = append(batches, current)
			current = nil
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk data directory: %w", err)
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, total, nil
}
