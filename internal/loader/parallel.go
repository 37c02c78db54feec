package loader

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/scopus-ingest/internal/database"
	"github.com/helixir/scopus-ingest/internal/scopus"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 8

// Pool processes multiple batches concurrently. Each batch runs on its own
// Loader with a fresh id cache, so workers never share mutable state; the
// underlying connection pool is shared.
type Pool struct {
	db      *database.DB
	logger  zerolog.Logger
	workers int
	opts    []Option
}

// NewPool creates a Pool with the given worker count. A non-positive count
// falls back to DefaultWorkers. Loader options are applied to every worker's
// Loader.
func NewPool(db *database.DB, logger zerolog.Logger, workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{
		db:      db,
		logger:  logger,
		workers: workers,
		opts:    opts,
	}
}

// InsertBatches processes the given batches concurrently and returns the
// paper ids per batch, aligned to the input order. Each batch commits or
// rolls back independently; the first error cancels the remaining batches
// and is returned. Batches that committed before the failure stay committed.
func (p *Pool) InsertBatches(ctx context.Context, batches [][]*scopus.Record, opts ...BatchOption) ([][]int64, error) {
	results := make([][]int64, len(batches))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, batch := range batches {
		g.Go(func() error {
			worker := New(p.db, p.logger, p.opts...)
			ids, err := worker.InsertBatch(ctx, batch, opts...)
			if err != nil {
				return err
			}
			results[i] = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
