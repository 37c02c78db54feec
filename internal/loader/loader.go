// Package loader implements the batch ingestion pipeline that writes Scopus
// records into the relational schema. A batch is processed in two phases:
// dimension rows (venues, institutions, authors, subjects, keywords) are
// deduplicated and bulk-upserted first, then paper rows and their link
// tables are written using the cached dimension ids.
package loader

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/helixir/scopus-ingest/internal/database"
	"github.com/helixir/scopus-ingest/internal/domain"
	"github.com/helixir/scopus-ingest/internal/observability"
	"github.com/helixir/scopus-ingest/internal/scopus"
)

// ProgressFunc is called after each record is gathered, with the number of
// records processed so far and the batch total.
type ProgressFunc func(done, total int)

// StageFunc is called as the pipeline moves between stages. Stage counters
// restart for the dimension phase and the linking phase.
type StageFunc func(stage string, current, total int)

// Loader writes batches of Scopus records into the database.
//
// A Loader constructed with New owns its transactions: each InsertBatch runs
// in a transaction that commits on success and rolls back on error. A Loader
// constructed with NewWithTx runs against a caller-managed transaction and
// never commits or rolls back.
//
// A Loader is not safe for concurrent use; the id cache is unsynchronized.
// Use Pool to process batches in parallel.
type Loader struct {
	db      *database.DB
	tx      database.DBTX
	logger  zerolog.Logger
	metrics *observability.Metrics
	cache   *idCache

	preloadDimensions bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithMetrics attaches Prometheus metrics to the loader.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// DisableDimensionPreload skips the bulk upsert of sources and affiliations.
// Author, subject, and keyword dimensions are still bulk-upserted; source
// resolution falls back to single-row upserts and affiliation links are
// skipped. Intended for reloads where venue and institution rows are already
// in place.
func DisableDimensionPreload() Option {
	return func(l *Loader) {
		l.preloadDimensions = false
	}
}

// New creates a Loader that owns its transactions on the given database.
func New(db *database.DB, logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		db:                db,
		logger:            logger,
		cache:             newIDCache(),
		preloadDimensions: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewWithTx creates a Loader that runs against a caller-managed transaction.
// The caller is responsible for committing or rolling back.
func NewWithTx(tx database.DBTX, logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		tx:                tx,
		logger:            logger,
		cache:             newIDCache(),
		preloadDimensions: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BatchOption configures one InsertBatch call.
type BatchOption func(*batchOptions)

type batchOptions struct {
	progress ProgressFunc
	stage    StageFunc
}

// WithProgress registers a per-record progress callback.
func WithProgress(fn ProgressFunc) BatchOption {
	return func(o *batchOptions) {
		o.progress = fn
	}
}

// WithStages registers a stage transition callback.
func WithStages(fn StageFunc) BatchOption {
	return func(o *batchOptions) {
		o.stage = fn
	}
}

// InsertBatch writes a batch of records and returns internal paper ids
// aligned to the input order. An empty batch returns an empty slice without
// touching the database.
//
// The batch is all-or-nothing when the loader owns its transaction: the
// first failing record aborts the batch and nothing is committed. With a
// caller-managed transaction the error is returned and the transaction is
// left to the caller.
func (l *Loader) InsertBatch(ctx context.Context, records []*scopus.Record, opts ...BatchOption) ([]int64, error) {
	if len(records) == 0 {
		return []int64{}, nil
	}

	var options batchOptions
	for _, opt := range opts {
		opt(&options)
	}

	for idx, rec := range records {
		if rec == nil {
			return nil, domain.NewMalformedRecordError(idx, "nil record")
		}
		if err := rec.Validate(); err != nil {
			return nil, domain.NewMalformedRecordError(idx, err.Error())
		}
	}

	batchID := uuid.NewString()
	logger := observability.WithBatchContext(l.logger, batchID, len(records))
	logger.Info().Msg("starting batch")

	start := time.Now()
	if l.metrics != nil {
		l.metrics.RecordBatchStarted()
	}

	var paperIDs []int64
	var err error
	if l.tx != nil {
		paperIDs, err = l.run(ctx, l.tx, records, options)
	} else {
		err = l.db.WithTransaction(ctx, func(tx pgx.Tx) error {
			var runErr error
			paperIDs, runErr = l.run(ctx, tx, records, options)
			return runErr
		})
	}

	elapsed := time.Since(start)
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordBatchFailed(elapsed.Seconds())
		}
		evt := logger.Error().Err(err).Dur("elapsed", elapsed)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			evt = evt.Str("sqlstate", pgErr.Code)
		}
		evt.Msg("batch failed")
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.RecordBatchCompleted(elapsed.Seconds(), len(paperIDs))
	}
	logger.Info().
		Int("papers", len(paperIDs)).
		Dur("elapsed", elapsed).
		Msg("batch completed")

	return paperIDs, nil
}

func (l *Loader) run(ctx context.Context, q database.DBTX, records []*scopus.Record, options batchOptions) ([]int64, error) {
	reportStage(options.stage, "extracting dimensions", 0, 2)
	sets := scopus.ExtractDimensions(records, !l.preloadDimensions)

	reportStage(options.stage, "upserting dimensions", 1, 2)
	if err := l.upsertDimensions(ctx, q, sets, options.stage); err != nil {
		return nil, err
	}

	return l.insertPapersAndLinks(ctx, q, records, options.progress, options.stage)
}

func (l *Loader) recordDimensionRows(dimension string, count int) {
	if l.metrics != nil {
		l.metrics.RecordDimensionRows(dimension, count)
	}
}

func (l *Loader) recordLinkRows(table string, count int) {
	if l.metrics != nil {
		l.metrics.RecordLinkRows(table, count)
	}
}

func (l *Loader) recordLinkSkipped(table string) {
	if l.metrics != nil {
		l.metrics.RecordLinkSkipped(table)
	}
}

func (l *Loader) recordFallbackUpsert(dimension string) {
	if l.metrics != nil {
		l.metrics.RecordFallbackUpsert(dimension)
	}
}

func reportStage(fn StageFunc, stage string, current, total int) {
	if fn != nil {
		fn(stage, current, total)
	}
}

func reportProgress(fn ProgressFunc, done, total int) {
	if fn != nil {
		fn(done, total)
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
