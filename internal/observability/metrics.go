package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ingestion service.
// Counters and histograms are registered via promauto with the default
// Prometheus registry.
type Metrics struct {
	// BatchesStarted counts the total number of batches submitted to the loader.
	BatchesStarted prometheus.Counter

	// BatchesCompleted counts the total number of batches that committed successfully.
	BatchesCompleted prometheus.Counter

	// BatchesFailed counts the total number of batches that rolled back.
	BatchesFailed prometheus.Counter

	// BatchDuration observes the end-to-end duration of a batch in seconds.
	BatchDuration prometheus.Histogram

	// PapersUpserted counts the total number of paper rows inserted or updated.
	PapersUpserted prometheus.Counter

	// DimensionRowsUpserted counts dimension rows upserted, labeled by dimension kind.
	DimensionRowsUpserted *prometheus.CounterVec

	// LinkRowsWritten counts link rows written, labeled by link table.
	LinkRowsWritten *prometheus.CounterVec

	// LinksSkipped counts link rows skipped due to unresolved references, labeled by link table.
	LinksSkipped *prometheus.CounterVec

	// FallbackUpserts counts single-row fallback upserts performed after a cache miss,
	// labeled by dimension kind.
	FallbackUpserts *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		BatchesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of batches submitted to the loader",
		}),
		BatchesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of batches committed successfully",
		}),
		BatchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Total number of batches that failed and rolled back",
		}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch processing in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PapersUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_upserted_total",
			Help:      "Total number of paper rows inserted or updated",
		}),
		DimensionRowsUpserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dimension_rows_upserted_total",
			Help:      "Total number of dimension rows upserted by kind",
		}, []string{"dimension"}),
		LinkRowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_rows_written_total",
			Help:      "Total number of link rows written by table",
		}, []string{"table"}),
		LinksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_skipped_total",
			Help:      "Total number of link rows skipped due to unresolved references",
		}, []string{"table"}),
		FallbackUpserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_upserts_total",
			Help:      "Total number of single-row fallback upserts after cache misses",
		}, []string{"dimension"}),
	}
}

// RecordBatchStarted records that a batch has been submitted.
func (m *Metrics) RecordBatchStarted() {
	m.BatchesStarted.Inc()
}

// RecordBatchCompleted records a successful batch and its duration.
func (m *Metrics) RecordBatchCompleted(durationSeconds float64, paperCount int) {
	m.BatchesCompleted.Inc()
	m.BatchDuration.Observe(durationSeconds)
	m.PapersUpserted.Add(float64(paperCount))
}

// RecordBatchFailed records a failed batch and its duration.
func (m *Metrics) RecordBatchFailed(durationSeconds float64) {
	m.BatchesFailed.Inc()
	m.BatchDuration.Observe(durationSeconds)
}

// RecordDimensionRows records dimension rows upserted for one kind.
func (m *Metrics) RecordDimensionRows(dimension string, count int) {
	m.DimensionRowsUpserted.WithLabelValues(dimension).Add(float64(count))
}

// RecordLinkRows records link rows written to one table.
func (m *Metrics) RecordLinkRows(table string, count int) {
	m.LinkRowsWritten.WithLabelValues(table).Add(float64(count))
}

// RecordLinkSkipped records a link row skipped due to an unresolved reference.
func (m *Metrics) RecordLinkSkipped(table string) {
	m.LinksSkipped.WithLabelValues(table).Inc()
}

// RecordFallbackUpsert records a single-row fallback upsert for one dimension kind.
func (m *Metrics) RecordFallbackUpsert(dimension string) {
	m.FallbackUpserts.WithLabelValues(dimension).Inc()
}
