package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mds",
			Name:      "store_operation_duration_seconds",
			Help:      "Document store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection", "operation"},
	)

	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mds",
			Name:      "store_operations_total",
			Help:      "Document store operations by outcome",
		},
		[]string{"collection", "operation", "outcome"},
	)

	queryRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mds",
			Name:      "store_read_retries_total",
			Help:      "Read operations retried after a timeout",
		},
		[]string{"collection"},
	)

	indexRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mds",
			Name:      "relindex_rebuilds_total",
			Help:      "Relationship index rebuilds by result",
		},
		[]string{"result"},
	)

	indexRebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mds",
			Name:      "relindex_rebuild_duration_seconds",
			Help:      "Relationship index rebuild duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	indexUnmatchedSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mds",
			Name:      "relindex_unmatched_sources",
			Help:      "Package source URLs excluded from the current relationship index",
		},
	)
)

// RecordStoreOperation records a store call. outcome is a short error kind
// such as "ok", "not_found" or "query_timeout".
func RecordStoreOperation(collection, operation, outcome string, duration time.Duration) {
	queryDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
	queriesTotal.WithLabelValues(collection, operation, outcome).Inc()
}

// RecordReadRetry counts a read retried after a timeout.
func RecordReadRetry(collection string) {
	queryRetriesTotal.WithLabelValues(collection).Inc()
}

// RecordIndexRebuild records a relationship index rebuild.
func RecordIndexRebuild(duration time.Duration, unmatched int, err error) {
	indexRebuildDuration.Observe(duration.Seconds())
	if err != nil {
		indexRebuildsTotal.WithLabelValues("error").Inc()
		return
	}
	indexRebuildsTotal.WithLabelValues("ok").Inc()
	indexUnmatchedSources.Set(float64(unmatched))
}
