// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MappingSubmissionsTotal tracks mapping submissions by status
	MappingSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "mapping",
			Name:      "submissions_total",
			Help:      "Total number of mapping submissions by status",
		},
		[]string{"tenant_id", "operation", "status"},
	)

	// MappingSubmissionDuration tracks mapping submission duration in seconds
	MappingSubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "mapping",
			Name:      "submission_duration_seconds",
			Help:      "Duration of mapping submissions in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tenant_id", "operation"},
	)

	// MappingDeltaSize tracks the number of added and removed associations per submission
	MappingDeltaSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "mapping",
			Name:      "delta_size",
			Help:      "Number of association ids added or removed per submission",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"direction"},
	)

	// CandidateQueryDuration tracks candidate pool query duration
	CandidateQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "candidates",
			Name:      "query_duration_seconds",
			Help:      "Duration of candidate pool queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"mode"},
	)

	// CandidateCacheHits tracks candidate cache hits and misses
	CandidateCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "candidates",
			Name:      "cache_total",
			Help:      "Total number of candidate cache lookups by result",
		},
		[]string{"result"},
	)

	// SessionsActive tracks mapping sessions currently open
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of mapping sessions currently open",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// GraphSyncTotal tracks graph projection syncs by status
	GraphSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "graph",
			Name:      "sync_total",
			Help:      "Total number of graph projection syncs by status",
		},
		[]string{"status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordSubmission records a mapping submission metric
func RecordSubmission(tenantID, operation, status string, durationSeconds float64) {
	MappingSubmissionsTotal.WithLabelValues(tenantID, operation, status).Inc()
	MappingSubmissionDuration.WithLabelValues(tenantID, operation).Observe(durationSeconds)
}

// RecordDelta records the size of a submission delta
func RecordDelta(added, removed int) {
	MappingDeltaSize.WithLabelValues("added").Observe(float64(added))
	MappingDeltaSize.WithLabelValues("removed").Observe(float64(removed))
}

// RecordCandidateQuery records a candidate pool query
func RecordCandidateQuery(mode string, durationSeconds float64) {
	CandidateQueryDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordCandidateCache records a candidate cache lookup result
func RecordCandidateCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CandidateCacheHits.WithLabelValues(result).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
