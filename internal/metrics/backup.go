package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts completed backup jobs by terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_jobs_total",
			Help: "Total number of completed backup jobs by status",
		},
		[]string{"source", "status"},
	)

	// JobsSkipped counts triggers dropped because the source was already
	// running.
	JobsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_jobs_skipped_total",
			Help: "Total number of triggers skipped due to an in-flight job",
		},
		[]string{"source"},
	)

	// JobDuration observes end-to-end job durations.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backup_job_duration_seconds",
			Help:    "Backup job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"source"},
	)

	// UploadedBytes counts plaintext bytes successfully backed up.
	UploadedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_uploaded_bytes_total",
			Help: "Total plaintext bytes of successfully uploaded backups",
		},
		[]string{"source"},
	)

	// RetentionDeleted counts objects removed by retention passes.
	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_retention_deleted_total",
			Help: "Total number of backups deleted by retention",
		},
		[]string{"source"},
	)
)
