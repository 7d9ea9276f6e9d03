// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DraftsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forms_drafts_saved_total",
			Help: "Total number of drafts written to the local store",
		},
	)

	DraftsLoadCorrupted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forms_drafts_load_corrupted_total",
			Help: "Total number of stored drafts discarded as unreadable",
		},
	)

	MigrationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_migrations_applied_total",
			Help: "Total number of draft shape migrations applied",
		},
		[]string{"from", "to"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_submissions_total",
			Help: "Total number of submission attempts by result",
		},
		[]string{"result"},
	)

	RemoteSync = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_remote_sync_total",
			Help: "Total number of remote mirror writes by result",
		},
		[]string{"result"},
	)

	SubmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forms_submission_duration_seconds",
			Help:    "Duration of the local part of a submission in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BroadcastsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_broadcasts_published_total",
			Help: "Total number of change broadcasts published",
		},
		[]string{"transport"},
	)

	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forms_poll_cycles_total",
			Help: "Total number of remote poll cycles by result",
		},
		[]string{"result"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)

const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultDegraded = "degraded"
	ResultSkipped  = "skipped"
	ResultRejected = "rejected"
)
