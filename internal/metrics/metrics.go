// Package metrics — операционные счетчики очереди загрузок.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadq_jobs_enqueued_total",
		Help: "Number of jobs added to the upload queue.",
	})
	JobsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadq_jobs_succeeded_total",
		Help: "Number of jobs finished with status Success.",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadq_jobs_failed_total",
		Help: "Number of jobs finished with status Failed.",
	})
	JobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadq_jobs_retried_total",
		Help: "Number of failed jobs reset back to Queued.",
	})
	TransfersStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uploadq_transfers_started_total",
		Help: "Number of transfers accepted by the transfer gateway.",
	})

	QueuedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uploadq_jobs_queued",
		Help: "Jobs currently waiting in the queue.",
	})
	UploadingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uploadq_jobs_uploading",
		Help: "Jobs currently in flight (0 or 1).",
	})
)
