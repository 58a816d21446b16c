package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ProcessesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trellis_processes_total",
			Help: "Total number of deployed processes",
		},
	)

	ProvidersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trellis_providers_total",
			Help: "Total number of registered remote providers",
		},
	)

	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trellis_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trellis_jobs_submitted_total",
			Help: "Total number of submitted jobs",
		},
	)

	JobsDismissed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trellis_jobs_dismissed_total",
			Help: "Total number of dismissed jobs",
		},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trellis_job_duration_seconds",
			Help:    "Job execution duration in seconds by terminal status",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"status"},
	)

	// Staging metrics
	StagedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_staging_bytes_total",
			Help: "Total bytes staged by direction (in or out)",
		},
		[]string{"direction"},
	)

	StagedFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_staging_files_total",
			Help: "Total files staged by direction (in or out)",
		},
		[]string{"direction"},
	)

	// Remote execution metrics
	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_remote_requests_total",
			Help: "Total number of remote execution requests by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)

	RemotePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_remote_polls_total",
			Help: "Total number of remote status polls by adapter",
		},
		[]string{"adapter"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trellis_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_notifications_total",
			Help: "Total number of job notification emails by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ProcessesTotal)
	prometheus.MustRegister(ProvidersTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsDismissed)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(StagedBytes)
	prometheus.MustRegister(StagedFiles)
	prometheus.MustRegister(RemoteRequestsTotal)
	prometheus.MustRegister(RemotePollsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(NotificationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
