/*
Package metrics provides the Prometheus metrics for Trellis.

The metrics package defines the trellis_* collector set and a Timer
helper for histogram observations. The registry and job gauges are
republished from the store by the engine janitor; everything else is
incremented at the call site.

# Metrics

Registry:
  - trellis_processes_total: deployed processes
  - trellis_providers_total: registered remote providers

Jobs:
  - trellis_jobs_total{status}: jobs by status
  - trellis_jobs_submitted_total, trellis_jobs_dismissed_total
  - trellis_job_duration_seconds{status}: execution durations

Staging:
  - trellis_staging_bytes_total{direction}, trellis_staging_files_total{direction}

Remote execution:
  - trellis_remote_requests_total{adapter,outcome}
  - trellis_remote_polls_total{adapter}

API:
  - trellis_api_requests_total{method,status}
  - trellis_api_request_duration_seconds{method}

Notifications:
  - trellis_notifications_total{outcome}

# Usage

Serving metrics:

	mux.Handle("/metrics", metrics.Handler())

Timing an operation:

	timer := metrics.NewTimer()
	runJob(job)
	timer.ObserveDurationVec(metrics.JobDuration, string(job.Status))

# Integration Points

  - pkg/api: request middleware and the /metrics, /healthz routes
  - pkg/engine: job duration and submission counters
  - pkg/staging: byte and file counters
  - pkg/remote: adapter request and poll counters
  - pkg/notify: notification outcome counter

All metrics register against the default Prometheus registry in init, so
importing the package is enough to expose them.
*/
package metrics
