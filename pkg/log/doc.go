/*
Package log owns the daemon's root zerolog logger.

Init configures the root once at startup (level filter, JSON or console
output); every subsystem then derives a child logger tagged with its
component name and holds it on its own struct. Per-job execution logs
(the `.log` file served next to a job's status document) are a separate
concern handled by the status package; this package covers the daemon's
own logging.

# Usage

	log.Init(log.Config{
		Level:      "info",
		JSONOutput: true,
	})

	type Engine struct {
		log zerolog.Logger
	}
	e := &Engine{log: log.WithComponent("engine")}
	e.log.Info().Str("job_id", job.ID).Msg("job claimed")

# Log Output

JSON format (production):

	{"level":"info","component":"engine","job_id":"8bc7...","time":"2026-02-11T10:30:00Z","message":"job claimed"}

Console format (development):

	10:30:00 INF job claimed component=engine job_id=8bc7...

# Integration Points

  - pkg/engine: scheduler, worker, and janitor loop events
  - pkg/remote: adapter dispatch/monitor traces
  - pkg/staging: fetch/publish progress and retries
  - pkg/api: request logging middleware
  - pkg/provider: registration and probe outcomes
*/
package log
