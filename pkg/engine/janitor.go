package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/trellisproc/trellis/pkg/metrics"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/types"
)

// janitorLoop periodically reclaims what finished jobs leave behind
func (e *Engine) janitorLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.janitorTck)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-e.stopCh:
			return
		}
		e.sweep()
	}
}

// sweep runs one janitor cycle
func (e *Engine) sweep() {
	e.reapWorkspaces()
	e.recoverLostJobs()
	e.purgeTokens()
	e.refreshGauges()
}

// reapWorkspaces removes the scratch dirs of jobs finished longer ago
// than the retention window. Dirs without a job record are removed once
// they outlive the window.
func (e *Engine) reapWorkspaces() {
	infos, err := e.spaces.List()
	if err != nil {
		e.log.Error().Err(err).Msg("cannot list workspaces")
		return
	}

	cutoff := time.Now().Add(-e.retention)
	for _, info := range infos {
		if e.isActive(info.JobID) {
			continue
		}
		job, err := e.store.GetJob(info.JobID)
		switch {
		case errors.Is(err, types.ErrJobNotFound):
			if info.ModTime.After(cutoff) {
				continue
			}
		case err != nil:
			continue
		case !job.Status.Terminal():
			continue
		case job.Finished != nil && job.Finished.After(cutoff):
			continue
		case job.Finished == nil && info.ModTime.After(cutoff):
			continue
		}

		if err := e.spaces.Delete(info.JobID); err != nil {
			e.log.Warn().Err(err).Str("job_id", info.JobID).Msg("cannot remove workspace")
			continue
		}
		e.log.Debug().Str("job_id", info.JobID).Msg("workspace removed")
	}
}

// recoverLostJobs fails running jobs that no live worker owns, which
// only happens after a crash restart
func (e *Engine) recoverLostJobs() {
	jobs, _, err := e.store.FindJobs(storage.JobFilter{
		Status: []types.JobStatus{types.JobRunning},
	})
	if err != nil {
		e.log.Error().Err(err).Msg("cannot scan running jobs")
		return
	}
	for _, job := range jobs {
		if e.isActive(job.ID) {
			continue
		}
		e.log.Warn().Str("job_id", job.ID).Msg("running job has no worker")
		e.fail(job, e.jobTitle(job), fmt.Errorf("worker lost"))
	}
}

func (e *Engine) purgeTokens() {
	n, err := e.store.PurgeExpiredTokens()
	if err != nil {
		e.log.Error().Err(err).Msg("cannot purge expired tokens")
		return
	}
	if n > 0 {
		e.log.Info().Int("tokens", n).Msg("expired tokens purged")
	}
}

// refreshGauges republishes the store-derived gauges so restarts do not
// zero them out
func (e *Engine) refreshGauges() {
	if procs, err := e.store.ListProcesses(""); err == nil {
		metrics.ProcessesTotal.Set(float64(len(procs)))
	}
	if svcs, err := e.store.ListServices(); err == nil {
		metrics.ProvidersTotal.Set(float64(len(svcs)))
	}
	for _, s := range []types.JobStatus{
		types.JobAccepted, types.JobRunning, types.JobSucceeded,
		types.JobFailed, types.JobDismissed, types.JobException,
	} {
		_, total, err := e.store.FindJobs(storage.JobFilter{Status: []types.JobStatus{s}, Limit: 1})
		if err != nil {
			continue
		}
		metrics.JobsTotal.WithLabelValues(string(s)).Set(float64(total))
	}
}
