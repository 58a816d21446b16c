package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/trellisproc/trellis/pkg/client"
	"github.com/trellisproc/trellis/pkg/events"
	"github.com/trellisproc/trellis/pkg/iomodel"
	"github.com/trellisproc/trellis/pkg/metrics"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/remote"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/wps"
)

// dispatch is one step's resolved execution target
type dispatch struct {
	adapter remote.Process
	host    string
	local   bool
}

// runJob executes one claimed job end to end and settles its terminal
// state. It owns every write to the job record while it runs.
func (e *Engine) runJob(ctx context.Context, handle *jobHandle, job *types.Job) {
	title := e.jobTitle(job)

	results, err := e.executeJob(ctx, handle, job, title)

	switch {
	case handle.isDismissed():
		e.dismissClaimed(handle, job, title)
	case err != nil:
		e.fail(job, title, err)
	default:
		e.succeed(job, title, results)
	}
}

// workerFault marks a crash of the worker itself, as opposed to a
// failure of the process run; fail reports it with the exception status
type workerFault struct {
	err error
}

func (f *workerFault) Error() string { return f.err.Error() }
func (f *workerFault) Unwrap() error { return f.err }

// executeJob runs the pipeline under a panic guard so a broken package
// can never take the worker down with it
func (e *Engine) executeJob(ctx context.Context, handle *jobHandle, job *types.Job, title string) (results []types.IOEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &workerFault{err: types.ExecutionError(job.ProcessID, fmt.Errorf("internal failure: %v", r))}
			e.log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("job worker panicked")
		}
	}()

	if err := job.SetStatus(types.JobRunning); err != nil {
		return nil, err
	}
	job.SetProgress(ProgressPrepLog)
	job.StatusMessage = "Job started."
	job.SaveLog("")
	if err := e.store.SaveJob(job); err != nil {
		return nil, fmt.Errorf("save job %s: %w", job.ID, err)
	}
	e.writeStatus(job, title)
	e.syncLog(job, status.LevelInfo)
	e.publish(events.EventJobRunning, job.ID, "job running")

	if job.Service != "" {
		return e.runProviderJob(ctx, handle, job, title)
	}
	return e.runProcessJob(ctx, handle, job, title)
}

// runProcessJob executes a deployed process: plan the package, stage the
// inputs, drive every step through its adapter and publish the outputs
func (e *Engine) runProcessJob(ctx context.Context, handle *jobHandle, job *types.Job, title string) ([]types.IOEntry, error) {
	proc, err := e.store.GetProcess(job.ProcessID)
	if err != nil {
		return nil, err
	}

	e.advance(job, title, ProgressLaunching, "Launching job execution.")

	e.advance(job, title, ProgressLoading, "Loading package content.")
	plan, err := e.loader.BuildPlan(ctx, proc.ID, proc.Package, e.locateStep)
	if err != nil {
		return nil, err
	}
	job.IsWorkflow = plan.Kind == types.ProcessKindWorkflow

	ws, err := e.spaces.Create(job.ID)
	if err != nil {
		return nil, fmt.Errorf("create workspace for job %s: %w", job.ID, err)
	}

	e.advance(job, title, ProgressGetInput, "Retrieving job inputs.")
	remoteInputs := job.Inputs
	localInputs := job.Inputs
	if e.planNeedsWorkspace(plan) {
		staged, err := e.stager.StageInputs(ctx, ws, job.Inputs)
		if err != nil {
			return nil, types.ExecutionError(job.ProcessID, err)
		}
		localInputs = overlayStaged(job.Inputs, staged)
	}

	e.advance(job, title, ProgressConvertInput, "Converting inputs for dispatch.")

	jobRoot := e.jobOutputDir(job)
	stepResults := make(map[string]map[string]types.IOEntry, len(plan.Steps))
	var lastResults []types.IOEntry

	for k, step := range plan.Steps {
		lo, hi := remote.StepWindow(k+1, len(plan.Steps), ProgressRunSteps, ProgressStepsDone)

		workDir := ws.Root
		outDir := jobRoot
		if plan.Kind == types.ProcessKindWorkflow {
			workDir = filepath.Join(ws.Root, step.Name)
			outDir = filepath.Join(jobRoot, step.Name)
		}

		d, err := e.dispatchFor(job, step, workDir)
		if err != nil {
			return nil, types.ExecutionError(job.ProcessID, fmt.Errorf("step %s: %w", step.Name, err))
		}

		inputs := localInputs
		if !d.local {
			inputs = remoteInputs
		}
		inputs = threadInputs(plan.Kind, step, inputs, stepResults)
		if d.local && plan.Kind == types.ProcessKindWorkflow {
			if inputs, err = e.localizeInputs(ctx, inputs, workDir); err != nil {
				return nil, types.ExecutionError(job.ProcessID, fmt.Errorf("step %s: %w", step.Name, err))
			}
		}

		var expected []remote.ExpectedOutput
		if step.Hints.WPS1 != nil {
			expected, err = e.expectedFromWPS(ctx, step.Hints.WPS1.Provider, stepProcessID(step))
		} else {
			expected, err = expectedForStep(step)
		}
		if err != nil {
			return nil, types.ExecutionError(job.ProcessID, fmt.Errorf("step %s: %w", step.Name, err))
		}

		handle.setAdapter(d.adapter)
		rep := e.stepReporter(job, title, step.Name, d.host, lo, hi)
		results, err := remote.Execute(ctx, d.adapter, inputs, outDir, expected, rep)
		handle.setAdapter(nil)
		if err != nil {
			return nil, types.ExecutionError(job.ProcessID, fmt.Errorf("step %s: %w", step.Name, err))
		}

		stepResults[step.Name] = indexEntries(results)
		lastResults = results
	}

	e.advance(job, title, ProgressStepsDone, "Workflow steps complete.")
	e.advance(job, title, ProgressPrepOutput, "Collecting job outputs.")
	return e.publishResults(ctx, job, plan, lastResults, stepResults)
}

// runProviderJob forwards the execution to a registered provider and
// brings its results home
func (e *Engine) runProviderJob(ctx context.Context, handle *jobHandle, job *types.Job, title string) ([]types.IOEntry, error) {
	svc, err := e.store.GetService(job.Service)
	if err != nil {
		return nil, err
	}

	e.advance(job, title, ProgressLaunching, "Launching job execution.")

	var adapter remote.Process
	var expected []remote.ExpectedOutput
	switch svc.Type {
	case types.ServiceTypeAPI:
		if expected, err = e.expectedFromAPI(ctx, svc.URL, job.ProcessID); err != nil {
			return nil, types.ExecutionError(job.ProcessID, err)
		}
		adapter = remote.NewAPIProcesses(svc.URL, job.ProcessID, e.http, e.stager, "")
	default:
		if expected, err = e.expectedFromWPS(ctx, svc.URL, job.ProcessID); err != nil {
			return nil, types.ExecutionError(job.ProcessID, err)
		}
		adapter = remote.NewWPS1(svc.URL, job.ProcessID, e.clients, e.stager)
	}

	handle.setAdapter(adapter)
	defer handle.setAdapter(nil)

	rep := e.stepReporter(job, title, job.ProcessID, svc.Name, ProgressRunSteps, ProgressStepsDone)
	results, err := remote.Execute(ctx, adapter, job.Inputs, e.jobOutputDir(job), expected, rep)
	if err != nil {
		return nil, types.ExecutionError(job.ProcessID, err)
	}

	e.advance(job, title, ProgressPrepOutput, "Collecting job outputs.")
	out := make([]types.IOEntry, 0, len(results))
	for _, entry := range results {
		published, err := e.publishEntry(ctx, job, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, published)
	}
	return out, nil
}

// dispatchFor selects the adapter for one plan step. Requirement hints
// win; without one the step runs on the resolved deployment service in
// EMS mode and in a local container otherwise.
func (e *Engine) dispatchFor(job *types.Job, step pack.Step, workDir string) (dispatch, error) {
	switch {
	case step.Hints.ESGF:
		return dispatch{}, fmt.Errorf("ESGF-CWT dispatch: %w", types.ErrNotImplemented)

	case step.Hints.WPS1 != nil:
		return dispatch{
			adapter: remote.NewWPS1(step.Hints.WPS1.Provider, stepProcessID(step), e.clients, e.stager),
			host:    step.Hints.WPS1.Provider,
		}, nil

	case e.ems:
		base, err := e.resolveADES(job.Inputs)
		if err != nil {
			return dispatch{}, err
		}
		adapter := remote.NewAPIProcesses(base, stepProcessID(step), e.http, e.stager, "").
			WithDeployPayload(deployPayload(step))
		return dispatch{adapter: adapter, host: base}, nil

	default:
		if e.runner == nil {
			return dispatch{}, fmt.Errorf("no container runtime configured")
		}
		return dispatch{
			adapter: remote.NewLocalContainer(step, e.runner, e.stager, job.ID, workDir),
			host:    "localhost",
			local:   true,
		}, nil
	}
}

// resolveADES picks the deployment service closest to the job's data:
// the first input whose source names an ADES wins, the default source
// backs the rest
func (e *Engine) resolveADES(inputs []types.IOEntry) (string, error) {
	if e.sources == nil {
		return "", fmt.Errorf("no data sources configured")
	}
	for _, in := range inputs {
		if in.Href == "" {
			continue
		}
		if src, err := e.sources.ResolveByURL(in.Href); err == nil && src.ADES != "" {
			return strings.TrimRight(src.ADES, "/"), nil
		}
	}
	src, err := e.sources.Default()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(src.ADES, "/"), nil
}

// deployPayload wraps a step package for auto-deployment on the target
// deployment service
func deployPayload(step pack.Step) *client.DeployPayload {
	return &client.DeployPayload{
		ProcessDescription: map[string]interface{}{
			"process": map[string]interface{}{"id": stepProcessID(step)},
		},
		ExecutionUnit:         []client.ExecutionUnit{{Unit: step.Package}},
		DeploymentProfileName: DeploymentProfileDocker,
	}
}

func stepProcessID(step pack.Step) string {
	if step.Hints.WPS1 != nil && step.Hints.WPS1.Process != "" {
		return step.Hints.WPS1.Process
	}
	if step.Reference != "" {
		return step.Reference
	}
	return step.Name
}

// planNeedsWorkspace reports whether any step will consume inputs from
// the local filesystem
func (e *Engine) planNeedsWorkspace(plan *pack.Plan) bool {
	for _, step := range plan.Steps {
		if step.Hints.WPS1 == nil && !step.Hints.ESGF && !e.ems {
			return true
		}
	}
	return false
}

// expectedForStep derives the outputs to request from the step package,
// narrowed to the step's published outputs when the wiring names them
func expectedForStep(step pack.Step) ([]remote.ExpectedOutput, error) {
	_, outputs, err := pack.DeriveIO(step.Package)
	if err != nil {
		return nil, err
	}
	derived := make(map[string]remote.ExpectedOutput, len(outputs))
	order := make([]string, 0, len(outputs))
	for _, out := range outputs {
		derived[out.Identifier] = expectedFromIO(out)
		order = append(order, out.Identifier)
	}

	names := step.Outputs
	if len(names) == 0 {
		names = order
	}
	expected := make([]remote.ExpectedOutput, 0, len(names))
	for _, name := range names {
		if exp, ok := derived[name]; ok {
			expected = append(expected, exp)
			continue
		}
		expected = append(expected, remote.ExpectedOutput{ID: name})
	}
	return expected, nil
}

// expectedFromWPS derives the outputs to request from the provider's
// process description
func (e *Engine) expectedFromWPS(ctx context.Context, provider, process string) ([]remote.ExpectedOutput, error) {
	descr, err := e.clients.Get(provider, "").DescribeProcess(ctx, process)
	if err != nil {
		return nil, err
	}
	expected := make([]remote.ExpectedOutput, 0, len(descr.Outputs))
	for _, out := range descr.Outputs {
		exp := remote.ExpectedOutput{ID: out.Identifier}
		cd := out.ComplexOutput
		if cd == nil {
			cd = out.ComplexData
		}
		if cd != nil {
			exp.AsReference = true
			exp.MimeType = cd.Default.MimeType
		}
		expected = append(expected, exp)
	}
	return expected, nil
}

// expectedFromAPI derives the outputs to request from an OGC API
// process description
func (e *Engine) expectedFromAPI(ctx context.Context, base, process string) ([]remote.ExpectedOutput, error) {
	summary, err := client.NewClient(base, e.http, "").DescribeProcess(ctx, process)
	if err != nil {
		return nil, err
	}
	expected := make([]remote.ExpectedOutput, 0, len(summary.Outputs))
	for _, raw := range summary.Outputs {
		io, err := iomodel.APIToWPS(raw, iomodel.DirectionOutput)
		if err != nil {
			return nil, err
		}
		expected = append(expected, expectedFromIO(io))
	}
	return expected, nil
}

func expectedFromIO(io *iomodel.WPSIO) remote.ExpectedOutput {
	exp := remote.ExpectedOutput{ID: io.Identifier}
	if io.Kind == iomodel.KindComplex {
		exp.AsReference = true
		exp.MimeType = defaultMime(io.Formats)
	}
	return exp
}

func defaultMime(formats []iomodel.Format) string {
	for _, f := range formats {
		if f.Default {
			return f.MimeType
		}
	}
	if len(formats) > 0 {
		return formats[0].MimeType
	}
	return ""
}

// threadInputs wires one step's inputs: workflow steps pull from prior
// step outputs and the job inputs per their source references,
// applications take the job inputs as they are
func threadInputs(kind types.ProcessKind, step pack.Step, base []types.IOEntry, results map[string]map[string]types.IOEntry) []types.IOEntry {
	if kind == types.ProcessKindApplication {
		return base
	}
	inputs := make([]types.IOEntry, 0, len(step.Inputs))
	for _, si := range step.Inputs {
		if from, output, ok := si.SourceStep(); ok {
			if entry, found := results[from][output]; found {
				entry.ID = si.ID
				inputs = append(inputs, entry)
				continue
			}
		} else if si.Source != "" {
			matched := false
			for _, in := range base {
				if in.ID != si.Source {
					continue
				}
				entry := in
				entry.ID = si.ID
				inputs = append(inputs, entry)
				matched = true
			}
			if matched {
				continue
			}
		}
		if si.Default != nil {
			inputs = append(inputs, types.IOEntry{ID: si.ID, Value: si.Default})
		}
	}
	return inputs
}

// overlayStaged swaps staged local paths into the input entries, keeping
// literals untouched. StageInputs preserves order, so the overlay is
// positional.
func overlayStaged(originals []types.IOEntry, staged []staging.StagedInput) []types.IOEntry {
	out := make([]types.IOEntry, len(originals))
	copy(out, originals)
	for i := range staged {
		if i >= len(out) {
			break
		}
		if staged[i].Path != "" {
			out[i].Href = staged[i].Path
			out[i].Data = nil
		}
	}
	return out
}

// localizeInputs links or fetches every referenced input into the step
// workdir so the container sees them under its own mount
func (e *Engine) localizeInputs(ctx context.Context, inputs []types.IOEntry, workDir string) ([]types.IOEntry, error) {
	out := make([]types.IOEntry, len(inputs))
	for i, in := range inputs {
		if in.Href != "" {
			local, err := e.stager.StageResult(ctx, filepath.Join(workDir, "inputs", in.ID), in.ID, in.Href)
			if err != nil {
				return nil, fmt.Errorf("localize input %s: %w", in.ID, err)
			}
			in.Href = local
		}
		if len(in.Data) > 0 {
			locals := make([]interface{}, len(in.Data))
			for j, raw := range in.Data {
				href, ok := raw.(string)
				if !ok {
					locals[j] = raw
					continue
				}
				local, err := e.stager.StageResult(ctx, filepath.Join(workDir, "inputs", in.ID), in.ID, href)
				if err != nil {
					return nil, fmt.Errorf("localize input %s: %w", in.ID, err)
				}
				locals[j] = local
			}
			in.Data = locals
		}
		out[i] = in
	}
	return out, nil
}

func indexEntries(entries []types.IOEntry) map[string]types.IOEntry {
	indexed := make(map[string]types.IOEntry, len(entries))
	for _, entry := range entries {
		indexed[entry.ID] = entry
	}
	return indexed
}

// publishResults maps the run's products into the served output tree.
// Wired workflow outputs are published under their workflow-level ids;
// applications and wiring-less workflows publish the last step's outputs.
func (e *Engine) publishResults(ctx context.Context, job *types.Job, plan *pack.Plan, last []types.IOEntry, stepResults map[string]map[string]types.IOEntry) ([]types.IOEntry, error) {
	entries := last
	if plan.Kind == types.ProcessKindWorkflow && len(plan.Outputs) > 0 {
		entries = make([]types.IOEntry, 0, len(plan.Outputs))
		for _, wo := range plan.Outputs {
			stepName, outID, ok := splitSource(wo.Source)
			if !ok {
				return nil, types.ExecutionError(job.ProcessID, fmt.Errorf("workflow output %s names no source step", wo.ID))
			}
			entry, found := stepResults[stepName][outID]
			if !found {
				return nil, types.ExecutionError(job.ProcessID, fmt.Errorf("workflow output %s: step %s produced no %q output", wo.ID, stepName, outID))
			}
			entry.ID = wo.ID
			entries = append(entries, entry)
		}
	}

	out := make([]types.IOEntry, 0, len(entries))
	for _, entry := range entries {
		published, err := e.publishEntry(ctx, job, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, published)
	}
	return out, nil
}

// publishEntry copies one produced file into the public output tree and
// rewrites the entry to its served href; literals pass through
func (e *Engine) publishEntry(ctx context.Context, job *types.Job, entry types.IOEntry) (types.IOEntry, error) {
	if len(entry.Data) > 0 {
		published := make([]interface{}, len(entry.Data))
		for i, raw := range entry.Data {
			local, ok := raw.(string)
			if !ok || isWebHref(local) {
				published[i] = raw
				continue
			}
			href, err := e.stager.PublishOutput(ctx, job.Context, job.ID, entry.ID, strings.TrimPrefix(local, "file://"))
			if err != nil {
				return entry, types.ExecutionError(job.ProcessID, err)
			}
			published[i] = href
		}
		entry.Data = published
		return entry, nil
	}
	if entry.Href != "" && !isWebHref(entry.Href) {
		href, err := e.stager.PublishOutput(ctx, job.Context, job.ID, entry.ID, strings.TrimPrefix(entry.Href, "file://"))
		if err != nil {
			return entry, types.ExecutionError(job.ProcessID, err)
		}
		entry.Href = href
	}
	return entry, nil
}

func isWebHref(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
}

func splitSource(source string) (step, output string, ok bool) {
	step, output, ok = strings.Cut(source, "/")
	if !ok || step == "" || output == "" {
		return "", "", false
	}
	return step, output, true
}

// jobOutputDir is where the job's public outputs live:
// <output_dir>/[context/]<job_id>
func (e *Engine) jobOutputDir(job *types.Job) string {
	parts := []string{e.outputDir}
	if job.Context != "" {
		parts = append(parts, filepath.FromSlash(job.Context))
	}
	parts = append(parts, job.ID)
	return filepath.Join(parts...)
}

// locateStep maps a workflow step reference onto the process URL of its
// data source
func (e *Engine) locateStep(ref string) string {
	if e.sources == nil {
		return ""
	}
	loc, err := e.sources.ProcessLocation(ref, "")
	if err != nil {
		return ""
	}
	return loc
}

func (e *Engine) jobTitle(job *types.Job) string {
	if job.Service == "" {
		if proc, err := e.store.GetProcess(job.ProcessID); err == nil && proc.Title != "" {
			return proc.Title
		}
	}
	return job.ProcessID
}

// stepReporter adapts adapter progress into the job record: progress is
// remapped into the step's window and messages carry the dispatch host
// and step name
func (e *Engine) stepReporter(job *types.Job, title, stepName, host string, lo, hi int) remote.Reporter {
	return func(progress int, message string) {
		job.SetProgress(remote.Remap(progress, lo, hi))
		job.StatusMessage = fmt.Sprintf("%s [%s] - %s", host, stepName, strings.TrimSpace(message))
		job.SaveLog("")
		if err := e.store.SaveJob(job); err != nil {
			e.log.Warn().Err(err).Str("job_id", job.ID).Msg("cannot save job progress")
		}
		e.updateStatus(job, title)
		e.syncLog(job, status.LevelInfo)
	}
}

// advance moves the job to a milestone and records it everywhere the
// job is watched
func (e *Engine) advance(job *types.Job, title string, progress int, message string) {
	job.SetProgress(progress)
	job.StatusMessage = message
	job.SaveLog("")
	if err := e.store.SaveJob(job); err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Msg("cannot save job progress")
	}
	e.updateStatus(job, title)
	e.syncLog(job, status.LevelInfo)
}

func (e *Engine) succeed(job *types.Job, title string, results []types.IOEntry) {
	job.Results = results
	if err := job.SetStatus(types.JobSucceeded); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID).Msg("cannot mark job succeeded")
		return
	}
	job.SetProgress(ProgressDone)
	job.StatusMessage = "Job succeeded."
	job.SaveLog("")
	e.finalize(job, title, events.EventJobSucceeded, "job succeeded")
}

// fail settles a job whose run returned an error. A fault of the worker
// itself lands in the exception state; everything else is a plain
// failure of the process run.
func (e *Engine) fail(job *types.Job, title string, cause error) {
	if job.Status.Terminal() {
		return
	}
	if job.Status != types.JobRunning {
		_ = job.SetStatus(types.JobRunning)
	}
	terminal := types.JobFailed
	var fault *workerFault
	if errors.As(cause, &fault) {
		terminal = types.JobException
	}
	if err := job.SetStatus(terminal); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID).Msg("cannot mark job failed")
	}
	job.StatusMessage = cause.Error()
	job.AddException(wps.CodeNoApplicableCode, job.ProcessID, cause.Error())
	job.SaveLog("")
	e.finalize(job, title, events.EventJobFailed, "job failed")
}

// dismissClaimed settles a dismissal signalled while the job's worker
// was running. The backend side is stopped best-effort first, using the
// adapter that was dispatching when the dismissal fired.
func (e *Engine) dismissClaimed(handle *jobHandle, job *types.Job, title string) {
	if adapter := handle.dismissTarget(); adapter != nil {
		switch p := adapter.(type) {
		case remote.Dismisser:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := p.DismissRemote(ctx); err != nil {
				job.SaveLog(fmt.Sprintf("remote dismissal failed: %v", err))
			}
			cancel()
		case *remote.WPS1:
			job.SaveLog("remote provider cannot be stopped")
		}
	}

	if err := job.SetStatus(types.JobDismissed); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID).Msg("cannot mark job dismissed")
	}
	job.StatusMessage = "Job dismissed."
	job.SaveLog("")
	metrics.JobsDismissed.Inc()
	e.finalize(job, title, events.EventJobDismissed, "job dismissed")
}

// finalize is the single exit point of a terminal transition: persist,
// publish, notify, then drop the per-job bookkeeping
func (e *Engine) finalize(job *types.Job, title string, eventType events.EventType, message string) {
	if err := e.store.SaveJob(job); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID).Msg("cannot save finished job")
	}
	e.writeStatus(job, title)

	level := status.LevelInfo
	if job.Status == types.JobFailed || job.Status == types.JobException {
		level = status.LevelError
	}
	e.syncLog(job, level)

	metrics.JobDuration.WithLabelValues(string(job.Status)).Observe(job.Duration().Seconds())
	e.publish(eventType, job.ID, message)
	e.notify(job)
	e.status.Forget(job.ID)

	e.log.Info().
		Str("job_id", job.ID).
		Str("process", job.ProcessID).
		Str("status", string(job.Status)).
		Dur("duration", job.Duration()).
		Msg("job finished")
}

// notify delivers the terminal notification when one is requested;
// failures land in the job log, never in the job state
func (e *Engine) notify(job *types.Job) {
	if e.notifier == nil || job.NotificationEmail == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.notifier.Notify(ctx, job); err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Msg("cannot deliver job notification")
		job.SaveLog(fmt.Sprintf("notification delivery failed: %v", err))
		if serr := e.store.SaveJob(job); serr != nil {
			e.log.Warn().Err(serr).Str("job_id", job.ID).Msg("cannot save job log")
		}
		e.syncLog(job, status.LevelError)
	}
}

func (e *Engine) writeStatus(job *types.Job, title string) {
	if err := e.status.Write(job, title); err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Msg("cannot write status document")
	}
}

func (e *Engine) updateStatus(job *types.Job, title string) {
	if err := e.status.Update(job, title); err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Msg("cannot update status document")
	}
}

func (e *Engine) syncLog(job *types.Job, level string) {
	if err := e.status.SyncLog(job, level); err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Msg("cannot sync job log")
	}
}
