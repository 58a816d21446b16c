package remote

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/types"
)

// Progress milestones published by the Execute template, on the
// template's own 0-100 scale. Callers remap them into whatever window
// the step occupies in the surrounding job.
const (
	ProgressPrepare   = 2
	ProgressReady     = 5
	ProgressStageIn   = 10
	ProgressFormatIO  = 12
	ProgressExecute   = 15
	ProgressMonitor   = 20
	ProgressResults   = 85
	ProgressStageOut  = 90
	ProgressCleanup   = 95
	ProgressCompleted = 100
)

// Remap scales a 0-100 progress value into [lo, hi]
func Remap(progress, lo, hi int) int {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return lo + progress*(hi-lo)/100
}

// StepWindow returns the progress window of step k (1-based) of n when
// the run of all steps covers [start, done]
func StepWindow(k, n, start, done int) (lo, hi int) {
	if n < 1 || k < 1 || k > n {
		return start, done
	}
	span := (done - start) / n
	return start + (k-1)*span, start + k*span
}

// Reporter receives a progress value on the template scale together
// with a status message. A nil Reporter discards updates.
type Reporter func(progress int, message string)

func (r Reporter) report(progress int, message string) {
	if r != nil {
		r(progress, message)
	}
}

// ExpectedOutput names one output the caller wants back and the form it
// should take on the wire.
type ExpectedOutput struct {
	ID          string
	MimeType    string
	AsReference bool
}

// Process is the hook set a step adapter implements. Execute drives the
// hooks in a fixed order; adapters fill in the protocol-specific parts
// and take the identity defaults from Base for the rest.
type Process interface {
	// Prepare performs one-time setup before any data moves
	Prepare(ctx context.Context) error

	// FormatInputs adjusts staged inputs into the form the backend can
	// consume, typically rewriting local files to fetchable references
	FormatInputs(ctx context.Context, inputs []types.IOEntry) ([]types.IOEntry, error)

	// FormatOutputs adjusts the requested outputs before dispatch
	FormatOutputs(ctx context.Context, outputs []ExpectedOutput) ([]ExpectedOutput, error)

	// Dispatch submits the execution and returns an opaque monitor
	// reference for the hooks that follow
	Dispatch(ctx context.Context, inputs []types.IOEntry, outputs []ExpectedOutput) (monitorRef string, err error)

	// Monitor blocks until the execution reaches a terminal state,
	// reporting intermediate progress through rep. It returns false when
	// the backend reports failure.
	Monitor(ctx context.Context, monitorRef string, rep Reporter) (success bool, err error)

	// GetResults retrieves the produced outputs, usually as references
	GetResults(ctx context.Context, monitorRef string, outputs []ExpectedOutput) ([]types.IOEntry, error)

	// StageResults materializes results under outDir and rewrites file
	// entries to absolute local paths
	StageResults(ctx context.Context, results []types.IOEntry, outputs []ExpectedOutput, outDir string) ([]types.IOEntry, error)

	// Cleanup releases whatever the run left behind. The template calls
	// it on every path, including failures.
	Cleanup(ctx context.Context) error
}

// Dismisser is implemented by adapters that can cancel the backend side
// of a dispatched step. Adapters without it, such as WPS 1.0, leave the
// remote run to finish on its own.
type Dismisser interface {
	DismissRemote(ctx context.Context) error
}

// Base supplies the optional hooks with their identity defaults
type Base struct{}

func (Base) Prepare(context.Context) error { return nil }

func (Base) FormatInputs(_ context.Context, inputs []types.IOEntry) ([]types.IOEntry, error) {
	return inputs, nil
}

func (Base) FormatOutputs(_ context.Context, outputs []ExpectedOutput) ([]ExpectedOutput, error) {
	return outputs, nil
}

func (Base) Cleanup(context.Context) error { return nil }

// Execute drives p through the fixed hook sequence and publishes the
// progress schedule through rep. Results are staged under outDir; the
// returned file entries carry absolute local paths in Href, literal
// entries pass through in Value.
func Execute(ctx context.Context, p Process, inputs []types.IOEntry, outDir string, expected []ExpectedOutput, rep Reporter) ([]types.IOEntry, error) {
	cleaned := false
	defer func() {
		if !cleaned {
			_ = p.Cleanup(context.WithoutCancel(ctx))
		}
	}()

	rep.report(ProgressPrepare, "Preparing for remote execution.")
	if err := p.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	rep.report(ProgressReady, "Remote process ready.")

	rep.report(ProgressStageIn, "Staging inputs for dispatch.")
	dispatchInputs, err := p.FormatInputs(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("format inputs: %w", err)
	}
	rep.report(ProgressFormatIO, "Formatting expected outputs.")
	dispatchOutputs, err := p.FormatOutputs(ctx, expected)
	if err != nil {
		return nil, fmt.Errorf("format outputs: %w", err)
	}

	rep.report(ProgressExecute, "Dispatching execute request.")
	monitorRef, err := p.Dispatch(ctx, dispatchInputs, dispatchOutputs)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	rep.report(ProgressMonitor, "Monitoring execution.")
	success, err := p.Monitor(ctx, monitorRef, rep)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	if !success {
		return nil, fmt.Errorf("remote process reported failure")
	}

	rep.report(ProgressResults, "Retrieving result definitions.")
	fetched, err := p.GetResults(ctx, monitorRef, dispatchOutputs)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}

	rep.report(ProgressStageOut, "Staging results.")
	staged, err := p.StageResults(ctx, fetched, dispatchOutputs, outDir)
	if err != nil {
		return nil, fmt.Errorf("stage results: %w", err)
	}

	rep.report(ProgressCleanup, "Cleaning up.")
	cleaned = true
	if err := p.Cleanup(ctx); err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}

	rep.report(ProgressCompleted, "Remote execution complete.")
	return staged, nil
}

// HostFile maps a locally produced file onto its public URL so a remote
// service can fetch it. Only files under the served output directory can
// be hosted.
func HostFile(stager *staging.Stager, path string) (string, error) {
	path = strings.TrimPrefix(path, "file://")
	if href := stager.MapOutputLocation(path, true, false); href != "" {
		return href, nil
	}
	return "", fmt.Errorf("cannot host files outside of the output path: %s", path)
}

// hostInputs rewrites local file references to their hosted URLs; web
// references and literal values pass through untouched
func hostInputs(stager *staging.Stager, inputs []types.IOEntry) ([]types.IOEntry, error) {
	out := make([]types.IOEntry, len(inputs))
	for i, in := range inputs {
		if in.Href != "" && !isWebRef(in.Href) {
			href, err := HostFile(stager, in.Href)
			if err != nil {
				return nil, err
			}
			in.Href = href
		}
		out[i] = in
	}
	return out, nil
}

func isWebRef(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
}

// Staging carries the stager the adapters share for the default result
// staging: references are brought under <outDir>/<output id>/ and their
// entries rewritten to absolute local paths; literals pass through.
type Staging struct {
	Stager *staging.Stager
}

// StageResults implements the default stage-out
func (s Staging) StageResults(ctx context.Context, results []types.IOEntry, _ []ExpectedOutput, outDir string) ([]types.IOEntry, error) {
	staged := make([]types.IOEntry, 0, len(results))
	for _, res := range results {
		switch {
		case len(res.Data) > 0:
			// multi-file output: every element is one fetchable reference
			locals := make([]interface{}, 0, len(res.Data))
			for i, raw := range res.Data {
				href, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("output %s entry %d is not a reference", res.ID, i)
				}
				local, err := s.Stager.StageResult(ctx, filepath.Join(outDir, res.ID), res.ID, href)
				if err != nil {
					return nil, fmt.Errorf("stage output %s: %w", res.ID, err)
				}
				locals = append(locals, local)
			}
			res.Data = locals
			res.Href = ""
		case res.Href != "":
			local, err := s.Stager.StageResult(ctx, filepath.Join(outDir, res.ID), res.ID, res.Href)
			if err != nil {
				return nil, fmt.Errorf("stage output %s: %w", res.ID, err)
			}
			res.Href = local
		}
		staged = append(staged, res)
	}
	return staged, nil
}

// sleepContext pauses for d, cut short by context cancellation
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
