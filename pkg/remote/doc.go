/*
Package remote dispatches plan steps to their execution backends through
a fixed template.

Every step of a job, whether it runs in a container on this host or on
another service, goes through the same sequence: prepare, stage and
format inputs, dispatch, monitor to completion, retrieve and stage
results, clean up. Execute owns that sequence and its progress schedule;
adapters implement the protocol-specific hooks.

# Template

	Execute(ctx, p, inputs, outDir, expected, rep)

	 2%  Prepare        one-time setup (describe, deploy, derive I/O)
	 5%  ready
	10%  FormatInputs   host local files / rewrite references
	12%  FormatOutputs  type the requested outputs
	15%  Dispatch       submit, returns the monitor reference
	20%  Monitor        blocks until terminal, reports 20-85%
	85%  GetResults     collect produced references
	90%  StageResults   materialize under outDir
	95%  Cleanup        always runs, also on failure paths
	100% done

Progress values arrive on the template's own 0-100 scale. Remap and
StepWindow scale them into the window a step occupies within the
surrounding job, so a three-step workflow reports each step inside its
own third of the run.

# Adapters

  - LocalContainer runs an application package on this host through a
    runtime.Runner. The step workdir is mounted at its own path so
    staged input paths stay valid inside the container; the command
    line is rendered from the package's input bindings and outputs are
    discovered through glob bindings.
  - WPS1 submits to a WPS 1.0 provider process. Complex inputs travel
    by reference, so local files are hosted under the served output URL
    first. The status document is polled on a backoff schedule, and up
    to five consecutive unreadable documents are tolerated before the
    run fails.
  - APIProcesses submits to a peer service over OGC API - Processes,
    optionally deploying the process there first. A 502 from a flaky
    gateway is retried exactly once after a pause.

Adapters that can cancel their backend side implement Dismisser. WPS 1.0
offers no such operation, so dismissing a job with a running WPS-1 step
only stops the monitor loop.

# Result Staging

The shared Staging embed brings every produced reference under
<outDir>/<output id>/ and rewrites the entry to its absolute local path.
Multi-file outputs, carried as a list of references in Data, are staged
file by file. Literal values pass through untouched.

# Usage

	adapter := remote.NewWPS1(provider.URL, step.Hints.WPS1.Process, clients, stager)
	results, err := remote.Execute(ctx, adapter, staged, ws.OutputsDir, expected,
		func(p int, msg string) {
			job.SetProgress(remote.Remap(p, lo, hi))
		})

# Integration Points

  - pkg/engine: selects the adapter per step from its package hints and
    threads results between steps
  - pkg/staging: hosts input files and stages produced references
  - pkg/runtime: backs LocalContainer
  - pkg/wps, pkg/client: protocol clients the remote adapters speak

# Thread Safety

An adapter instance belongs to one step run and is not safe for
concurrent use; the engine builds a fresh adapter per step.
*/
package remote
