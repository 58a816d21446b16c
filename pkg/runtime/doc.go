/*
Package runtime runs application step containers through containerd.

The runtime package provides the Runner interface the execution engine
uses to run a deployed application's container to completion: pull the
image named by its package, bind the job workspace into the container,
run the built argv, capture stdout and stderr into files, and report the
exit code. Workflow steps that resolve to local applications go through
the same path.

# Usage

	runner, err := runtime.NewContainerdRunner("")
	if err != nil {
		return err
	}
	defer runner.Close()

	result, err := runner.Run(ctx, runtime.Spec{
		ID:      "job-" + job.ID,
		Image:   "ghcr.io/example/ndvi:1.2",
		Command: argv,
		Env:     []string{"HOME=/data"},
		WorkDir: "/data",
		Mounts: []runtime.Mount{
			{Source: ws.Root, Destination: "/data"},
		},
		Stdout: filepath.Join(ws.Root, "stdout.log"),
		Stderr: filepath.Join(ws.Root, "stderr.log"),
	})

A non-nil Result with ExitCode != 0 means the tool ran and failed;
an error means the run could not be carried out at all. Cancelling the
context kills the container with SIGTERM, escalating to SIGKILL after
ten seconds, which is how job dismissal reaches a running step.

# Lifecycle

Each Run is one-shot: the container and its snapshot are created under
the "trellis" containerd namespace and removed when the run ends,
whatever the outcome. Nothing is reused between runs except the pulled
image.

# Integration Points

  - pkg/remote: the local container adapter builds Specs from a
    package's command line bindings
  - pkg/engine: owns the Runner and passes it to adapters
  - cmd/trellis: connects to the containerd socket at startup

# Testing

Runner is an interface so tests substitute a fake that records Specs
and returns canned exit codes; no containerd socket is needed.
*/
package runtime
