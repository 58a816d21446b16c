/*
Package engine claims accepted jobs and drives them to a terminal state.

The engine runs two loops. The scheduler scans the store for accepted
jobs on a short ticker (or immediately after Accept) and claims each
into a worker slot; the pool size bounds how many jobs execute at once.
The janitor reclaims expired job workspaces, purges expired access
tokens, fails running jobs that lost their worker across a restart and
refreshes the store-derived gauges.

Each claimed job gets a single worker goroutine that owns every write
to the job record. The pipeline loads the process, plans its package,
stages inputs, resolves an adapter per step, runs the steps through
remote.Execute and publishes the produced files into the served output
tree. Progress moves through fixed milestones:

	 1%  job log prepared
	 2%  launching
	 5%  package loaded
	 6%  inputs retrieved
	 8%  inputs converted
	10%  steps running (each step remapped into its own window)
	95%  steps complete
	98%  outputs collected
	100% done

Step adapters are chosen from the package hints: a WPS1Requirement pins
the step to a WPS 1.0 provider, ESGF-CWTRequirement is not supported,
and otherwise EMS mode dispatches to the ADES resolved from the job's
data sources while ADES mode runs the container locally. Workflow steps
thread their inputs from prior step outputs by source reference.

Dismissal interrupts the worker: DismissJob cancels the job context and
the worker stops the backend best-effort, then settles the record as
dismissed. Dismissing a finished job returns ErrJobFinished. Unclaimed
jobs transition directly.

Every transition is mirrored by Status (the XML document and the job
log file) and published on the event broker; terminal states also fire
the notifier when the job carries a notification address.
*/
package engine
