/*
Package types defines the core data structures used throughout trellis.

This package contains the fundamental types of the domain model: deployed
processes, registered provider services, jobs and access tokens, together
with the status values and the error taxonomy the HTTP layer maps onto
responses. All other packages build on these types for persistence, API
communication and execution tracking.

# Core Types

Deployment:
  - Process: a deployed application or workflow package with its
    normalized input and output descriptors
  - ProcessKind: application (runs locally) or workflow (chains steps)
  - Visibility: public or private listing of a process or job

Providers:
  - Service: a registered remote provider (WPS or API-Processes)
  - ServiceType: protocol the provider speaks
  - AuthMode: none, token, or client certificate

Execution:
  - Job: one execution, tracking status, progress, logs, exceptions,
    inputs and results from submission to completion
  - JobStatus: accepted, running, succeeded, failed, dismissed, exception
  - IOEntry: a single input or result, by value or by reference
  - Exception: structured error recorded against a job

Security:
  - AccessToken: bearer credential for mutating API routes

# State Machine

Jobs follow a fixed state machine:

	accepted → running → succeeded
	    │         ├────→ failed
	    │         ├────→ exception
	    └─────────┴────→ dismissed

Valid transitions:
  - accepted → running (first dispatch)
  - accepted → dismissed (cancelled before start)
  - running → running (progress update)
  - running → succeeded | failed | exception | dismissed
  - terminal states admit no further transitions

SetStatus enforces the table, stamps Started on the first move to running
and Finished on any terminal move. SetProgress clamps to [0,100] and never
decreases. SaveLog drops consecutive duplicate lines, so repeated monitor
polls do not balloon the log.

# Usage

Creating and driving a job:

	job := types.NewJob("ndvi-composite")
	if err := job.SetStatus(types.JobRunning); err != nil {
		return err
	}
	job.SetProgress(20)
	job.SaveLog("fetching inputs")

Recording a failure:

	job.AddException("NoApplicableCode", job.ProcessID, err.Error())
	_ = job.SetStatus(types.JobFailed)

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type JobStatus string
	  const (
	      JobAccepted JobStatus = "accepted"
	      JobRunning  JobStatus = "running"
	  )

Optional timestamps use pointers (*time.Time): nil means not yet reached.

Store keys pass through EscapeKey, a reversible fullwidth substitution for
'$' and '.' which document stores reserve.

# Integration Points

This package integrates with:

  - pkg/storage: persists all types as JSON documents
  - pkg/engine: drives the job state machine during execution
  - pkg/remote: reports adapter progress through SetProgress/SaveLog
  - pkg/status: renders jobs as OGC JSON and WPS XML status documents
  - pkg/api: maps the error taxonomy onto HTTP responses

# Thread Safety

Types here are read-safe but write-unsafe; mutation must be synchronized
by callers. The engine owns a job between store loads and saves, and the
storage layer serializes concurrent updates.

# See Also

  - pkg/storage for persistence
  - pkg/engine for the execution lifecycle
  - pkg/status for status document rendering
*/
package types
