/*
Package staging moves job data between the outside world and a job's
local workspace.

Inputs referenced by href are materialized under the workspace inputs
directory before execution, and produced files are published into the
served output tree when execution finishes. The same package owns the
mapping between public output URLs and their on-disk locations, and the
validation of the X-WPS-Output-Context request header that prefixes the
output tree.

# Architecture

	┌─────────────────────────────────────────────────────┐
	│                       Stager                        │
	└───────┬──────────────────────┬──────────────────────┘
	        │ stage-in             │ stage-out
	        ▼                      ▼
	┌─────────────────┐   ┌──────────────────────────────┐
	│ <workdir>/inputs│   │ <output_dir>/[ctx/]<job>/    │
	│   /<id>/<file>  │   │   <output_id>/<filename>     │
	└─────────────────┘   └──────────┬───────────────────┘
	                                 │ optional
	                                 ▼
	                      ┌──────────────────────┐
	                      │ Replicator (S3, ...) │
	                      └──────────────────────┘

# Staging Inputs

StageInputs walks the resolved execution inputs and produces one
StagedInput per entry:

  - Literal values pass through untouched.
  - http(s) references are downloaded with retry and range resume.
    References under the service's own output URL are linked from the
    output tree instead of re-fetched.
  - file references are linked or copied, and must point inside the
    output directory or the job workspace.
  - opensearchfile references are rewritten to file references first.

Downloads retry transient failures (5xx, 429, network errors) with
exponential backoff and resume partial files with HTTP range requests.
Client errors such as 404 fail immediately.

# Publishing Outputs

PublishOutput places one produced file into the public output tree and
returns the href clients can fetch it from:

	href, err := stager.PublishOutput(ctx, "users/alice", jobID, "output", "/work/job/outputs/result.tif")
	// => <output_url>/users/alice/<job_id>/output/result.tif

When a Replicator is configured (see S3Replicator) the file is also
copied to the remote store under the same relative key; replication
failures fail the publish.

# Output Location Mapping

MapOutputLocation converts between public output hrefs and local paths
in either direction. The two directions are inverses for any file under
the output directory, which lets adapters hand local files to the WPS
layer and recognize their own outputs in later requests.

# Usage

	stager := staging.NewStager(config.GetOutputDir(), config.GetOutputURL(), nil, nil)

	staged, err := stager.StageInputs(ctx, ws, job.Inputs)
	if err != nil {
		return err
	}
	for _, in := range staged {
		// in.Path for file inputs, in.Value for literals
	}

# Thread Safety

A Stager is immutable after construction and safe for concurrent use by
multiple jobs.

# See Also

  - pkg/workspace - Per-job directory layout staged into
  - pkg/datasource - OpenSearch reference rewriting
  - pkg/engine - Drives stage-in and stage-out around execution
*/
package staging
