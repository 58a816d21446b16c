/*
Package pack loads, validates and plans package descriptions.

A package arrives either inline with a deployment request or as a URL
reference with one of the accepted extensions (yaml, yml, json, cwl, job).
Content parses as YAML, which covers JSON bodies too. The class field
classifies the package: Workflow chains deployed processes, while
CommandLineTool runs a container directly; anything else is rejected at
registration.

# Planning

BuildPlan turns a package into an execution plan. Applications yield one
synthetic step. Workflows resolve each step's run reference: local
"<name>.cwl" references name a deployed process, URLs are fetched through
the {url}/package endpoint of the owning service. Resolution recurses into
nested workflows so broken references and cycles surface at deploy time,
not mid-execution. Steps are ordered topologically by their input wiring
("step/output" sources) with stable name order among independent steps.

Requirement classes steer dispatch later: DockerRequirement names the
container image, WPS1Requirement pins a step to a legacy provider, and
ESGF-CWTRequirement marks a dispatch mode the engine does not implement.
Step-level hints override package-level ones.

# Caching

Fetched step packages go through a TTL cache with per-URL single-flight,
so a workflow fanning out over the same reference fetches it once. The
cache exposes Invalidate for tests.

# Usage

	loader := pack.NewLoader(nil)
	pkg, err := loader.LoadReference(ctx, "https://host/app.cwl")
	if err != nil {
		return err
	}
	plan, err := loader.BuildPlan(ctx, "my-app", pkg, locate)

# Integration Points

  - pkg/engine builds a plan per accepted job and walks its steps
  - pkg/iomodel derives typed I/O from the package via DeriveIO
  - pkg/api validates deployments before a process record is stored
*/
package pack
