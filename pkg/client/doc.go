/*
Package client provides a Go client for OGC API - Processes endpoints.

The client package wraps the JSON process and job operations with a
convenient, idiomatic Go interface. It is used in two places: by the CLI
to drive a local or remote service, and by the execution engine to
dispatch steps onto peer deployment services. It handles request
construction, bearer authentication, error decoding, and tolerant
parsing of the documents other implementations return.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                            │
	│  import "github.com/trellisproc/trellis/pkg/client"        │
	│                                                            │
	│  c := client.NewClient("https://ades.example", nil, token) │
	│  result, location, err := c.Execute(ctx, "ncdump", req)    │
	│                                                            │
	└──────────────────┬─────────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                            │
	│  Client                                                    │
	│    - one method per operation                              │
	│    - JSON encode/decode                                    │
	│    - APIError from non-2xx bodies                          │
	│    - not-found mapped to types sentinels                   │
	│                                                            │
	└──────────────────┬─────────────────────────────────────────┘
	                   │ HTTPS (JSON)
	                   ▼
	         OGC API - Processes endpoint

# Operations

Process management:

	processes, err := c.ListProcesses(ctx)
	desc, err := c.DescribeProcess(ctx, "ncdump")
	pkg, err := c.GetPackage(ctx, "ncdump")
	err = c.Deploy(ctx, &client.DeployPayload{...})
	err = c.SetVisibility(ctx, "ncdump", types.VisibilityPublic)
	err = c.Undeploy(ctx, "ncdump")

Job lifecycle:

	result, location, err := c.Execute(ctx, "ncdump", &client.ExecuteRequest{
		Mode:   "async",
		Inputs: []types.IOEntry{{ID: "dataset", Href: "https://..."}},
		Outputs: []client.OutputRequest{
			{ID: "output", TransmissionMode: "reference"},
		},
	})
	info, err := c.JobStatus(ctx, location)
	results, err := c.Results(ctx, location)
	err = c.Dismiss(ctx, result.JobID)

# Interoperability

Peer services do not all speak the same dialect, so the decoders accept
the common variants:

  - DescribeProcess understands both the bare process document and the
    {"process": {...}} wrapper.
  - StatusInfo.JobStatus maps foreign status spellings ("successful",
    "started", "paused") onto the job state machine.
  - ResultsDocument accepts the {"outputs": [...]} listing as well as
    results keyed by output identifier.
  - Execute takes the monitor location from the Location header, the
    body field, or derives it from the job id, in that order.

# Error Handling

Non-2xx responses decode into *APIError carrying the HTTP status plus
the code and description fields of the JSON error body. 404 responses
are wrapped with types.ErrProcessNotFound or types.ErrJobNotFound so
callers can branch with errors.Is:

	_, err := c.DescribeProcess(ctx, "nope")
	if errors.Is(err, types.ErrProcessNotFound) {
		// deploy it first
	}

# Thread Safety

A Client is immutable after construction and safe for concurrent use.
Callers that talk to many endpoints should keep one Client per endpoint
and reuse it; the underlying http.Client pools connections.

# See Also

  - pkg/api for the server side of these routes
  - pkg/remote for the adapter that drives peer services during execution
  - pkg/wps for the WPS 1.0 counterpart of this client
*/
package client
