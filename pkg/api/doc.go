/*
Package api implements the HTTP face of the service: the OGC API
Processes routes, the legacy WPS 1.0 endpoint, the output file tree and
the OWS provider proxy, all on one echo server.

# Architecture

The server owns no execution state. Every handler reads or writes
through the store and hands work to the engine:

	┌──────────────────────── CLIENT ─────────────────────────┐
	│   OGC API - Processes (JSON)        WPS 1.0 (KVP / XML)   │
	└───────────────┬──────────────────────────┬───────────────┘
	                │ HTTP                     │ HTTP
	┌───────────────▼──────────────────────────▼───────────────┐
	│                     HTTP Server (pkg/api)                  │
	│   - route tree + bearer-token guard on mutating routes     │
	│   - error taxonomy mapping (one site, errors.go)           │
	│   - request metrics and structured request log             │
	├───────────────┬──────────────────────────┬───────────────┤
	│     Store     │         Engine           │   Providers    │
	│  (processes,  │  (accepts jobs, runs     │  (remote WPS / │
	│   jobs,       │   them on the worker     │   deployment   │
	│   services,   │   pool, owns all job     │   services)    │
	│   tokens)     │   writes)                │                │
	└───────────────┴──────────────────────────┴───────────────┘

# Route groups

Processes:
  - GET /processes: list deployed processes
  - POST /processes: deploy a packaged application or workflow
  - GET /processes/{id}: describe
  - GET /processes/{id}/package, /payload: stored documents
  - PUT /processes/{id}/visibility: toggle listing visibility
  - DELETE /processes/{id}: undeploy
  - POST /processes/{id}/execution (alias /jobs): submit a job

Jobs:
  - GET /jobs: filtered listing
  - GET /jobs/{id}: status document
  - GET /jobs/{id}/results, /outputs, /exceptions, /logs
  - DELETE /jobs/{id}: dismiss

Providers:
  - GET/POST /providers, GET/DELETE /providers/{id}
  - GET /providers/{id}/processes[/{pid}]: remote offerings
  - POST /providers/{id}/processes/{pid}/jobs: submit a provider job
  - provider-scoped mirrors of the job routes

Protocol endpoints:
  - GET/POST {wps.path}: WPS 1.0 KVP and XML documents
  - /ows/proxy/{provider}: filtered passthrough to registered services
  - /wpsoutputs: static file tree of job outputs
  - GET /healthz, GET /metrics

# Content negotiation

The WPS endpoint answers in XML. A client sending Accept:
application/json on Execute gets the OGC status document instead, which
makes the legacy endpoint usable from JSON-only tooling.

# Authentication

When auth is required, mutating routes (deploy, execute, dismiss,
provider registration) demand a bearer token minted by the admin CLI.
Tokens live in the store with an expiry; misses and expired tokens
answer 401.
*/
package api
