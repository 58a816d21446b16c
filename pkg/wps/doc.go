/*
Package wps speaks the legacy OGC WPS 1.0 protocol, both as a client to
remote providers and as the document layer behind this service's own
WPS endpoint and status files.

# Architecture

	       client side                      server side
	┌──────────────────────┐       ┌───────────────────────────┐
	│ Client               │       │ ParseExecuteKVP /         │
	│  GetCapabilities     │       │ ParseExecuteRequest       │
	│  DescribeProcess     │       │                           │
	│  Execute (KVP/POST)  │       │ RenderCapabilities        │
	│  Status              │       │ RenderProcessDescriptions │
	└──────────┬───────────┘       │ RenderStatusDocument      │
	           │                   │ RenderExceptionReport     │
	   ClientCache (url+lang)      └───────────────────────────┘

Parsing matches element local names, so WPS 2.0 responses and unusual
prefixes decode with the same types. Rendering always emits WPS 1.0.0
namespaces.

# Requests

ExecuteRequest is the protocol-neutral middle form. The KVP codec and
the XML codec both produce and consume it:

	req, err := wps.ParseExecuteKVP(r.URL.Query())
	values := wps.EncodeExecuteKVP(req)
	body, err := wps.RenderExecuteRequest(req)
	req, err = wps.ParseExecuteRequest(body)

Client.Execute sends short requests as KVP GETs and falls back to an
XML POST when the encoded URL grows too long. Complex inputs travel by
reference in both encodings.

# Status Documents

ExecuteResponse carries one of ProcessAccepted, ProcessStarted,
ProcessPaused, ProcessSucceeded or ProcessFailed. JobStatus, Percent
and Message project the state onto the job model; OutputEntries
converts ProcessOutputs into I/O entries, preferring references over
inline data when an output carries both.

# Client Caching

ClientCache hands out one immutable Client per endpoint and language
pair. Invalidate drops the cache for tests that restage a remote
behind an unchanged URL.

# See Also

  - pkg/remote - WPS-1 adapter driving Execute and status polling
  - pkg/status - writes rendered status documents per job
  - pkg/provider - capabilities-backed provider registry
*/
package wps
