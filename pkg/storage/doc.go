/*
Package storage provides BoltDB-backed state persistence for deployed
processes, registered provider services, jobs and access tokens.

All records are serialized as JSON and stored in separate buckets. The
job bucket additionally supports filtered, sorted and paged listings so
the HTTP API can answer job queries without a secondary index.

# Architecture

	┌──────────────────── BOLTDB STORAGE ───────────────────┐
	│                                                        │
	│  ┌──────────────────────────────────────────┐          │
	│  │            BoltStore                     │          │
	│  │  - File: <dataDir>/trellis.db            │          │
	│  │  - Format: B+tree with MVCC              │          │
	│  │  - Transactions: ACID with fsync         │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │                                  │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │              Bucket Structure            │          │
	│  │  ┌─────────────────────────────────┐     │          │
	│  │  │ processes  (escaped process id) │     │          │
	│  │  │ services   (escaped name)       │     │          │
	│  │  │ jobs       (job uuid)           │     │          │
	│  │  │ tokens     (token string)       │     │          │
	│  │  └─────────────────────────────────┘     │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │                                  │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │        Job Query Pipeline                │          │
	│  │  - Filter: process/service/status/       │          │
	│  │    user/tags/access/email                │          │
	│  │  - Sort: created|finished|status|        │          │
	│  │    process|service|user (id tiebreak)    │          │
	│  │  - Page: page*limit window + total count │          │
	│  └──────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file per service instance
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Buckets:
  - processes: Deployed process descriptions with their packages
  - services: Registered remote provider services
  - jobs: Execution jobs with status history and results
  - tokens: Issued access tokens

# Key Escaping

Process ids and service names pass through types.EscapeKey before use
as bucket keys, mapping "$" and "." to their fullwidth forms. Job ids
are UUIDs and token strings are opaque, so both are stored verbatim.

# Not-Found Semantics

Lookups wrap the matching sentinel from pkg/types (ErrProcessNotFound,
ErrServiceNotFound, ErrJobNotFound, ErrAccessTokenNotFound) so callers
can translate misses with errors.Is instead of string matching.

# Usage

	store, err := storage.NewBoltStore("/var/lib/trellis")
	if err != nil {
		return err
	}
	defer store.Close()

	job := types.NewJob("ndvi-computation")
	if err := store.SaveJob(job); err != nil {
		return err
	}

	running, total, err := store.FindJobs(storage.JobFilter{
		Status: []types.JobStatus{types.JobRunning},
		Sort:   storage.SortCreated,
		Limit:  25,
	})

# Thread Safety

All operations are safe for concurrent use. BoltDB serializes write
transactions and allows concurrent read transactions over a consistent
snapshot.

# See Also

  - pkg/types: Persisted record definitions and error sentinels
  - pkg/engine: Job lifecycle writer
  - pkg/api: HTTP listing endpoints over FindJobs
*/
package storage
