/*
Package events provides an in-memory event broker for Trellis' pub/sub messaging.

The events package implements a lightweight event bus for broadcasting job
and registry lifecycle events to interested subscribers. It supports
asynchronous event delivery with per-subscriber buffers, enabling loose
coupling between the engine, the notifier, and API event streams.

# Event Types

Process events:
  - process.deployed
  - process.updated
  - process.undeployed

Job events:
  - job.accepted
  - job.running
  - job.succeeded
  - job.failed
  - job.dismissed

Provider events:
  - service.registered
  - service.removed

# Delivery Semantics

Publish is non-blocking: events enter a buffered channel (100 entries) and
a single broadcast loop fans them out to subscriber channels (50 entries
each). A subscriber that falls behind loses events rather than stalling
the publisher; consumers needing a complete record must read the store,
not the bus.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(events.NewEvent(events.EventJobAccepted, job.ID, "job queued"))

	for event := range sub {
		fmt.Println(event.Type, event.Metadata["job"])
	}

# Integration Points

  - pkg/engine: publishes job state transitions
  - pkg/provider: publishes service registration changes
  - pkg/notify: subscribes for terminal job events to send email
  - pkg/api: exposes deployment events to clients

# Thread Safety

All Broker methods are safe for concurrent use. The subscriber map is
guarded by a RWMutex; broadcast holds the read lock only while fanning out.
*/
package events
