// Package sync implements the CropGuard offline synchronization engine.
//
// Field devices capture crop photos and record actions while disconnected.
// Each captured unit of work is persisted as a WorkItem in a durable local
// store. When connectivity returns, the Engine drains the queue against the
// CropGuard API: items are ordered and chunked by the Scheduler, driven
// through the Transport by the RetryController with exponential backoff, and
// server-side conflicts are classified and applied by the Resolver.
//
// The engine enforces exactly one sync pass at a time. A tick or explicit
// trigger that arrives while a pass is running is dropped, not queued, so
// passes can never pile up behind a slow link.
//
// Architecture:
//   - Engine: owns the auto-sync timer, pass modes (full, incremental,
//     progressive), the event bus, and metrics.
//   - Scheduler: priority-weighted ordering, bounded batches, and
//     quality-adaptive inter-batch delays for constrained networks.
//   - RetryController: one logical submission per item, multiple physical
//     attempts, backoff 2^n seconds, attempt ceiling.
//   - Resolver: last-write-wins auto-resolution within a configurable
//     window; everything else is surfaced for manual resolution.
//
// External collaborators are capabilities, not implementations: the durable
// Store, the Transport that submits one item, and the NetworkMonitor that
// reports connectivity and a coarse quality class. See the store, transport,
// and netmon packages for the production implementations.
package sync
