// Package tasks acquires audio for items and keeps object storage and metadata in step.
//
// # Item Pipeline
//
// [ItemPipeline.Process] takes one item to a terminal status:
//
//  1. Dedup: the metadata record is the durable claim. A success or missing_local_audio
//     record is reconciled against the object store (healed, re-uploaded from the local
//     artifact, or marked missing_local_audio) and never acquired again.
//  2. Local artifact: a non-empty <download_dir>/<id><ext> is uploaded directly.
//  3. Acquisition: the primary strategy is tried up to max_retries times with jittered
//     backoff. A definitive not-found switches to the fallback exactly once.
//  4. Upload and verify: Put then Stat; the local file is removed only after the sizes agree.
//  5. Metadata write: a guarded upsert that never downgrades a success record.
//
// Failures are data. Process never returns an error; the returned item carries
// Status and Error, and terminal failures are appended to the failure log.
//
// # Orchestrator
//
// [Orchestrator.Run] deduplicates a batch by id, feeds a jobs channel to a bounded
// worker pool (optionally paced by golang.org/x/time/rate) and aggregates a mutex guarded
// [Summary]. Snapshots are logged, sent as [ProgressUpdate]s and readable while the run
// is in flight through [Orchestrator.Snapshot].
//
// # Retry Sweeper
//
// [Sweeper.Sweep] re-runs every failed record through the pipeline and records the
// retry. Records that keep failing past retry.max_attempts are moved to abandoned.
// [Sweeper.Run] repeats sweeps on an interval until the context is cancelled.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// Updates use select with default to prevent blocking.
package tasks
