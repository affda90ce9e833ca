// Package models defines the domain entities and store interfaces of the audio acquisition pipeline.
//
// The package contains three categories of types:
//
// 1. Work units passed between the orchestrator, the pipeline and the sweeper
//   - [Item] : one remote video identifier and the outcome of processing it
//   - [Resolution] : the direct audio link and title produced by the converter
//
// 2. Persistent entities
//   - [Record] : durable metadata for one item, keyed by item id
//   - [FailureEntry] : append-only log of terminal failures and inconsistencies
//
// 3. Store contracts
//   - [MetadataStore] : dedup claims, status writes and status scans
//   - [ObjectStore] : blob existence, upload and verification
//
// [Record] implements the Model interface providing identity, timestamps and validation.
package models
