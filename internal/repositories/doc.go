// Package repositories implements SQLite persistence for item records and the failure log.
//
// Key Implementations:
//   - [RecordRepository] : the metadata store behind dedup claims, status writes and sweeper scans
//
// Writes are guarded in SQL rather than in Go: the upsert in [RecordRepository.Save] and the
// update in [RecordRepository.RecordRetry] both refuse to move a success record to any status
// other than success or missing_local_audio, so concurrent workers and the sweeper cannot
// lose a completed upload.
package repositories
