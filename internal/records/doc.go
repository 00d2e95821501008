// Package records persists per-file processing state in SQLite and defines
// the status machine the pipeline drives.
//
// A FileRecord is the source of truth for status queries. Status moves
// forward along the pipeline only; failed is reachable from any in-flight
// state, and a fresh submission may re-queue any record that is not
// mid-stage. LastStage tracks the most recently completed stage separately
// from Status so a failed record still knows where a retry resumes.
//
// Records are mutated only by the worker holding the file's exclusion lock;
// readers always observe the last committed row.
package records
