// Package queue is the durable job store: one SQLite table of jobs plus the
// atomic transitions the orchestrator drives them through.
//
// A job is created pending, claimed into processing under a claim token,
// advanced one stage at a time with that token, and finalized as completed or
// failed. Every stage output is written in the same statement that moves
// current_stage, so a restarted process resumes at the first stage whose
// output is missing. Recover returns jobs orphaned in processing to pending.
//
// Schema changes are additive: schema.sql describes the base table and files
// under migrations/ add to it. Opening a database written by a newer schema
// fails with ErrSchemaMismatch.
package queue
