// Package workflow advances claimed jobs through the stage pipeline.
//
// The Manager recovers interrupted work at start, then runs a dispatcher
// that claims pending jobs up to the configured concurrency and hands each
// one to its own worker. A worker runs the executor for every stage after
// the job's persisted stage, persisting each output before moving on, so a
// crash resumes at the first stage without output.
//
// Stage failures are isolated per job: the job is finalized as failed and a
// single failure notification is sent. Store faults other than a lost claim
// halt the manager, which stops claiming and reports the error through Done
// and Err.
package workflow
