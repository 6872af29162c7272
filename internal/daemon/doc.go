// Package daemon coordinates the long-running stockpile process.
//
// It ties the workflow manager, the ingestion watchers and the metrics
// endpoint into a single lifecycle guarded by a flock-based lock and a PID
// file, so only one instance processes a given job database.
//
// Keep orchestration logic here: stage behaviour lives in internal/stage and
// job scheduling in internal/workflow.
package daemon
