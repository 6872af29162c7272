// Package source abstracts where job media comes from and where finished
// projects go.
//
// Two kinds exist: the local filesystem and an S3-compatible cloud drive.
// Both implement Source; a Registry hands the orchestrator the right one for
// a job's queue.Source.
package source
