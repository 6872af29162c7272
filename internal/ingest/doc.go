// Package ingest turns files appearing in a source into pending jobs.
//
// Watchers produce Events; the Adapter confirms the file has stopped growing,
// creates the job and wakes the workflow manager. Files already tracked by a
// live job are ignored silently.
package ingest
