// Command stockpile turns talking-head recordings into folders of matching
// B-roll clips.
//
// `stockpile start` runs the daemon: it watches the input directory (and the
// cloud drive when configured), queues new media and drives each job through
// transcription, phrase extraction, search, scoring, download and
// organization. The remaining commands inspect and repair the job database
// directly, so they work whether or not the daemon is running.
package main
