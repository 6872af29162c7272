// Package preflight provides readiness checks for the filesystem paths,
// external tools and services stockpile depends on.
//
// The daemon runs RunAll once at startup and logs every failure; the CLI
// status command renders the same results.
package preflight
