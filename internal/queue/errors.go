package queue

import "errors"

var (
	// ErrDuplicateJob reports that a non-terminal job already tracks the same file and source.
	ErrDuplicateJob = errors.New("duplicate job")
	// ErrStaleJob reports that the caller's claim no longer owns the job.
	ErrStaleJob = errors.New("stale job claim")
	// ErrInvalidTransition reports a stage or status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrSchemaMismatch indicates the database was written by a newer schema.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// IsOwnershipError reports whether err is a per-job state conflict rather than
// a storage failure.
func IsOwnershipError(err error) bool {
	return errors.Is(err, ErrStaleJob) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound)
}
