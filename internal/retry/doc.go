// Package retry runs fallible operations under a named backoff policy.
//
// A Policy describes how many attempts an operation gets, how long to wait
// between them, and which errors are worth another attempt. The Engine applies
// a policy, reports every attempt to an Observer, and honours cancellation of
// the caller's context during backoff sleeps.
package retry
