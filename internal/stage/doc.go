// Package stage defines the executors that move a job from one pipeline
// stage to the next.
//
// An Executor reads the job snapshot it is handed, calls its collaborator
// through the retry engine and returns a queue.StageOutput. Executors never
// write to the job store; the workflow manager persists each output with
// queue.Store.Advance before running the next stage.
package stage
