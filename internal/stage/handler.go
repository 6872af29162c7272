package stage

import (
	"context"
	"fmt"

	"stockpile/internal/queue"
)

// Executor describes the contract the workflow manager needs from each stage.
type Executor interface {
	// Stage is the stage this executor produces.
	Stage() queue.Stage
	Execute(context.Context, *queue.Job) (queue.StageOutput, error)
	HealthCheck(context.Context) Health
}

// Pipeline maps each stage to the executor that produces it.
type Pipeline struct {
	executors map[queue.Stage]Executor
}

// NewPipelineOf registers executors by the stage they produce.
func NewPipelineOf(executors ...Executor) *Pipeline {
	p := &Pipeline{executors: make(map[queue.Stage]Executor, len(executors))}
	for _, exec := range executors {
		if exec != nil {
			p.executors[exec.Stage()] = exec
		}
	}
	return p
}

// For returns the executor producing stage.
func (p *Pipeline) For(stage queue.Stage) (Executor, bool) {
	if p == nil {
		return nil, false
	}
	exec, ok := p.executors[stage]
	return exec, ok
}

// Validate ensures every stage after detected has an executor.
func (p *Pipeline) Validate() error {
	for _, stage := range queue.Stages()[1:] {
		if _, ok := p.For(stage); !ok {
			return fmt.Errorf("pipeline: no executor for stage %s", stage)
		}
	}
	return nil
}

// HealthChecks runs every executor's health check in pipeline order.
func (p *Pipeline) HealthChecks(ctx context.Context) []Health {
	var out []Health
	for _, stage := range queue.Stages()[1:] {
		if exec, ok := p.For(stage); ok {
			out = append(out, exec.HealthCheck(ctx))
		}
	}
	return out
}
