package stage

import "stockpile/internal/queue"

// Health reports whether the executor for Stage has its collaborator wired.
type Health struct {
	Stage  queue.Stage
	Ready  bool
	Detail string
}

func ready(stage queue.Stage) Health {
	return Health{Stage: stage, Ready: true}
}

func missing(stage queue.Stage, collaborator string) Health {
	return Health{Stage: stage, Detail: collaborator + " not configured"}
}
