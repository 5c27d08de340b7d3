package workflow

import (
	"context"

	"curator/internal/catalog"
	"curator/internal/queue"
)

// Continuation names one entity whose pipeline may advance to the next
// phase.
type Continuation struct {
	EntityType catalog.EntityType
	EntityID   int64
}

// Outcome is what a handler reports back to the manager on success.
type Outcome struct {
	Continuations []Continuation
}

// Handler executes one job type. Handlers must be safely re-runnable: crash
// recovery requeues in-flight jobs, so every execution may be a repeat.
type Handler interface {
	JobType() queue.Type
	Execute(ctx context.Context, job *queue.Job, payload queue.Payload) (*Outcome, error)
}
