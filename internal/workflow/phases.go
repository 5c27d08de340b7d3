package workflow

import (
	"curator/internal/config"
	"curator/internal/queue"
)

// transition names the next phase for a job type and the config gate that
// allows automation to proceed past it.
type transition struct {
	next    queue.Type
	enabled func(*config.Config) bool
}

// phaseGraph is the explicit workflow state machine. Job types absent from
// the map are terminal; verify chains its own follow-ups based on what it
// finds, so it is terminal here.
var phaseGraph = map[queue.Type]transition{
	queue.TypeDirectoryScan: {
		next:    queue.TypeEnrichMetadata,
		enabled: func(cfg *config.Config) bool { return cfg.Workflow.EnrichEnabled },
	},
	queue.TypeEnrichMetadata: {
		next:    queue.TypePublish,
		enabled: func(cfg *config.Config) bool { return cfg.Workflow.PublishEnabled },
	},
	queue.TypePublish: {
		next:    queue.TypeNotifyPlayers,
		enabled: func(cfg *config.Config) bool { return cfg.Workflow.NotifyEnabled },
	},
}

// NextPhase returns the job type that follows jobType. Manual jobs always
// continue; automated jobs stop when the next phase's enablement flag is
// off, leaving the entity awaiting manual action.
func NextPhase(cfg *config.Config, jobType queue.Type, manual bool) (queue.Type, bool) {
	t, ok := phaseGraph[jobType]
	if !ok {
		return "", false
	}
	if !manual && !t.enabled(cfg) {
		return "", false
	}
	return t.next, true
}
