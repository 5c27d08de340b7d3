package workflow_test

import (
	"testing"

	"curator/internal/config"
	"curator/internal/queue"
	"curator/internal/workflow"
)

func TestNextPhase(t *testing.T) {
	defaults := config.Default()
	cfg := &defaults
	cfg.Workflow.EnrichEnabled = true
	cfg.Workflow.PublishEnabled = false
	cfg.Workflow.NotifyEnabled = true

	tests := []struct {
		name    string
		jobType queue.Type
		manual  bool
		want    queue.Type
		ok      bool
	}{
		{"scan continues to enrich", queue.TypeDirectoryScan, false, queue.TypeEnrichMetadata, true},
		{"enrich gated by publish flag", queue.TypeEnrichMetadata, false, "", false},
		{"manual bypasses the gate", queue.TypeEnrichMetadata, true, queue.TypePublish, true},
		{"publish continues to notify", queue.TypePublish, false, queue.TypeNotifyPlayers, true},
		{"notify is terminal", queue.TypeNotifyPlayers, false, "", false},
		{"verify is terminal", queue.TypeVerify, true, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := workflow.NextPhase(cfg, tc.jobType, tc.manual)
			if ok != tc.ok || next != tc.want {
				t.Fatalf("NextPhase(%s, manual=%v) = (%q, %v), want (%q, %v)",
					tc.jobType, tc.manual, next, ok, tc.want, tc.ok)
			}
		})
	}
}
