package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Type discriminates job payloads.
type Type string

const (
	TypeDirectoryScan  Type = "directory-scan"
	TypeEnrichMetadata Type = "enrich-metadata"
	TypePublish        Type = "publish"
	TypeVerify         Type = "verify"
	TypeNotifyPlayers  Type = "notify-players"
)

// Priority orders dispatch; lower values are claimed first.
type Priority int

const (
	// PriorityCritical is reserved for webhook-triggered work.
	PriorityCritical Priority = 0
	// PriorityHigh is used for user-initiated jobs.
	PriorityHigh Priority = 10
	// PriorityNormal is used for automated chain continuation.
	PriorityNormal Priority = 20
	// PriorityLow is used for scheduled maintenance.
	PriorityLow Priority = 30
)

// Status represents the lifecycle of an active job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
)

// Result classifies archived jobs.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultFailed    Result = "failed"
)

// Job is a queued unit of work persisted in SQLite.
type Job struct {
	ID           int64
	Type         Type
	Priority     Priority
	Payload      json.RawMessage
	Status       Status
	RetryCount   int
	MaxRetries   int
	Manual       bool
	ErrorMessage string
	NotBefore    *time.Time
	CreatedAt    time.Time
	StartedAt    *time.Time
}

// HistoryEntry is an archived job kept for post-mortem visibility.
type HistoryEntry struct {
	ID           int64
	JobID        int64
	Type         Type
	Priority     Priority
	Payload      json.RawMessage
	Result       Result
	RetryCount   int
	Manual       bool
	ErrorMessage string
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// Stats aggregates queue state for starvation alerting and diagnostics.
type Stats struct {
	Pending          int
	Processing       int
	OldestPendingAge time.Duration
}

// ParseType converts a string into a known job Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case TypeDirectoryScan, TypeEnrichMetadata, TypePublish, TypeVerify, TypeNotifyPlayers:
		return normalized, true
	default:
		return "", false
	}
}
