package model

import (
	"time"
)

// JobStatus represents the current state of a scheduled job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state. Terminal jobs are
// never re-dispatched; the stale sweep only touches jobs stuck in processing.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobKind identifies the processor that executes a job.
type JobKind string

const (
	JobKindScrape   JobKind = "scrape"
	JobKindIngest   JobKind = "ingest"
	JobKindEnrich   JobKind = "enrich"
	JobKindValidate JobKind = "validate"
)

// Valid reports whether the kind is one of the known job kinds.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindScrape, JobKindIngest, JobKindEnrich, JobKindValidate:
		return true
	}
	return false
}

// DefaultMaxAttempts is the attempt budget applied when a job is created
// without an explicit one.
const DefaultMaxAttempts = 3

// Job is a unit of asynchronous, retryable work. Status transitions are owned
// exclusively by the scheduler; the persisted job table is the source of truth
// and the scheduler's in-memory active set is a cache reconciled by the stale
// sweep.
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Source      string     `json:"source,omitempty"`
	City        string     `json:"city,omitempty"`
	Category    string     `json:"category,omitempty"`
	Status      JobStatus  `json:"status"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Payload     []byte     `json:"payload,omitempty"`
	Result      []byte     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// QueueStats is a point-in-time snapshot of scheduler state.
type QueueStats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Size      int `json:"size"`
}
