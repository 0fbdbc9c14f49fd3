package domain

import (
	"time"
)

// JobStatus is a crawl job state.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive reports whether the job still holds its source's job slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// TriggerKind records what created a job.
type TriggerKind string

const (
	TriggerScheduler TriggerKind = "scheduler"
	TriggerManual    TriggerKind = "manual"
)

// Counters are a job's progress counters. They only grow while running.
type Counters struct {
	PagesCrawled    int `db:"pages_crawled"    json:"pages_crawled"`
	CandidatesFound int `db:"candidates_found" json:"candidates_found"`
	Created         int `db:"created"          json:"created"`
	DuplicatesFound int `db:"duplicates_found" json:"duplicates_found"`
	ErrorsCount     int `db:"errors_count"     json:"errors_count"`
}

// Log levels used in job log entries.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogEntry is one structured job log line.
type LogEntry struct {
	JobID     string    `db:"job_id"    json:"-"`
	Timestamp time.Time `db:"logged_at" json:"timestamp"`
	Level     string    `db:"level"     json:"level"`
	Message   string    `db:"message"   json:"message"`
	Fields    JSONBMap  `db:"fields"    json:"fields,omitempty"`
}

// Job is one execution of a source.
type Job struct {
	ID             string      `db:"id"              json:"id"`
	SourceID       string      `db:"source_id"       json:"source_id"`
	Status         JobStatus   `db:"status"          json:"status"`
	TriggeredBy    TriggerKind `db:"triggered_by"    json:"triggered_by"`
	TriggeredActor string      `db:"triggered_actor" json:"triggered_actor,omitempty"`

	// Owner names the process running the job. HeartbeatAt is refreshed
	// while it is alive.
	Owner       string     `db:"owner"        json:"owner,omitempty"`
	HeartbeatAt *time.Time `db:"heartbeat_at" json:"heartbeat_at,omitempty"`

	Counters

	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`

	Log []LogEntry `db:"-" json:"log,omitempty"`
}

// LastSeen returns the newest of HeartbeatAt, StartedAt and CreatedAt.
func (j *Job) LastSeen() time.Time {
	seen := j.CreatedAt
	if j.StartedAt != nil && j.StartedAt.After(seen) {
		seen = *j.StartedAt
	}
	if j.HeartbeatAt != nil && j.HeartbeatAt.After(seen) {
		seen = *j.HeartbeatAt
	}
	return seen
}

// Duration returns the wall time between start and completion, or zero if
// the job has not both started and finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
