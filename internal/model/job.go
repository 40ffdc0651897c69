package model

import (
	"fmt"
	"time"
)

// Job status constants.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// JobRecord is the retained outcome of one backup attempt. Records are
// appended to a bounded history by the scheduler and are read-only to the
// status API.
type JobRecord struct {
	ID               string    `json:"id"`
	SourceID         string    `json:"source_id"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	Status           string    `json:"status"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	RetentionDeleted int       `json:"retention_deleted"`
	Error            string    `json:"error,omitempty"`
}

// RunningJob records that a source's job is in flight, or recently finished.
// At most one exists per source at any instant.
type RunningJob struct {
	JobID       string     `json:"job_id"`
	SourceID    string     `json:"source_id"`
	StartedAt   time.Time  `json:"started_at"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJobID builds the job identifier from the source id and the trigger
// time's unix epoch.
func NewJobID(sourceID string, startedAt time.Time) string {
	return fmt.Sprintf("%s-%d", sourceID, startedAt.Unix())
}
