package types

import "time"

// BackupObject describes one archived snapshot in the object store.
// Immutable once written.
type BackupObject struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// JobState is the lifecycle of a background backup/restore job.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobSuccess JobState = "success"
	JobFailed  JobState = "failed"
)

// Job is the pollable record for a background operation. Once a job reaches
// success or failed it never changes again.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "backup" or "restore"
	State     JobState  `json:"state"`
	Error     string    `json:"error,omitempty"`
	Key       string    `json:"key,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool { return j.State == JobSuccess || j.State == JobFailed }
