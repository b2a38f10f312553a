package jobs

import (
	"time"
)

// JobState represents the lifecycle state of a submission job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// InterruptedMessage is recorded on jobs that were running when the
// process stopped.
const InterruptedMessage = "interrupted: the indexer stopped while this submission was running"

// SubmissionJob is the GORM model for one queued submission.
type SubmissionJob struct {
	ID              string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	RepositoryURL   string     `gorm:"column:repository_url;index:idx_job_repo;not null"`
	NotifyAddress   string     `gorm:"column:notify_address"`
	RequestedAt     time.Time  `gorm:"column:requested_at;index:idx_job_state_requested,priority:2;not null"`
	State           JobState   `gorm:"column:state;index:idx_job_state_requested,priority:1;not null;default:queued"`
	Message         string     `gorm:"column:message"`
	StartedAt       *time.Time `gorm:"column:started_at"`
	FinishedAt      *time.Time `gorm:"column:finished_at"`
	LastError       string     `gorm:"column:last_error"`
	FailedPhase     string     `gorm:"column:failed_phase"`
	PackageName     string     `gorm:"column:package_name"`
	VersionsIndexed int        `gorm:"column:versions_indexed"`
	DurationMs      int64      `gorm:"column:duration_ms"`
}

// TableName returns the GORM table name.
func (SubmissionJob) TableName() string { return "submission_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *SubmissionJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed:
		return true
	}
	return false
}
