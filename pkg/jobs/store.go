package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JobStore provides database operations for submission jobs.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// AutoMigrate creates or updates the submission_jobs table.
func (s *JobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&SubmissionJob{})
}

// JobListFilter defines filters for listing jobs.
type JobListFilter struct {
	State         string
	RepositoryURL string
}

// Create persists a new queued job.
func (s *JobStore) Create(ctx context.Context, job *SubmissionJob) error {
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// MarkRunning transitions a queued job to running.
func (s *JobStore) MarkRunning(ctx context.Context, jobID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&SubmissionJob{}).
		Where("id = ? AND state = ?", jobID, JobStateQueued).
		Updates(map[string]any{
			"state":      JobStateRunning,
			"started_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("mark job running: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job %s is not queued", jobID)
	}
	return nil
}

// Complete marks a job as succeeded.
func (s *JobStore) Complete(ctx context.Context, jobID, packageName string, versions int, durationMs int64) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&SubmissionJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":            JobStateSucceeded,
		"finished_at":      now,
		"package_name":     packageName,
		"versions_indexed": versions,
		"duration_ms":      durationMs,
		"message":          fmt.Sprintf("Indexed %s with %d version(s)", packageName, versions),
	})
	if result.Error != nil {
		return fmt.Errorf("complete job: %w", result.Error)
	}
	return nil
}

// Fail marks a job as failed. Submissions are never retried.
func (s *JobStore) Fail(ctx context.Context, jobID, phase, errMsg string, durationMs int64) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&SubmissionJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":        JobStateFailed,
		"finished_at":  now,
		"failed_phase": phase,
		"last_error":   errMsg,
		"duration_ms":  durationMs,
		"message":      "Indexing failed",
	})
	if result.Error != nil {
		return fmt.Errorf("fail job: %w", result.Error)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (*SubmissionJob, error) {
	var job SubmissionJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Queued returns the jobs still waiting to run, oldest first.
func (s *JobStore) Queued(ctx context.Context) ([]SubmissionJob, error) {
	var jobs []SubmissionJob
	if err := s.db.WithContext(ctx).Where("state = ?", JobStateQueued).
		Order("requested_at ASC").Order("id ASC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	return jobs, nil
}

// FailInterrupted marks every running job as failed. It is called on start
// up, when no job can legitimately be running.
func (s *JobStore) FailInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&SubmissionJob{}).
		Where("state = ?", JobStateRunning).
		Updates(map[string]any{
			"state":       JobStateFailed,
			"finished_at": now,
			"last_error":  InterruptedMessage,
			"message":     "Indexing failed",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// List returns paginated jobs matching the given filter, newest first.
func (s *JobStore) List(ctx context.Context, filter JobListFilter, pageSize int, pageToken string) ([]SubmissionJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&SubmissionJob{})
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.RepositoryURL != "" {
			q = q.Where("repository_url = ?", filter.RepositoryURL)
		}
		return q
	}

	db := s.db.WithContext(ctx)
	var totalSize int64
	if err := buildQuery(db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	query := buildQuery(db).Order("requested_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("requested_at < ?", t)
	}

	var records []SubmissionJob
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].RequestedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// DeleteOlderThan removes terminal jobs finished before cutoff.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?",
		[]JobState{JobStateSucceeded, JobStateFailed}, cutoff).
		Delete(&SubmissionJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
