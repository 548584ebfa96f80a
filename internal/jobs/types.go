package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeDetectSubscriptions runs subscription detection for one user.
	JobTypeDetectSubscriptions JobType = "detect_subscriptions"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// DefaultMaxRetries applies when a published job does not set MaxRetries.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by JobStore lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// DetectSubscriptionsJob asks a worker to run detection for a user.
type DetectSubscriptionsJob struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// SubscriptionCount is the size of the reconciled list on success.
	SubscriptionCount int `json:"subscription_count"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *DetectSubscriptionsJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *DetectSubscriptionsJob) GetType() JobType {
	return JobTypeDetectSubscriptions
}

// GetStatus implements the Job interface.
func (j *DetectSubscriptionsJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher enqueues jobs.
type Publisher interface {
	// PublishDetectSubscriptions enqueues a detection job. The job id,
	// status and creation time are filled in when empty.
	PublishDetectSubscriptions(ctx context.Context, job *DetectSubscriptionsJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer runs a handler over queued jobs.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job for retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state.
type JobStore interface {
	SaveJob(ctx context.Context, job *DetectSubscriptionsJob) error
	GetJob(ctx context.Context, jobID string) (*DetectSubscriptionsJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*DetectSubscriptionsJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by user.
	UserID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
