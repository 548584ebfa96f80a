package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/jobs"
)

type stubRunner struct {
	calls    int32
	failures int32
	subs     []domain.Subscription
}

func (r *stubRunner) RunDetection(ctx context.Context, userID string) ([]domain.Subscription, error) {
	n := atomic.AddInt32(&r.calls, 1)
	if n <= atomic.LoadInt32(&r.failures) {
		return nil, errors.New("store offline")
	}
	return r.subs, nil
}

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.DetectSubscriptionsJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s did not reach %s, last state %+v", jobID, want, job)
	return nil
}

func TestQueue_CompletesJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store)
	runner := &stubRunner{subs: make([]domain.Subscription, 3)}
	if err := q.Start(ctx, jobs.NewDetectionHandler(runner)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.DetectSubscriptionsJob{UserID: "u1"}
	if err := q.PublishDetectSubscriptions(ctx, job); err != nil {
		t.Fatalf("PublishDetectSubscriptions() error = %v", err)
	}
	if job.JobID == "" || job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("defaults not applied: %+v", job)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.SubscriptionCount != 3 {
		t.Errorf("SubscriptionCount = %d, want 3", done.SubscriptionCount)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithBackoff(time.Millisecond))
	runner := &stubRunner{failures: 2}
	if err := q.Start(ctx, jobs.NewDetectionHandler(runner)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.DetectSubscriptionsJob{UserID: "u1"}
	if err := q.PublishDetectSubscriptions(ctx, job); err != nil {
		t.Fatalf("PublishDetectSubscriptions() error = %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", done.RetryCount)
	}
	if done.Error != "" {
		t.Errorf("Error = %q, want cleared", done.Error)
	}
}

func TestQueue_FailsAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))
	runner := &stubRunner{failures: 100}
	if err := q.Start(ctx, jobs.NewDetectionHandler(runner)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Stop(context.Background())

	job := &jobs.DetectSubscriptionsJob{UserID: "u1", MaxRetries: 1}
	if err := q.PublishDetectSubscriptions(ctx, job); err != nil {
		t.Fatalf("PublishDetectSubscriptions() error = %v", err)
	}

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.Error == "" {
		t.Error("failed job has no error message")
	}
	if got := atomic.LoadInt32(&runner.calls); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
}

func TestQueue_PublishValidation(t *testing.T) {
	q := NewQueue(1, NewStore())

	if err := q.PublishDetectSubscriptions(context.Background(), &jobs.DetectSubscriptionsJob{}); err == nil {
		t.Error("PublishDetectSubscriptions() without user succeeded")
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.PublishDetectSubscriptions(context.Background(), &jobs.DetectSubscriptionsJob{UserID: "u1"}); err == nil {
		t.Error("PublishDetectSubscriptions() on closed queue succeeded")
	}
}

func TestStore_ListJobsFilters(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, j := range []jobs.DetectSubscriptionsJob{
		{JobID: "a", UserID: "u1", Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "b", UserID: "u1", Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)},
		{JobID: "c", UserID: "u2", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(2 * time.Minute)},
	} {
		j := j
		if err := store.SaveJob(ctx, &j); err != nil {
			t.Fatalf("SaveJob(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by user", jobs.JobFilter{UserID: "u1"}, []string{"b", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusCompleted}, []string{"c", "a"}},
		{"limit and offset", jobs.JobFilter{Offset: 1, Limit: 1}, []string{"b"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListJobs() returned %d jobs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].JobID != id {
					t.Errorf("got[%d] = %s, want %s", i, got[i].JobID, id)
				}
			}
		})
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrJobNotFound", err)
	}
}
