package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/subscription-tracker/internal/domain"
)

// DetectionRunner runs detection for one user.
type DetectionRunner interface {
	RunDetection(ctx context.Context, userID string) ([]domain.Subscription, error)
}

// NewDetectionHandler returns a JobHandler that runs detection jobs through
// runner and records the resulting subscription count on the job.
func NewDetectionHandler(runner DetectionRunner) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*DetectSubscriptionsJob)
		if !ok {
			return fmt.Errorf("detection handler: unsupported job type %q", job.GetType())
		}
		subs, err := runner.RunDetection(ctx, j.UserID)
		if err != nil {
			return fmt.Errorf("detection handler: %w", err)
		}
		j.SubscriptionCount = len(subs)
		return nil
	}
}
