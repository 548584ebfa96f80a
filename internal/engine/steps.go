package engine

import (
	"context"
	"fmt"

	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/subscriptions"
)

// DetectionStep is one stage of a detection run.
type DetectionStep interface {
	Execute(ctx context.Context, state *DetectionState) error
}

// DetectionState is shared across the steps of one run.
type DetectionState struct {
	UserID        string
	Candidates    []domain.CandidateSeries
	Subscriptions []domain.Subscription
}

// DetectStep loads the user's expense history and groups it into candidate
// series.
type DetectStep struct {
	Matcher *detection.Matcher
}

func (s *DetectStep) Execute(ctx context.Context, state *DetectionState) error {
	candidates, err := s.Matcher.Detect(ctx, state.UserID)
	if err != nil {
		return err
	}
	state.Candidates = candidates
	return nil
}

// ReconcileStep commits the candidates and keeps the resulting list.
type ReconcileStep struct {
	Repo subscriptions.Repository
}

func (s *ReconcileStep) Execute(ctx context.Context, state *DetectionState) error {
	subs, err := s.Repo.Reconcile(ctx, state.UserID, state.Candidates)
	if err != nil {
		return fmt.Errorf("reconciling: %w", err)
	}
	state.Subscriptions = subs
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []DetectionStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...DetectionStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *DetectionState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d: %w", i+1, err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewDetectionPipeline creates the standard detect and reconcile run.
func NewDetectionPipeline(source detection.TransactionSource, repo subscriptions.Repository) *Pipeline {
	return NewPipeline(
		&DetectStep{Matcher: detection.NewMatcher(source)},
		&ReconcileStep{Repo: repo},
	)
}
