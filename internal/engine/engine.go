// Package engine orchestrates detection runs and due-soon queries with
// per-user ordering, so a due-soon read after a detection run always sees
// the reconciled state.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/dvloznov/subscription-tracker/internal/scheduler"
	"github.com/dvloznov/subscription-tracker/internal/subscriptions"
)

// Engine is the entry point for every subscription operation.
type Engine struct {
	repo      subscriptions.Repository
	pipeline  *Pipeline
	scheduler *scheduler.Scheduler
	locks     *userLocks
	timeout   time.Duration
}

// Option configures an Engine.
type Option func(*config)

type config struct {
	timeout  time.Duration
	schedOpt []scheduler.Option
}

// WithTimeout bounds each operation. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithClock overrides the clock used for "today".
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.schedOpt = append(c.schedOpt, scheduler.WithClock(now)) }
}

// WithLocation sets the zone whose calendar day is "today".
func WithLocation(loc *time.Location) Option {
	return func(c *config) { c.schedOpt = append(c.schedOpt, scheduler.WithLocation(loc)) }
}

// New creates an Engine over a transaction source and a repository.
func New(source detection.TransactionSource, repo subscriptions.Repository, opts ...Option) *Engine {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		repo:      repo,
		pipeline:  NewDetectionPipeline(source, repo),
		scheduler: scheduler.New(repo, cfg.schedOpt...),
		locks:     newUserLocks(),
		timeout:   cfg.timeout,
	}
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func requireUser(op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &domain.ValidationError{Op: op, UserID: userID, Field: "userId", Message: "must not be empty"}
	}
	return nil
}

// RunDetection detects and reconciles the user's subscriptions and returns
// the full list, ACTIVE and IGNORED. Runs for the same user are serialized.
func (e *Engine) RunDetection(ctx context.Context, userID string) ([]domain.Subscription, error) {
	const op = "runDetection"
	if err := requireUser(op, userID); err != nil {
		return nil, err
	}
	log := logger.ForUser(ctx, userID, op)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.locks.Lock(userID)
	defer unlock()

	subs, err := e.runLocked(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("detection failed")
		return nil, err
	}
	log.Info().Int("subscriptions", len(subs)).Msg("detection completed")
	return subs, nil
}

func (e *Engine) runLocked(ctx context.Context, userID string) ([]domain.Subscription, error) {
	state := &DetectionState{UserID: userID}
	start := time.Now()
	if err := e.pipeline.Execute(ctx, state); err != nil {
		return nil, domain.AsStoreUnavailable("runDetection", userID, err)
	}
	charges, months := 0, 0
	for _, c := range state.Candidates {
		charges += len(c.Transactions)
		months += len(c.Months)
	}
	log := logger.ForUser(ctx, userID, "runDetection")
	log.Debug().
		Int("candidates", len(state.Candidates)).
		Int("matched_charges", charges).
		Int("candidate_months", months).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline finished")
	subscriptions.Sort(state.Subscriptions)
	return state.Subscriptions, nil
}

// DueSoon returns ACTIVE subscriptions due within [today, today+days]. It
// waits for any detection run of the same user in flight.
func (e *Engine) DueSoon(ctx context.Context, userID string, days int) ([]domain.Subscription, error) {
	const op = "dueSoon"
	if err := requireUser(op, userID); err != nil {
		return nil, err
	}
	if err := scheduler.ValidateDays(userID, days); err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.locks.RLock(userID)
	defer unlock()

	subs, err := e.scheduler.DueSoon(ctx, userID, days)
	if err != nil {
		err = domain.AsStoreUnavailable(op, userID, err)
		log := logger.ForUser(ctx, userID, op)
		log.Error().Err(err).Msg("due-soon query failed")
		return nil, err
	}
	return subs, nil
}

// RefreshAndDueSoon runs detection and answers the due-soon query under a
// single lock, so no other writer can interleave between the two.
func (e *Engine) RefreshAndDueSoon(ctx context.Context, userID string, days int) ([]domain.Subscription, error) {
	const op = "refreshAndDueSoon"
	if err := requireUser(op, userID); err != nil {
		return nil, err
	}
	if err := scheduler.ValidateDays(userID, days); err != nil {
		return nil, err
	}
	log := logger.ForUser(ctx, userID, op)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.locks.Lock(userID)
	defer unlock()

	subs, err := e.runLocked(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("detection failed")
		return nil, err
	}
	due := scheduler.FilterDueSoon(subs, e.scheduler.Today(), days)
	log.Info().Int("subscriptions", len(subs)).Int("due", len(due)).Msg("refresh completed")
	return due, nil
}

// List returns the user's subscriptions without running detection.
func (e *Engine) List(ctx context.Context, userID string) ([]domain.Subscription, error) {
	const op = "list"
	if err := requireUser(op, userID); err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.locks.RLock(userID)
	defer unlock()

	subs, err := e.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.AsStoreUnavailable(op, userID, err)
	}
	subscriptions.Sort(subs)
	return subs, nil
}

// Ignore marks a subscription of the user IGNORED. Ignoring twice succeeds.
func (e *Engine) Ignore(ctx context.Context, subscriptionID, userID string) (*domain.Subscription, error) {
	const op = "ignore"
	if err := requireUser(op, userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, &domain.ValidationError{Op: op, UserID: userID, Field: "subscriptionId", Message: "must not be empty"}
	}
	log := logger.ForUser(ctx, userID, op).With().Str("subscription_id", subscriptionID).Logger()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.locks.Lock(userID)
	defer unlock()

	sub, err := e.repo.Ignore(ctx, subscriptionID, userID)
	if err != nil {
		err = domain.AsStoreUnavailable(op, userID, err)
		log.Warn().Err(err).Msg("ignore failed")
		return nil, err
	}
	log.Info().Str("merchant", sub.Merchant).Msg("subscription ignored")
	return sub, nil
}

// AuditLog returns the newest audit entries of the user first.
func (e *Engine) AuditLog(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	const op = "auditLog"
	if err := requireUser(op, userID); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &domain.ValidationError{Op: op, UserID: userID, Field: "limit", Message: "must be >= 0"}
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.locks.RLock(userID)
	defer unlock()

	entries, err := e.repo.ListAuditLog(ctx, userID, limit)
	if err != nil {
		return nil, domain.AsStoreUnavailable(op, userID, err)
	}
	return entries, nil
}
