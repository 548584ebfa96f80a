// Package scheduler answers "what is due within N days" over persisted
// subscriptions using calendar-date comparisons only.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/domain"
)

// DefaultDays is the window used when the caller does not pass one.
const DefaultDays = 7

// Lister is the read side of the subscription repository.
type Lister interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
}

// Scheduler computes due-soon windows relative to the local calendar day.
type Scheduler struct {
	repo Lister
	now  func() time.Time
	loc  *time.Location
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the zone whose calendar day is "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// New creates a Scheduler reading from repo.
func New(repo Lister, opts ...Option) *Scheduler {
	s := &Scheduler{repo: repo, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the scheduler's current calendar date.
func (s *Scheduler) Today() civil.Date {
	return domain.Today(s.now(), s.loc)
}

// DueSoon returns the user's ACTIVE subscriptions due in [today, today+days].
func (s *Scheduler) DueSoon(ctx context.Context, userID string, days int) ([]domain.Subscription, error) {
	if err := ValidateDays(userID, days); err != nil {
		return nil, err
	}
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("DueSoon: listing subscriptions: %w", err)
	}
	return FilterDueSoon(subs, s.Today(), days), nil
}

// ValidateDays rejects negative windows.
func ValidateDays(userID string, days int) error {
	if days < 0 {
		return &domain.ValidationError{
			Op:      "dueSoon",
			UserID:  userID,
			Field:   "days",
			Message: fmt.Sprintf("must be >= 0, got %d", days),
		}
	}
	return nil
}

// FilterDueSoon keeps ACTIVE subscriptions whose next due date lies in the
// inclusive window starting at today, sorted by due date then merchant.
func FilterDueSoon(subs []domain.Subscription, today civil.Date, days int) []domain.Subscription {
	end := today.AddDays(days)
	out := []domain.Subscription{}
	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		if sub.NextDueDate.Before(today) || sub.NextDueDate.After(end) {
			continue
		}
		out = append(out, sub)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].NextDueDate.Compare(out[j].NextDueDate); c != 0 {
			return c < 0
		}
		return out[i].Merchant < out[j].Merchant
	})
	return out
}
