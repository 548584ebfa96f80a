// Package subscriptions holds the subscription repository contract and the
// reconciliation rules every backend applies.
package subscriptions

import (
	"context"

	"github.com/dvloznov/subscription-tracker/internal/domain"
)

// Repository persists one Subscription per (user, merchant).
type Repository interface {
	// Reconcile merges candidates into the user's subscriptions atomically and
	// returns the user's full subscription list (ACTIVE and IGNORED).
	Reconcile(ctx context.Context, userID string, candidates []domain.CandidateSeries) ([]domain.Subscription, error)

	// ListByUser returns every subscription of the user ordered by merchant.
	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)

	// Ignore marks a subscription IGNORED. It returns *domain.NotFoundError
	// when the id does not exist or belongs to another user.
	Ignore(ctx context.Context, subscriptionID, userID string) (*domain.Subscription, error)

	// ListAuditLog returns the newest audit entries of the user first.
	ListAuditLog(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error)
}
