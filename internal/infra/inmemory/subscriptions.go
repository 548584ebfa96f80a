package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/subscriptions"
)

// SubscriptionRepository keeps subscriptions and their audit trail in memory.
// A single mutex makes every Reconcile call atomic.
type SubscriptionRepository struct {
	mu    sync.RWMutex
	subs  map[string]map[string]domain.Subscription // user -> merchant key -> subscription
	audit map[string][]domain.AuditEntry            // user -> entries, oldest first
	now   func() time.Time
}

// NewSubscriptionRepository creates an empty repository.
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{
		subs:  make(map[string]map[string]domain.Subscription),
		audit: make(map[string][]domain.AuditEntry),
		now:   time.Now,
	}
}

// Reconcile implements subscriptions.Repository.
func (r *SubscriptionRepository) Reconcile(ctx context.Context, userID string, candidates []domain.CandidateSeries) ([]domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Stage into a copy so a failure midway leaves the user untouched.
	staged := make(map[string]domain.Subscription, len(r.subs[userID])+len(candidates))
	for k, v := range r.subs[userID] {
		staged[k] = v
	}
	var entries []domain.AuditEntry

	now := r.now()
	for _, c := range candidates {
		key := c.MerchantKey()
		var existing *domain.Subscription
		if s, ok := staged[key]; ok {
			existing = &s
		}
		merged, change := subscriptions.Merge(existing, c, now)
		staged[key] = merged
		if entry := subscriptions.AuditFor(merged, change, now); entry != nil {
			entries = append(entries, *entry)
		}
	}

	r.subs[userID] = staged
	r.audit[userID] = append(r.audit[userID], entries...)

	return r.listLocked(userID), nil
}

// ListByUser implements subscriptions.Repository.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked(userID), nil
}

// Ignore implements subscriptions.Repository.
func (r *SubscriptionRepository) Ignore(ctx context.Context, subscriptionID, userID string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, s := range r.subs[userID] {
		if s.ID != subscriptionID {
			continue
		}
		ignored, changed := subscriptions.ApplyIgnore(s, r.now())
		if changed {
			r.subs[userID][key] = ignored
			r.audit[userID] = append(r.audit[userID], *subscriptions.IgnoreAudit(ignored, ignored.UpdatedAt))
		}
		return &ignored, nil
	}
	return nil, &domain.NotFoundError{Op: "Ignore", UserID: userID, SubscriptionID: subscriptionID}
}

// ListAuditLog implements subscriptions.Repository.
func (r *SubscriptionRepository) ListAuditLog(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.audit[userID]
	out := make([]domain.AuditEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *SubscriptionRepository) listLocked(userID string) []domain.Subscription {
	out := make([]domain.Subscription, 0, len(r.subs[userID]))
	for _, s := range r.subs[userID] {
		out = append(out, s)
	}
	subscriptions.Sort(out)
	return out
}

// Ensure SubscriptionRepository implements Repository.
var _ subscriptions.Repository = (*SubscriptionRepository)(nil)
