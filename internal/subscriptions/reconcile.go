package subscriptions

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/google/uuid"
)

// Change describes what reconciling one candidate did to its subscription.
type Change int

const (
	Unchanged Change = iota
	Created
	Updated
)

// Merge applies candidate c to the existing subscription (nil when none) and
// returns the resulting record. Numeric fields are overwritten with the
// freshly computed values; status is never touched, so IGNORED stays IGNORED.
// UpdatedAt moves only when a field actually changed.
func Merge(existing *domain.Subscription, c domain.CandidateSeries, now time.Time) (domain.Subscription, Change) {
	if existing == nil {
		return domain.Subscription{
			ID:           uuid.NewString(),
			UserID:       c.UserID,
			Merchant:     c.Merchant,
			AvgAmount:    c.AvgAmount,
			LastPaidDate: c.LastPaidDate,
			NextDueDate:  c.NextDueDate,
			Status:       domain.StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}, Created
	}

	next := *existing
	next.AvgAmount = c.AvgAmount
	next.LastPaidDate = c.LastPaidDate
	next.NextDueDate = c.NextDueDate

	if next.AvgAmount.Equal(existing.AvgAmount) &&
		next.LastPaidDate == existing.LastPaidDate &&
		next.NextDueDate == existing.NextDueDate {
		return *existing, Unchanged
	}
	next.UpdatedAt = now
	return next, Updated
}

// ApplyIgnore returns s marked IGNORED and whether that was a transition.
func ApplyIgnore(s domain.Subscription, now time.Time) (domain.Subscription, bool) {
	if s.Status == domain.StatusIgnored {
		return s, false
	}
	s.Status = domain.StatusIgnored
	s.UpdatedAt = now
	return s, true
}

// Sort orders subscriptions by merchant key, then id.
func Sort(subs []domain.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		ki, kj := subs[i].MerchantKey(), subs[j].MerchantKey()
		if ki != kj {
			return ki < kj
		}
		return subs[i].ID < subs[j].ID
	})
}

// AuditFor builds the audit entry recording change on s, or nil when nothing
// happened.
func AuditFor(s domain.Subscription, change Change, now time.Time) *domain.AuditEntry {
	var action string
	switch change {
	case Created:
		action = domain.AuditSubscriptionDetected
	case Updated:
		action = domain.AuditSubscriptionUpdated
	default:
		return nil
	}
	return newAudit(s, action, now)
}

// IgnoreAudit builds the audit entry for an IGNORE transition.
func IgnoreAudit(s domain.Subscription, now time.Time) *domain.AuditEntry {
	return newAudit(s, domain.AuditSubscriptionIgnored, now)
}

func newAudit(s domain.Subscription, action string, now time.Time) *domain.AuditEntry {
	details, _ := json.Marshal(map[string]string{
		"merchant":       s.Merchant,
		"avg_amount":     s.AvgAmount.StringFixed(2),
		"last_paid_date": s.LastPaidDate.String(),
		"next_due_date":  s.NextDueDate.String(),
		"status":         string(s.Status),
	})
	return &domain.AuditEntry{
		ID:         uuid.NewString(),
		UserID:     s.UserID,
		Action:     action,
		EntityType: domain.EntitySubscription,
		EntityID:   s.ID,
		Details:    string(details),
		Timestamp:  now.UTC(),
	}
}
