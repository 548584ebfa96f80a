package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// SubscriptionRow mirrors finance.subscriptions. It is also the element type
// of the MERGE source array.
type SubscriptionRow struct {
	SubscriptionID string     `bigquery:"subscription_id"`
	UserID         string     `bigquery:"user_id"`
	Merchant       string     `bigquery:"merchant"`
	MerchantKey    string     `bigquery:"merchant_key"`
	AvgAmount      *big.Rat   `bigquery:"avg_amount"`
	LastPaidDate   civil.Date `bigquery:"last_paid_date"`
	NextDueDate    civil.Date `bigquery:"next_due_date"`
	Status         string     `bigquery:"status"`
	CreatedTS      time.Time  `bigquery:"created_ts"`
	UpdatedTS      time.Time  `bigquery:"updated_ts"`
}

// AuditRow mirrors finance.subscription_audit_log.
type AuditRow struct {
	AuditID    string    `bigquery:"audit_id"`
	UserID     string    `bigquery:"user_id"`
	Action     string    `bigquery:"action"`
	EntityType string    `bigquery:"entity_type"`
	EntityID   string    `bigquery:"entity_id"`
	Details    string    `bigquery:"details"`
	EventTS    time.Time `bigquery:"event_ts"`
}

func subscriptionToRow(s domain.Subscription) SubscriptionRow {
	return SubscriptionRow{
		SubscriptionID: s.ID,
		UserID:         s.UserID,
		Merchant:       s.Merchant,
		MerchantKey:    s.MerchantKey(),
		AvgAmount:      s.AvgAmount.Round(2).Rat(),
		LastPaidDate:   s.LastPaidDate,
		NextDueDate:    s.NextDueDate,
		Status:         string(s.Status),
		CreatedTS:      s.CreatedAt.UTC(),
		UpdatedTS:      s.UpdatedAt.UTC(),
	}
}

func (r *SubscriptionRow) toDomain() domain.Subscription {
	avg := decimal.Zero
	if r.AvgAmount != nil {
		avg = decimal.NewFromBigRat(r.AvgAmount, 2)
	}
	return domain.Subscription{
		ID:           r.SubscriptionID,
		UserID:       r.UserID,
		Merchant:     r.Merchant,
		AvgAmount:    avg,
		LastPaidDate: r.LastPaidDate,
		NextDueDate:  r.NextDueDate,
		Status:       domain.SubscriptionStatus(r.Status),
		CreatedAt:    r.CreatedTS,
		UpdatedAt:    r.UpdatedTS,
	}
}

func auditToRow(e domain.AuditEntry) AuditRow {
	return AuditRow{
		AuditID:    e.ID,
		UserID:     e.UserID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Details:    e.Details,
		EventTS:    e.Timestamp.UTC(),
	}
}

func (r *AuditRow) toDomain() domain.AuditEntry {
	return domain.AuditEntry{
		ID:         r.AuditID,
		UserID:     r.UserID,
		Action:     r.Action,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Details:    r.Details,
		Timestamp:  r.EventTS,
	}
}
