package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the user-facing state of a detected subscription.
type SubscriptionStatus string

const (
	// StatusActive subscriptions take part in due-soon queries.
	StatusActive SubscriptionStatus = "ACTIVE"
	// StatusIgnored is set by the user and survives every re-detection.
	StatusIgnored SubscriptionStatus = "IGNORED"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	return s == StatusActive || s == StatusIgnored
}

// Subscription is the persisted, derived record for one recurring series.
type Subscription struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id"`
	Merchant     string             `json:"merchant"`
	AvgAmount    decimal.Decimal    `json:"avg_amount"`
	LastPaidDate civil.Date         `json:"last_paid_date"`
	NextDueDate  civil.Date         `json:"next_due_date"`
	Status       SubscriptionStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// MerchantKey returns the uniqueness key of the subscription within its user.
func (s Subscription) MerchantKey() string {
	return MerchantKey(s.Merchant)
}

// IsActive reports whether the subscription is ACTIVE.
func (s Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// YearMonthOf returns the calendar month containing d.
func YearMonthOf(d civil.Date) YearMonth {
	return YearMonth{Year: d.Year, Month: d.Month}
}

// CandidateSeries is a not-yet-persisted grouping of same-category expenses
// that qualified as recurring, with its computed statistics.
type CandidateSeries struct {
	UserID       string
	Merchant     string
	Transactions []Transaction
	Months       []YearMonth
	AvgAmount    decimal.Decimal
	LastPaidDate civil.Date
	NextDueDate  civil.Date
}

// MerchantKey returns the case-insensitive key of the series.
func (c CandidateSeries) MerchantKey() string {
	return MerchantKey(c.Merchant)
}

// AuditEntry records a state change of a subscription.
type AuditEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details"`
	Timestamp  time.Time `json:"timestamp"`
}

// Audit actions.
const (
	AuditSubscriptionDetected = "SUBSCRIPTION_DETECTED"
	AuditSubscriptionUpdated  = "SUBSCRIPTION_UPDATED"
	AuditSubscriptionIgnored  = "SUBSCRIPTION_IGNORED"

	EntitySubscription = "SUBSCRIPTION"
)
