package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money in from money out.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "INCOME"
	TransactionTypeExpense TransactionType = "EXPENSE"
)

// Transaction is one immutable entry of a user's transaction history.
// Amounts are always positive; the direction lives in Type.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Type            TransactionType `json:"type"`
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	Location        string          `json:"location"`
	TransactionDate time.Time       `json:"transaction_date"`

	// Fraud attributes are computed upstream and carried through untouched.
	FraudScore int      `json:"fraud_score,omitempty"`
	RiskLevel  string   `json:"risk_level,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

// IsExpense reports whether the transaction is money out.
func (t Transaction) IsExpense() bool {
	return t.Type == TransactionTypeExpense
}

// Date returns the calendar day the transaction was recorded on.
// The stored value's own year/month/day are used as-is; no zone conversion
// happens, so a date-only value never slides to the neighbouring day.
func (t Transaction) Date() civil.Date {
	y, m, d := t.TransactionDate.Date()
	return civil.Date{Year: y, Month: m, Day: d}
}

// MerchantKey normalises a category or merchant name for case-insensitive
// comparison.
func MerchantKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
