package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// numericScale is the fractional precision of BigQuery NUMERIC.
const numericScale = 9

// ExpenseRow is the projection of finance.transactions read for detection.
// Amount is already made positive by the query.
type ExpenseRow struct {
	TransactionID   string                `bigquery:"transaction_id"`
	UserID          string                `bigquery:"user_id"`
	TransactionDate civil.Date            `bigquery:"transaction_date"`
	BookingDatetime bigquery.NullDateTime `bigquery:"booking_datetime"`
	Amount          *big.Rat              `bigquery:"amount"`
	CategoryName    bigquery.NullString   `bigquery:"category_name"`
	RawDescription  string                `bigquery:"raw_description"`
}

// ToDomain converts the row into an EXPENSE transaction. The calendar day is
// taken from transaction_date; booking time, when present, only orders
// charges within that day.
func (r *ExpenseRow) ToDomain() domain.Transaction {
	var h, m, s int
	if r.BookingDatetime.Valid {
		t := r.BookingDatetime.DateTime.Time
		h, m, s = t.Hour, t.Minute, t.Second
	}

	amount := decimal.Zero
	if r.Amount != nil {
		amount = decimal.NewFromBigRat(r.Amount, numericScale)
	}

	return domain.Transaction{
		ID:              r.TransactionID,
		UserID:          r.UserID,
		Amount:          amount,
		Type:            domain.TransactionTypeExpense,
		Category:        r.CategoryName.StringVal,
		Description:     r.RawDescription,
		TransactionDate: time.Date(r.TransactionDate.Year, r.TransactionDate.Month, r.TransactionDate.Day, h, m, s, 0, time.UTC),
	}
}
