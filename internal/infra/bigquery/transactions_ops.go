package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

// ListExpenseTransactionsWithClient returns the user's money-out transactions
// ordered by date. Rows count as expenses when direction is OUT, or when
// direction is unknown and the signed amount is negative.
func ListExpenseTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) ([]domain.Transaction, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			t.transaction_id,
			t.user_id,
			t.transaction_date,
			t.booking_datetime,
			ABS(t.amount) AS amount,
			t.category_name,
			t.raw_description
		FROM %s t
		WHERE t.user_id = @user_id
		  AND (t.direction = 'OUT' OR (t.direction IS NULL AND t.amount < 0))
		ORDER BY t.transaction_date, t.booking_datetime, t.transaction_id
	`, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExpenseTransactions: query read: %w", err)
	}

	var out []domain.Transaction
	for {
		var r ExpenseRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExpenseTransactions: iter next: %w", err)
		}
		out = append(out, r.ToDomain())
	}

	return out, nil
}
