package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStore reads and appends transactions.
type TransactionStore struct {
	db *sql.DB
}

// Append inserts transactions in one SQL transaction, assigning ids where
// missing.
func (s *TransactionStore) Append(ctx context.Context, txs ...domain.Transaction) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		return insertTransactionsWith(ctx, tx, txs)
	})
}

// CountByUser returns the number of stored transactions for the user.
func (s *TransactionStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountByUser: query: %w", err)
	}
	return n, nil
}

// DeleteByUser drops the user's transactions. Used by demo reseeding only.
func (s *TransactionStore) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("DeleteByUser: exec: %w", err)
	}
	return nil
}

// ListExpenseTransactions implements detection.TransactionSource.
func (s *TransactionStore) ListExpenseTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return listExpenseTransactionsWith(ctx, s.db, userID)
}

func insertTransactionsWith(ctx context.Context, q queryer, txs []domain.Transaction) error {
	for _, t := range txs {
		if t.UserID == "" {
			return fmt.Errorf("insertTransactions: transaction %q has no user", t.ID)
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		reasons, err := json.Marshal(t.Reasons)
		if err != nil {
			return fmt.Errorf("insertTransactions: encoding reasons: %w", err)
		}
		if t.Reasons == nil {
			reasons = []byte("[]")
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO transactions
				(id, user_id, amount, type, category, description, location, transaction_date, fraud_score, risk_level, reasons)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.Amount.String(), string(t.Type), t.Category, t.Description, t.Location,
			t.TransactionDate.Format(transactionDateLayout), t.FraudScore, t.RiskLevel, string(reasons),
		)
		if err != nil {
			return fmt.Errorf("insertTransactions: inserting %s: %w", t.ID, err)
		}
	}
	return nil
}

func listExpenseTransactionsWith(ctx context.Context, q queryer, userID string) ([]domain.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, amount, type, category, description, location, transaction_date, fraud_score, risk_level, reasons
		FROM transactions
		WHERE user_id = ? AND type = 'EXPENSE'
		ORDER BY transaction_date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListExpenseTransactions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t       domain.Transaction
			amount  string
			typ     string
			date    string
			reasons string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &amount, &typ, &t.Category, &t.Description, &t.Location,
			&date, &t.FraudScore, &t.RiskLevel, &reasons); err != nil {
			return nil, fmt.Errorf("ListExpenseTransactions: scan: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ListExpenseTransactions: amount of %s: %w", t.ID, err)
		}
		if t.TransactionDate, err = parseTransactionDate(date); err != nil {
			return nil, fmt.Errorf("ListExpenseTransactions: date of %s: %w", t.ID, err)
		}
		if reasons != "" {
			if err := json.Unmarshal([]byte(reasons), &t.Reasons); err != nil {
				return nil, fmt.Errorf("ListExpenseTransactions: reasons of %s: %w", t.ID, err)
			}
		}
		t.Type = domain.TransactionType(typ)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListExpenseTransactions: iterating: %w", err)
	}
	return out, nil
}

// parseTransactionDate accepts the stored layout and bare dates. The result
// carries UTC as a placeholder zone; only its fields are meaningful.
func parseTransactionDate(s string) (time.Time, error) {
	for _, layout := range []string{transactionDateLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised transaction date %q", s)
}

// Ensure TransactionStore implements TransactionSource.
var _ detection.TransactionSource = (*TransactionStore)(nil)
