package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/subscriptions"
	"github.com/shopspring/decimal"
)

// SubscriptionRepository implements subscriptions.Repository on SQLite.
type SubscriptionRepository struct {
	db  *sql.DB
	now func() time.Time
}

const subscriptionColumns = `id, user_id, merchant, avg_amount, last_paid_date, next_due_date, status, created_at, updated_at`

// Reconcile implements subscriptions.Repository. All inserts, updates and
// audit rows of one call share a single SQL transaction.
func (r *SubscriptionRepository) Reconcile(ctx context.Context, userID string, candidates []domain.CandidateSeries) ([]domain.Subscription, error) {
	var result []domain.Subscription

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := listSubscriptionsWith(ctx, tx, userID)
		if err != nil {
			return err
		}
		byKey := make(map[string]domain.Subscription, len(current))
		for _, s := range current {
			byKey[s.MerchantKey()] = s
		}

		now := r.now()
		for _, c := range candidates {
			var existing *domain.Subscription
			if s, ok := byKey[c.MerchantKey()]; ok {
				existing = &s
			}

			merged, change := subscriptions.Merge(existing, c, now)
			switch change {
			case subscriptions.Created:
				err = insertSubscriptionWith(ctx, tx, merged)
			case subscriptions.Updated:
				err = updateSubscriptionWith(ctx, tx, merged)
			}
			if err != nil {
				return err
			}
			if entry := subscriptions.AuditFor(merged, change, now); entry != nil {
				if err := insertAuditWith(ctx, tx, *entry); err != nil {
					return err
				}
			}
			byKey[c.MerchantKey()] = merged
		}

		result, err = listSubscriptionsWith(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}
	return result, nil
}

// ListByUser implements subscriptions.Repository.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	subs, err := listSubscriptionsWith(ctx, r.db, userID)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	return subs, nil
}

// Ignore implements subscriptions.Repository.
func (r *SubscriptionRepository) Ignore(ctx context.Context, subscriptionID, userID string) (*domain.Subscription, error) {
	var result domain.Subscription

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? AND user_id = ?`,
			subscriptionID, userID)
		s, err := scanSubscription(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Op: "Ignore", UserID: userID, SubscriptionID: subscriptionID}
		}
		if err != nil {
			return err
		}

		ignored, changed := subscriptions.ApplyIgnore(s, r.now())
		if changed {
			if err := updateSubscriptionWith(ctx, tx, ignored); err != nil {
				return err
			}
			if err := insertAuditWith(ctx, tx, *subscriptions.IgnoreAudit(ignored, ignored.UpdatedAt)); err != nil {
				return err
			}
		}
		result = ignored
		return nil
	})
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, nf
		}
		return nil, fmt.Errorf("Ignore: %w", err)
	}
	return &result, nil
}

// ListAuditLog implements subscriptions.Repository.
func (r *SubscriptionRepository) ListAuditLog(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	entries, err := listAuditWith(ctx, r.db, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListAuditLog: %w", err)
	}
	return entries, nil
}

func listSubscriptionsWith(ctx context.Context, q queryer, userID string) ([]domain.Subscription, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ? ORDER BY merchant_key, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listSubscriptions: query: %w", err)
	}
	defer rows.Close()

	out := []domain.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listSubscriptions: iterating: %w", err)
	}
	return out, nil
}

func insertSubscriptionWith(ctx context.Context, q queryer, s domain.Subscription) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO subscriptions
			(id, user_id, merchant, merchant_key, avg_amount, last_paid_date, next_due_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Merchant, s.MerchantKey(), s.AvgAmount.StringFixed(2),
		s.LastPaidDate.String(), s.NextDueDate.String(), string(s.Status),
		s.CreatedAt.UTC().Format(timestampLayout), s.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("insertSubscription: %s: %w", s.Merchant, err)
	}
	return nil
}

func updateSubscriptionWith(ctx context.Context, q queryer, s domain.Subscription) error {
	_, err := q.ExecContext(ctx, `
		UPDATE subscriptions
		SET avg_amount = ?, last_paid_date = ?, next_due_date = ?, status = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		s.AvgAmount.StringFixed(2), s.LastPaidDate.String(), s.NextDueDate.String(), string(s.Status),
		s.UpdatedAt.UTC().Format(timestampLayout), s.ID, s.UserID,
	)
	if err != nil {
		return fmt.Errorf("updateSubscription: %s: %w", s.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var (
		s                          domain.Subscription
		amount, last, next, status string
		createdAt, updatedAt       string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Merchant, &amount, &last, &next, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scanSubscription: %w", err)
	}

	var err error
	if s.AvgAmount, err = decimal.NewFromString(amount); err != nil {
		return s, fmt.Errorf("scanSubscription: avg_amount of %s: %w", s.ID, err)
	}
	if s.LastPaidDate, err = civil.ParseDate(last); err != nil {
		return s, fmt.Errorf("scanSubscription: last_paid_date of %s: %w", s.ID, err)
	}
	if s.NextDueDate, err = civil.ParseDate(next); err != nil {
		return s, fmt.Errorf("scanSubscription: next_due_date of %s: %w", s.ID, err)
	}
	if s.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return s, fmt.Errorf("scanSubscription: created_at of %s: %w", s.ID, err)
	}
	if s.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return s, fmt.Errorf("scanSubscription: updated_at of %s: %w", s.ID, err)
	}
	s.Status = domain.SubscriptionStatus(status)
	return s, nil
}

// Ensure SubscriptionRepository implements Repository.
var _ subscriptions.Repository = (*SubscriptionRepository)(nil)
