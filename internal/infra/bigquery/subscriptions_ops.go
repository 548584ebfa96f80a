package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/subscriptions"
	"google.golang.org/api/iterator"
)

const (
	subscriptionsTable = "subscriptions"
	auditTable         = "subscription_audit_log"
)

// ListSubscriptionsWithClient returns every subscription of the user ordered
// by merchant key.
func ListSubscriptionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) ([]domain.Subscription, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT subscription_id, user_id, merchant, merchant_key, avg_amount,
		       last_paid_date, next_due_date, status, created_ts, updated_ts
		FROM %s
		WHERE user_id = @user_id
		ORDER BY merchant_key, subscription_id
	`, ds.Table(subscriptionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListSubscriptions: query read: %w", err)
	}

	out := []domain.Subscription{}
	for {
		var r SubscriptionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListSubscriptions: iter next: %w", err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ReconcileWithClient merges candidates into the user's subscriptions. The
// MERGE and the audit insert run as one multi-statement transaction. The
// MERGE never writes status on matched rows, so an IGNORE committed by
// another writer in between is preserved.
func ReconcileWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string, candidates []domain.CandidateSeries, now time.Time) ([]domain.Subscription, error) {
	current, err := ListSubscriptionsWithClient(ctx, client, ds, userID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: loading current: %w", err)
	}
	byKey := make(map[string]domain.Subscription, len(current))
	for _, s := range current {
		byKey[s.MerchantKey()] = s
	}

	var (
		rows  []SubscriptionRow
		audit []AuditRow
	)
	for _, c := range candidates {
		var existing *domain.Subscription
		if s, ok := byKey[c.MerchantKey()]; ok {
			existing = &s
		}
		merged, change := subscriptions.Merge(existing, c, now)
		if change == subscriptions.Unchanged {
			continue
		}
		rows = append(rows, subscriptionToRow(merged))
		if entry := subscriptions.AuditFor(merged, change, now); entry != nil {
			audit = append(audit, auditToRow(*entry))
		}
		byKey[c.MerchantKey()] = merged
	}

	if len(rows) == 0 {
		return current, nil
	}

	q := client.Query(fmt.Sprintf(`
		BEGIN TRANSACTION;

		MERGE %[1]s T
		USING UNNEST(@rows) S
		ON T.user_id = S.user_id AND T.merchant_key = S.merchant_key
		WHEN MATCHED THEN UPDATE SET
			avg_amount = S.avg_amount,
			last_paid_date = S.last_paid_date,
			next_due_date = S.next_due_date,
			updated_ts = S.updated_ts
		WHEN NOT MATCHED THEN INSERT
			(subscription_id, user_id, merchant, merchant_key, avg_amount, last_paid_date, next_due_date, status, created_ts, updated_ts)
			VALUES (S.subscription_id, S.user_id, S.merchant, S.merchant_key, S.avg_amount, S.last_paid_date, S.next_due_date, S.status, S.created_ts, S.updated_ts);

		INSERT INTO %[2]s (audit_id, user_id, action, entity_type, entity_id, details, event_ts)
		SELECT audit_id, user_id, action, entity_type, entity_id, details, event_ts FROM UNNEST(@audit);

		COMMIT TRANSACTION;
	`, ds.Table(subscriptionsTable), ds.Table(auditTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "rows", Value: rows},
		{Name: "audit", Value: audit},
	}

	if err := runAndWait(ctx, q); err != nil {
		return nil, fmt.Errorf("Reconcile: %w", err)
	}

	out, err := ListSubscriptionsWithClient(ctx, client, ds, userID)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: reloading: %w", err)
	}
	return out, nil
}

// IgnoreWithClient marks a subscription IGNORED after checking ownership.
func IgnoreWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, subscriptionID, userID string, now time.Time) (*domain.Subscription, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT subscription_id, user_id, merchant, merchant_key, avg_amount,
		       last_paid_date, next_due_date, status, created_ts, updated_ts
		FROM %s
		WHERE subscription_id = @subscription_id AND user_id = @user_id
		LIMIT 1
	`, ds.Table(subscriptionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "subscription_id", Value: subscriptionID},
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("Ignore: query read: %w", err)
	}
	var row SubscriptionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, &domain.NotFoundError{Op: "Ignore", UserID: userID, SubscriptionID: subscriptionID}
	}
	if err != nil {
		return nil, fmt.Errorf("Ignore: iter next: %w", err)
	}

	ignored, changed := subscriptions.ApplyIgnore(row.toDomain(), now)
	if !changed {
		return &ignored, nil
	}

	entry := auditToRow(*subscriptions.IgnoreAudit(ignored, now))
	upd := client.Query(fmt.Sprintf(`
		BEGIN TRANSACTION;

		UPDATE %[1]s
		SET status = @status, updated_ts = @updated_ts
		WHERE subscription_id = @subscription_id AND user_id = @user_id;

		INSERT INTO %[2]s (audit_id, user_id, action, entity_type, entity_id, details, event_ts)
		VALUES (@audit_id, @user_id, @action, @entity_type, @subscription_id, @details, @updated_ts);

		COMMIT TRANSACTION;
	`, ds.Table(subscriptionsTable), ds.Table(auditTable)))
	upd.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(domain.StatusIgnored)},
		{Name: "updated_ts", Value: ignored.UpdatedAt.UTC()},
		{Name: "subscription_id", Value: subscriptionID},
		{Name: "user_id", Value: userID},
		{Name: "audit_id", Value: entry.AuditID},
		{Name: "action", Value: entry.Action},
		{Name: "entity_type", Value: entry.EntityType},
		{Name: "details", Value: entry.Details},
	}

	if err := runAndWait(ctx, upd); err != nil {
		return nil, fmt.Errorf("Ignore: %w", err)
	}
	return &ignored, nil
}

// ListAuditLogWithClient returns the user's newest audit entries first.
func ListAuditLogWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := client.Query(fmt.Sprintf(`
		SELECT audit_id, user_id, action, entity_type, entity_id, details, event_ts
		FROM %s
		WHERE user_id = @user_id
		ORDER BY event_ts DESC
		LIMIT @limit
	`, ds.Table(auditTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAuditLog: query read: %w", err)
	}

	out := []domain.AuditEntry{}
	for {
		var r AuditRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAuditLog: iter next: %w", err)
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}

func runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
