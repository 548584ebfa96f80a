package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/subscriptions"
)

// Dataset locates the tables of one deployment.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the back-quoted, fully qualified table name.
func (d Dataset) Table(name string) string {
	return "`" + d.ProjectID + "." + d.DatasetID + "." + name + "`"
}

// BigQueryTransactionStore reads expense transactions from the warehouse.
type BigQueryTransactionStore struct {
	client *bigquery.Client
	ds     Dataset
}

// NewBigQueryTransactionStore creates a store with its own client.
func NewBigQueryTransactionStore(ctx context.Context, ds Dataset) (*BigQueryTransactionStore, error) {
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryTransactionStore: creating client: %w", err)
	}
	return &BigQueryTransactionStore{client: client, ds: ds}, nil
}

// Close closes the BigQuery client connection.
func (s *BigQueryTransactionStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ListExpenseTransactions delegates to ListExpenseTransactionsWithClient.
func (s *BigQueryTransactionStore) ListExpenseTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return ListExpenseTransactionsWithClient(ctx, s.client, s.ds, userID)
}

// BigQuerySubscriptionRepository implements subscriptions.Repository. It holds
// a shared client so every operation reuses one connection.
type BigQuerySubscriptionRepository struct {
	client *bigquery.Client
	ds     Dataset
	now    func() time.Time
}

// NewBigQuerySubscriptionRepository creates a repository with its own client.
func NewBigQuerySubscriptionRepository(ctx context.Context, ds Dataset) (*BigQuerySubscriptionRepository, error) {
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQuerySubscriptionRepository: creating client: %w", err)
	}
	return &BigQuerySubscriptionRepository{client: client, ds: ds, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQuerySubscriptionRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Reconcile delegates to ReconcileWithClient.
func (r *BigQuerySubscriptionRepository) Reconcile(ctx context.Context, userID string, candidates []domain.CandidateSeries) ([]domain.Subscription, error) {
	return ReconcileWithClient(ctx, r.client, r.ds, userID, candidates, r.now())
}

// ListByUser delegates to ListSubscriptionsWithClient.
func (r *BigQuerySubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return ListSubscriptionsWithClient(ctx, r.client, r.ds, userID)
}

// Ignore delegates to IgnoreWithClient.
func (r *BigQuerySubscriptionRepository) Ignore(ctx context.Context, subscriptionID, userID string) (*domain.Subscription, error) {
	return IgnoreWithClient(ctx, r.client, r.ds, subscriptionID, userID, r.now())
}

// ListAuditLog delegates to ListAuditLogWithClient.
func (r *BigQuerySubscriptionRepository) ListAuditLog(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	return ListAuditLogWithClient(ctx, r.client, r.ds, userID, limit)
}

var (
	_ detection.TransactionSource = (*BigQueryTransactionStore)(nil)
	_ subscriptions.Repository    = (*BigQuerySubscriptionRepository)(nil)
)
