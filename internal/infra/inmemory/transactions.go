// Package inmemory provides map-backed stores for tests and local runs.
// Data is lost on restart.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/google/uuid"
)

// TransactionStore is an append-only in-memory transaction log.
type TransactionStore struct {
	mu  sync.RWMutex
	txs map[string][]domain.Transaction // by user
}

// NewTransactionStore creates an empty store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{txs: make(map[string][]domain.Transaction)}
}

// Append stores transactions, assigning ids where missing.
func (s *TransactionStore) Append(ctx context.Context, txs ...domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if tx.UserID == "" {
			return fmt.Errorf("Append: transaction %q has no user", tx.ID)
		}
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		s.txs[tx.UserID] = append(s.txs[tx.UserID], tx)
	}
	return nil
}

// CountByUser returns the number of stored transactions for the user.
func (s *TransactionStore) CountByUser(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs[userID]), nil
}

// DeleteByUser drops the user's transactions. Used by demo reseeding only.
func (s *TransactionStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, userID)
	return nil
}

// ListExpenseTransactions implements detection.TransactionSource.
func (s *TransactionStore) ListExpenseTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range s.txs[userID] {
		if tx.IsExpense() {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactionDate.Before(out[j].TransactionDate)
	})
	return out, nil
}

// Ensure TransactionStore implements TransactionSource.
var _ detection.TransactionSource = (*TransactionStore)(nil)
