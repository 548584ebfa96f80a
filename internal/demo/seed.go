package demo

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/logger"
)

// TransactionWriter is the write side of a transaction store.
type TransactionWriter interface {
	Append(ctx context.Context, txs ...domain.Transaction) error
	CountByUser(ctx context.Context, userID string) (int, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// Seed inserts a generated history for userID when the user has no
// transactions yet. With force the existing history is replaced. It returns
// the number of transactions written.
func Seed(ctx context.Context, store TransactionWriter, userID string, reference time.Time, force bool) (int, error) {
	if userID == "" {
		return 0, &domain.ValidationError{Op: "seed", Field: "userId", Message: "user id is required"}
	}
	log := logger.ForUser(ctx, userID, "seed")

	count, err := store.CountByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("Seed: counting transactions: %w", err)
	}

	if count > 0 {
		if !force {
			log.Info().Int("existing", count).Msg("User already has transactions, skipping demo data")
			return 0, nil
		}
		if err := store.DeleteByUser(ctx, userID); err != nil {
			return 0, fmt.Errorf("Seed: deleting transactions: %w", err)
		}
		log.Info().Int("deleted", count).Msg("Deleted existing transactions")
	}

	txs := Generate(userID, reference)
	if err := store.Append(ctx, txs...); err != nil {
		return 0, fmt.Errorf("Seed: inserting transactions: %w", err)
	}
	log.Info().Int("created", len(txs)).Msg("Generated demo transactions")
	return len(txs), nil
}
