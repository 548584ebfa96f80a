// Package detection groups a user's expense history into candidate
// recurring series.
package detection

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// MinDistinctMonths is the number of distinct calendar months a category
// needs to qualify as recurring.
const MinDistinctMonths = 2

// avgAmountPlaces is the rounding precision of AvgAmount.
const avgAmountPlaces = 2

// TransactionSource is the read side of the transaction store.
type TransactionSource interface {
	// ListExpenseTransactions returns all EXPENSE transactions of the user,
	// ordered by transaction date.
	ListExpenseTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)
}

// Matcher loads a user's expenses and runs Match over them.
type Matcher struct {
	source TransactionSource
}

// NewMatcher creates a Matcher reading from source.
func NewMatcher(source TransactionSource) *Matcher {
	return &Matcher{source: source}
}

// Detect returns the candidate series for userID.
func (m *Matcher) Detect(ctx context.Context, userID string) ([]domain.CandidateSeries, error) {
	txs, err := m.source.ListExpenseTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Detect: listing expense transactions: %w", err)
	}
	return Match(userID, txs), nil
}

type group struct {
	merchant string
	txs      []domain.Transaction
	months   map[domain.YearMonth]struct{}
}

// Match groups txs by case-insensitive category and returns one candidate per
// category that has charges in at least MinDistinctMonths calendar months.
// The result is sorted by merchant key and does not depend on input order.
func Match(userID string, txs []domain.Transaction) []domain.CandidateSeries {
	ordered := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !tx.IsExpense() || tx.UserID != userID || !tx.Amount.IsPositive() {
			continue
		}
		if domain.MerchantKey(tx.Category) == "" {
			continue
		}
		ordered = append(ordered, tx)
	}
	sortChronologically(ordered)

	groups := make(map[string]*group)
	for _, tx := range ordered {
		key := domain.MerchantKey(tx.Category)
		g, ok := groups[key]
		if !ok {
			// First-seen capitalisation becomes the display name.
			g = &group{merchant: tx.Category, months: make(map[domain.YearMonth]struct{})}
			groups[key] = g
		}
		g.txs = append(g.txs, tx)
		g.months[domain.YearMonthOf(tx.Date())] = struct{}{}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.CandidateSeries
	for _, k := range keys {
		g := groups[k]
		if len(g.months) < MinDistinctMonths {
			continue
		}
		out = append(out, buildCandidate(userID, g))
	}
	return out
}

func buildCandidate(userID string, g *group) domain.CandidateSeries {
	sum := decimal.Zero
	last := g.txs[0].Date()
	for _, tx := range g.txs {
		sum = sum.Add(tx.Amount)
		if d := tx.Date(); d.After(last) {
			last = d
		}
	}
	avg := sum.DivRound(decimal.NewFromInt(int64(len(g.txs))), avgAmountPlaces)

	months := make([]domain.YearMonth, 0, len(g.months))
	for ym := range g.months {
		months = append(months, ym)
	}
	sort.Slice(months, func(i, j int) bool {
		if months[i].Year != months[j].Year {
			return months[i].Year < months[j].Year
		}
		return months[i].Month < months[j].Month
	})

	return domain.CandidateSeries{
		UserID:       userID,
		Merchant:     g.merchant,
		Transactions: g.txs,
		Months:       months,
		AvgAmount:    avg,
		LastPaidDate: last,
		NextDueDate:  domain.AddMonthClamped(last),
	}
}

// sortChronologically orders by calendar day, then time of day, then id.
func sortChronologically(txs []domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		di, dj := txs[i].Date(), txs[j].Date()
		if c := di.Compare(dj); c != 0 {
			return c < 0
		}
		ci, cj := clock(txs[i]), clock(txs[j])
		if ci != cj {
			return ci < cj
		}
		return txs[i].ID < txs[j].ID
	})
}

func clock(tx domain.Transaction) int {
	h, m, s := tx.TransactionDate.Clock()
	return (h*60+m)*60 + s
}
