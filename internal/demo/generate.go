// Package demo generates deterministic sample transaction histories.
package demo

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Months is the length of a generated history.
const Months = 12

// perMonth is the number of random transactions in each generated month,
// oldest first.
var perMonth = [Months]int{12, 14, 15, 16, 18, 20, 22, 24, 25, 26, 28, 30}

// recurring charges land on the same day every month.
type recurring struct {
	category string
	day      int
	minCents int64
	maxCents int64
}

var recurringCharges = []recurring{
	{"Netflix", 15, 1549, 1549},
	{"Spotify", 3, 999, 999},
	{"Gym Membership", 1, 3500, 3500},
	{"Electricity", 20, 4200, 7800},
}

type weighted struct {
	category string
	upTo     int // cumulative weight out of 100
	min, max int64
	income   bool
}

var randomCategories = []weighted{
	{"groceries", 45, 20, 150, false},
	{"entertainment", 65, 10, 100, false},
	{"transport", 85, 10, 80, false},
	{"utilities", 93, 50, 300, false},
	{"salary", 100, 2000, 5000, true},
}

// Generate returns Months of transactions for userID ending at reference.
// Nothing is dated after reference. The output depends only on the arguments.
func Generate(userID string, reference time.Time) []domain.Transaction {
	rng := rand.New(rand.NewSource(seedFor(userID)))
	loc := reference.Location()
	last := time.Date(reference.Year(), reference.Month(), 1, 0, 0, 0, 0, loc)

	var txs []domain.Transaction
	for i := 0; i < Months; i++ {
		monthStart := last.AddDate(0, i-(Months-1), 0)
		days := daysIn(monthStart)

		for _, rc := range recurringCharges {
			day := rc.day
			if day > days {
				day = days
			}
			cents := rc.minCents
			if rc.maxCents > rc.minCents {
				cents += rng.Int63n(rc.maxCents - rc.minCents + 1)
			}
			at := monthStart.AddDate(0, 0, day-1).Add(time.Duration(9+rng.Intn(12)) * time.Hour)
			tx := newTx(userID, rc.category, decimal.New(cents, -2), domain.TransactionTypeExpense, at, rng)
			if !at.After(reference) {
				txs = append(txs, tx)
			}
		}

		for n := 0; n < perMonth[i]; n++ {
			w := pick(rng.Intn(100))
			amount := decimal.NewFromInt(w.min + rng.Int63n(w.max-w.min+1))
			typ := domain.TransactionTypeExpense
			if w.income {
				typ = domain.TransactionTypeIncome
			}
			at := monthStart.AddDate(0, 0, rng.Intn(days)).
				Add(time.Duration(8+rng.Intn(14))*time.Hour + time.Duration(rng.Intn(60))*time.Minute)
			tx := newTx(userID, w.category, amount, typ, at, rng)
			if !at.After(reference) {
				txs = append(txs, tx)
			}
		}
	}
	return txs
}

func newTx(userID, category string, amount decimal.Decimal, typ domain.TransactionType, at time.Time, rng *rand.Rand) domain.Transaction {
	id, _ := uuid.NewRandomFromReader(rng)
	return domain.Transaction{
		ID:              id.String(),
		UserID:          userID,
		Amount:          amount,
		Type:            typ,
		Category:        category,
		Description:     "Demo " + category,
		Location:        fmt.Sprintf("Demo Location %d", rng.Intn(3)+1),
		TransactionDate: at,
	}
}

func pick(roll int) weighted {
	for _, w := range randomCategories {
		if roll < w.upTo {
			return w
		}
	}
	return randomCategories[len(randomCategories)-1]
}

func seedFor(userID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	return int64(h.Sum64())
}

func daysIn(monthStart time.Time) int {
	return monthStart.AddDate(0, 1, -1).Day()
}
