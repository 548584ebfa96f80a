package demo

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/infra/inmemory"
	"github.com/shopspring/decimal"
)

var reference = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate("u1", reference)
	b := Generate("u1", reference)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("Generate() is not deterministic for the same user")
	}
	if reflect.DeepEqual(a, Generate("u2", reference)) {
		t.Error("different users got identical histories")
	}
}

func TestGenerate_Shape(t *testing.T) {
	txs := Generate("u1", reference)
	oldest := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)

	months := map[domain.YearMonth]bool{}
	for _, tx := range txs {
		if tx.UserID != "u1" || tx.ID == "" {
			t.Fatalf("bad transaction %+v", tx)
		}
		if tx.TransactionDate.After(reference) || tx.TransactionDate.Before(oldest) {
			t.Errorf("transaction %s dated %v outside history window", tx.ID, tx.TransactionDate)
		}
		if !tx.Amount.IsPositive() {
			t.Errorf("transaction %s has non-positive amount %s", tx.ID, tx.Amount)
		}
		months[domain.YearMonthOf(tx.Date())] = true
	}
	if len(months) != Months {
		t.Errorf("history spans %d months, want %d", len(months), Months)
	}
}

func TestGenerate_FeedsDetection(t *testing.T) {
	candidates := detection.Match("u1", Generate("u1", reference))

	byName := map[string]domain.CandidateSeries{}
	for _, c := range candidates {
		byName[c.Merchant] = c
	}

	netflix, ok := byName["Netflix"]
	if !ok {
		t.Fatalf("Netflix not detected among %d candidates", len(candidates))
	}
	if !netflix.AvgAmount.Equal(decimal.RequireFromString("15.49")) {
		t.Errorf("Netflix avg = %s, want 15.49", netflix.AvgAmount)
	}
	if want := (civil.Date{Year: 2024, Month: 2, Day: 15}); netflix.LastPaidDate != want {
		t.Errorf("Netflix last paid = %v, want %v", netflix.LastPaidDate, want)
	}
	if want := (civil.Date{Year: 2024, Month: 3, Day: 15}); netflix.NextDueDate != want {
		t.Errorf("Netflix next due = %v, want %v", netflix.NextDueDate, want)
	}
	if _, ok := byName["salary"]; ok {
		t.Error("income must not be detected as a subscription")
	}
}

type failingCounter struct{ *inmemory.TransactionStore }

func (failingCounter) CountByUser(ctx context.Context, userID string) (int, error) {
	return 0, errors.New("disk gone")
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewTransactionStore()

	n, err := Seed(ctx, store, "u1", reference, false)
	if err != nil || n == 0 {
		t.Fatalf("Seed() = %d, %v", n, err)
	}

	again, err := Seed(ctx, store, "u1", reference, false)
	if err != nil || again != 0 {
		t.Errorf("second Seed() = %d, %v, want 0 (already seeded)", again, err)
	}

	forced, err := Seed(ctx, store, "u1", reference, true)
	if err != nil || forced != n {
		t.Errorf("forced Seed() = %d, %v, want %d", forced, err, n)
	}
	if count, _ := store.CountByUser(ctx, "u1"); count != n {
		t.Errorf("after reseed count = %d, want %d", count, n)
	}

	if _, err := Seed(ctx, store, "", reference, false); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Seed() without user error = %v, want validation", err)
	}
	if _, err := Seed(ctx, failingCounter{store}, "u2", reference, false); err == nil {
		t.Error("Seed() with failing store succeeded")
	}
}
