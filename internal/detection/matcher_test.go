package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

func expense(id, category, amount string, y int, m time.Month, d int) domain.Transaction {
	return domain.Transaction{
		ID:              id,
		UserID:          "u1",
		Amount:          decimal.RequireFromString(amount),
		Type:            domain.TransactionTypeExpense,
		Category:        category,
		TransactionDate: time.Date(y, m, d, 12, 0, 0, 0, time.UTC),
	}
}

func TestMatch_MonthlySeries(t *testing.T) {
	txs := []domain.Transaction{
		expense("t1", "Netflix", "15.00", 2024, time.January, 15),
		expense("t2", "Netflix", "15.49", 2024, time.February, 15),
	}

	got := Match("u1", txs)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}

	c := got[0]
	if c.Merchant != "Netflix" {
		t.Errorf("Merchant = %q, want Netflix", c.Merchant)
	}
	if !c.AvgAmount.Equal(decimal.RequireFromString("15.25")) {
		t.Errorf("AvgAmount = %s, want 15.25", c.AvgAmount)
	}
	if c.LastPaidDate.String() != "2024-02-15" {
		t.Errorf("LastPaidDate = %s, want 2024-02-15", c.LastPaidDate)
	}
	if c.NextDueDate.String() != "2024-03-15" {
		t.Errorf("NextDueDate = %s, want 2024-03-15", c.NextDueDate)
	}
	if len(c.Months) != 2 {
		t.Errorf("Months = %v, want 2 entries", c.Months)
	}
}

func TestMatch_MinimumOccurrence(t *testing.T) {
	tests := []struct {
		name string
		txs  []domain.Transaction
		want int
	}{
		{
			name: "single charge",
			txs:  []domain.Transaction{expense("t1", "Gym", "30", 2024, time.January, 3)},
			want: 0,
		},
		{
			name: "two charges same month",
			txs: []domain.Transaction{
				expense("t1", "Gym", "30", 2024, time.January, 3),
				expense("t2", "Gym", "30", 2024, time.January, 28),
			},
			want: 0,
		},
		{
			name: "two months",
			txs: []domain.Transaction{
				expense("t1", "Gym", "30", 2024, time.January, 3),
				expense("t2", "Gym", "45", 2024, time.February, 3),
			},
			want: 1,
		},
		{
			name: "far apart months still qualify",
			txs: []domain.Transaction{
				expense("t1", "Gym", "30", 2022, time.May, 3),
				expense("t2", "Gym", "99", 2024, time.February, 3),
			},
			want: 1,
		},
		{
			name: "same month different years",
			txs: []domain.Transaction{
				expense("t1", "Gym", "30", 2023, time.March, 3),
				expense("t2", "Gym", "30", 2024, time.March, 3),
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match("u1", tt.txs); len(got) != tt.want {
				t.Errorf("Match() returned %d candidates, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMatch_CaseInsensitiveFirstSeenName(t *testing.T) {
	txs := []domain.Transaction{
		expense("t3", "SPOTIFY", "9.99", 2024, time.March, 1),
		expense("t1", "spotify", "9.99", 2024, time.January, 1),
		expense("t2", "Spotify", "9.99", 2024, time.February, 1),
	}

	got := Match("u1", txs)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Merchant != "spotify" {
		t.Errorf("Merchant = %q, want chronologically first spelling %q", got[0].Merchant, "spotify")
	}
	if got[0].LastPaidDate.String() != "2024-03-01" {
		t.Errorf("LastPaidDate = %s", got[0].LastPaidDate)
	}
}

func TestMatch_SkipsNonExpenses(t *testing.T) {
	salary := expense("t1", "Salary", "3000", 2024, time.January, 25)
	salary.Type = domain.TransactionTypeIncome
	salary2 := expense("t2", "Salary", "3000", 2024, time.February, 25)
	salary2.Type = domain.TransactionTypeIncome
	foreign := expense("t3", "Rent", "900", 2024, time.January, 1)
	foreign.UserID = "u2"
	foreign2 := expense("t4", "Rent", "900", 2024, time.February, 1)
	foreign2.UserID = "u2"
	blank := expense("t5", "  ", "5", 2024, time.January, 1)
	blank2 := expense("t6", "", "5", 2024, time.February, 1)

	got := Match("u1", []domain.Transaction{salary, salary2, foreign, foreign2, blank, blank2})
	if len(got) != 0 {
		t.Errorf("expected no candidates, got %+v", got)
	}
}

func TestMatch_ClampsShortMonth(t *testing.T) {
	txs := []domain.Transaction{
		expense("t1", "Cloud", "2", 2023, time.December, 31),
		expense("t2", "Cloud", "2", 2024, time.January, 31),
	}

	got := Match("u1", txs)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].NextDueDate.String() != "2024-02-29" {
		t.Errorf("NextDueDate = %s, want 2024-02-29", got[0].NextDueDate)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	base := []domain.Transaction{
		expense("t1", "Netflix", "15.00", 2024, time.January, 15),
		expense("t2", "netflix", "15.49", 2024, time.February, 15),
		expense("t3", "Water", "40.10", 2024, time.January, 2),
		expense("t4", "Water", "38.00", 2024, time.March, 2),
		expense("t5", "Coffee", "3.50", 2024, time.March, 9),
	}
	reversed := make([]domain.Transaction, len(base))
	for i := range base {
		reversed[len(base)-1-i] = base[i]
	}

	a := Match("u1", base)
	b := Match("u1", reversed)
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected 2 candidates each, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Merchant != b[i].Merchant ||
			!a[i].AvgAmount.Equal(b[i].AvgAmount) ||
			a[i].LastPaidDate != b[i].LastPaidDate ||
			a[i].NextDueDate != b[i].NextDueDate {
			t.Errorf("candidate %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if a[0].Merchant != "Netflix" || a[1].Merchant != "Water" {
		t.Errorf("unexpected order: %s, %s", a[0].Merchant, a[1].Merchant)
	}
}

func TestMatch_RoundsHalfAwayFromZero(t *testing.T) {
	txs := []domain.Transaction{
		expense("t1", "News", "1.00", 2024, time.January, 1),
		expense("t2", "News", "1.00", 2024, time.February, 1),
		expense("t3", "News", "1.01", 2024, time.March, 1),
	}

	got := Match("u1", txs)
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	// 3.01 / 3 = 1.00333...
	if got[0].AvgAmount.StringFixed(2) != "1.00" {
		t.Errorf("AvgAmount = %s, want 1.00", got[0].AvgAmount.StringFixed(2))
	}
}

type mockSource struct {
	txs []domain.Transaction
	err error
}

func (m *mockSource) ListExpenseTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return m.txs, m.err
}

func TestMatcher_Detect(t *testing.T) {
	src := &mockSource{txs: []domain.Transaction{
		expense("t1", "Netflix", "15.00", 2024, time.January, 15),
		expense("t2", "Netflix", "15.49", 2024, time.February, 15),
	}}

	got, err := NewMatcher(src).Detect(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(got))
	}

	boom := errors.New("boom")
	_, err = NewMatcher(&mockSource{err: boom}).Detect(context.Background(), "u1")
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}
