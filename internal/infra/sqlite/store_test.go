package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tx(id, user, category, amount string, typ domain.TransactionType, date time.Time) domain.Transaction {
	return domain.Transaction{
		ID:              id,
		UserID:          user,
		Amount:          decimal.RequireFromString(amount),
		Type:            typ,
		Category:        category,
		TransactionDate: date,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestTransactionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t).Transactions()

	late := time.Date(2024, 2, 15, 23, 45, 0, 0, time.FixedZone("PST", -8*3600))
	err := store.Append(ctx,
		tx("t2", "u1", "Netflix", "15.49", domain.TransactionTypeExpense, late),
		tx("t1", "u1", "Netflix", "15.00", domain.TransactionTypeExpense, day(2024, 1, 15)),
		tx("t3", "u1", "Salary", "3000", domain.TransactionTypeIncome, day(2024, 1, 25)),
		tx("t4", "u2", "Netflix", "15.00", domain.TransactionTypeExpense, day(2024, 1, 15)),
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.ListExpenseTransactions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListExpenseTransactions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 expenses, got %d", len(got))
	}
	if got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Date().String() != "2024-02-15" {
		t.Errorf("late-evening charge moved to %s", got[1].Date())
	}
	if !got[1].Amount.Equal(decimal.RequireFromString("15.49")) {
		t.Errorf("Amount = %s", got[1].Amount)
	}

	n, err := store.CountByUser(ctx, "u1")
	if err != nil || n != 3 {
		t.Errorf("CountByUser() = %d, %v; want 3", n, err)
	}
}

func detect(t *testing.T, s *Store, user string) []domain.Subscription {
	t.Helper()
	ctx := context.Background()
	candidates, err := detection.NewMatcher(s.Transactions()).Detect(ctx, user)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	subs, err := s.Subscriptions().Reconcile(ctx, user, candidates)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return subs
}

func TestReconcile_StickyIgnore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	txs := s.Transactions()
	repo := s.Subscriptions()

	if err := txs.Append(ctx,
		tx("t1", "u1", "Netflix", "15.00", domain.TransactionTypeExpense, day(2024, 1, 15)),
		tx("t2", "u1", "Netflix", "15.49", domain.TransactionTypeExpense, day(2024, 2, 15)),
	); err != nil {
		t.Fatal(err)
	}

	subs := detect(t, s, "u1")
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	first := subs[0]
	if first.Merchant != "Netflix" || first.AvgAmount.StringFixed(2) != "15.25" ||
		first.LastPaidDate.String() != "2024-02-15" || first.NextDueDate.String() != "2024-03-15" ||
		first.Status != domain.StatusActive {
		t.Fatalf("unexpected subscription: %+v", first)
	}

	ignored, err := repo.Ignore(ctx, first.ID, "u1")
	if err != nil {
		t.Fatalf("Ignore() error = %v", err)
	}
	if ignored.Status != domain.StatusIgnored {
		t.Fatalf("Status = %s", ignored.Status)
	}

	if err := txs.Append(ctx, tx("t3", "u1", "netflix", "15.49", domain.TransactionTypeExpense, day(2024, 3, 15))); err != nil {
		t.Fatal(err)
	}

	subs = detect(t, s, "u1")
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	got := subs[0]
	if got.ID != first.ID {
		t.Errorf("subscription was recreated: %s != %s", got.ID, first.ID)
	}
	if got.Status != domain.StatusIgnored {
		t.Errorf("Status = %s, want IGNORED", got.Status)
	}
	if got.LastPaidDate.String() != "2024-03-15" || got.NextDueDate.String() != "2024-04-15" {
		t.Errorf("dates not refreshed: %s / %s", got.LastPaidDate, got.NextDueDate)
	}

	entries, err := repo.ListAuditLog(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("ListAuditLog() error = %v", err)
	}
	wantActions := []string{domain.AuditSubscriptionUpdated, domain.AuditSubscriptionIgnored, domain.AuditSubscriptionDetected}
	if len(entries) != len(wantActions) {
		t.Fatalf("expected %d audit entries, got %d", len(wantActions), len(entries))
	}
	for i, a := range wantActions {
		if entries[i].Action != a {
			t.Errorf("entry %d action = %s, want %s", i, entries[i].Action, a)
		}
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Transactions().Append(ctx,
		tx("t1", "u1", "Netflix", "15.00", domain.TransactionTypeExpense, day(2024, 1, 15)),
		tx("t2", "u1", "Netflix", "15.49", domain.TransactionTypeExpense, day(2024, 2, 15)),
		tx("t3", "u1", "Water", "30.10", domain.TransactionTypeExpense, day(2024, 1, 31)),
		tx("t4", "u1", "Water", "31.00", domain.TransactionTypeExpense, day(2024, 3, 31)),
	); err != nil {
		t.Fatal(err)
	}

	first := detect(t, s, "u1")
	second := detect(t, s, "u1")

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 subscriptions per run, got %d and %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.ID != b.ID || a.AvgAmount.String() != b.AvgAmount.String() ||
			a.LastPaidDate != b.LastPaidDate || a.NextDueDate != b.NextDueDate ||
			!a.UpdatedAt.Equal(b.UpdatedAt) {
			t.Errorf("run results differ:\n%+v\n%+v", a, b)
		}
	}

	entries, _ := s.Subscriptions().ListAuditLog(ctx, "u1", 0)
	if len(entries) != 2 {
		t.Errorf("rerun wrote audit entries: got %d, want 2", len(entries))
	}
}

func TestReconcile_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.Exec(`
		CREATE TRIGGER fail_boom BEFORE INSERT ON subscriptions
		WHEN NEW.merchant_key = 'boom'
		BEGIN SELECT RAISE(ABORT, 'boom rejected'); END;`)
	if err != nil {
		t.Fatal(err)
	}

	d := func(s string) civil.Date { v, _ := civil.ParseDate(s); return v }
	candidates := []domain.CandidateSeries{
		{UserID: "u1", Merchant: "Alpha", AvgAmount: decimal.NewFromInt(5), LastPaidDate: d("2024-02-01"), NextDueDate: d("2024-03-01")},
		{UserID: "u1", Merchant: "Boom", AvgAmount: decimal.NewFromInt(5), LastPaidDate: d("2024-02-01"), NextDueDate: d("2024-03-01")},
	}

	if _, err := s.Subscriptions().Reconcile(ctx, "u1", candidates); err == nil {
		t.Fatal("expected Reconcile to fail")
	}

	subs, err := s.Subscriptions().ListByUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("partial commit: %+v", subs)
	}
	entries, _ := s.Subscriptions().ListAuditLog(ctx, "u1", 0)
	if len(entries) != 0 {
		t.Errorf("partial audit commit: %d entries", len(entries))
	}
}

func TestIgnore_Ownership(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Transactions().Append(ctx,
		tx("t1", "owner", "Gym", "30", domain.TransactionTypeExpense, day(2024, 1, 3)),
		tx("t2", "owner", "Gym", "30", domain.TransactionTypeExpense, day(2024, 2, 3)),
	); err != nil {
		t.Fatal(err)
	}
	subs := detect(t, s, "owner")
	repo := s.Subscriptions()

	tests := []struct {
		name   string
		id     string
		userID string
	}{
		{"foreign user", subs[0].ID, "intruder"},
		{"unknown id", "does-not-exist", "owner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Ignore(ctx, tt.id, tt.userID)
			var nf *domain.NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("expected NotFoundError, got %v", err)
			}
		})
	}

	first, err := repo.Ignore(ctx, subs[0].ID, "owner")
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.Ignore(ctx, subs[0].ID, "owner")
	if err != nil {
		t.Fatalf("repeated Ignore() error = %v", err)
	}
	if second.Status != domain.StatusIgnored || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("repeated ignore changed the record: %+v", second)
	}

	entries, _ := repo.ListAuditLog(ctx, "owner", 1)
	if len(entries) != 1 || entries[0].Action != domain.AuditSubscriptionIgnored {
		t.Errorf("unexpected audit head: %+v", entries)
	}
}
