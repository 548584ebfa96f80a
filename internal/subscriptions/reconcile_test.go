package subscriptions

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

var now = time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)

func candidate(avg, last, next string) domain.CandidateSeries {
	l, _ := civil.ParseDate(last)
	n, _ := civil.ParseDate(next)
	return domain.CandidateSeries{
		UserID:       "u1",
		Merchant:     "Netflix",
		AvgAmount:    decimal.RequireFromString(avg),
		LastPaidDate: l,
		NextDueDate:  n,
	}
}

func TestMerge_Create(t *testing.T) {
	got, change := Merge(nil, candidate("15.25", "2024-02-15", "2024-03-15"), now)

	if change != Created {
		t.Fatalf("change = %v, want Created", change)
	}
	if got.ID == "" || got.Status != domain.StatusActive {
		t.Errorf("unexpected subscription: %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps not set: %+v", got)
	}
}

func TestMerge_UpdateKeepsStatus(t *testing.T) {
	tests := []struct {
		name   string
		status domain.SubscriptionStatus
	}{
		{"active", domain.StatusActive},
		{"ignored stays ignored", domain.StatusIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := now.Add(-48 * time.Hour)
			existing, _ := Merge(nil, candidate("15.25", "2024-02-15", "2024-03-15"), created)
			existing.Status = tt.status

			got, change := Merge(&existing, candidate("15.33", "2024-03-15", "2024-04-15"), now)
			if change != Updated {
				t.Fatalf("change = %v, want Updated", change)
			}
			if got.Status != tt.status {
				t.Errorf("Status = %s, want %s", got.Status, tt.status)
			}
			if got.ID != existing.ID || !got.CreatedAt.Equal(created) {
				t.Errorf("identity changed: %+v", got)
			}
			if got.LastPaidDate.String() != "2024-03-15" || got.NextDueDate.String() != "2024-04-15" {
				t.Errorf("dates not overwritten: %+v", got)
			}
			if !got.UpdatedAt.Equal(now) {
				t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
			}
		})
	}
}

func TestMerge_Unchanged(t *testing.T) {
	created := now.Add(-time.Hour)
	existing, _ := Merge(nil, candidate("15.25", "2024-02-15", "2024-03-15"), created)

	// Same value with a different scale must still count as unchanged.
	got, change := Merge(&existing, candidate("15.250", "2024-02-15", "2024-03-15"), now)
	if change != Unchanged {
		t.Fatalf("change = %v, want Unchanged", change)
	}
	if !got.UpdatedAt.Equal(created) {
		t.Errorf("UpdatedAt moved on a no-op merge")
	}
	if AuditFor(got, change, now) != nil {
		t.Error("no audit entry expected for unchanged merge")
	}
}

func TestApplyIgnore(t *testing.T) {
	s, _ := Merge(nil, candidate("15.25", "2024-02-15", "2024-03-15"), now)

	ignored, changed := ApplyIgnore(s, now.Add(time.Minute))
	if !changed || ignored.Status != domain.StatusIgnored {
		t.Fatalf("first ignore: changed=%v status=%s", changed, ignored.Status)
	}

	again, changed := ApplyIgnore(ignored, now.Add(time.Hour))
	if changed {
		t.Error("second ignore should be a no-op")
	}
	if !again.UpdatedAt.Equal(ignored.UpdatedAt) {
		t.Error("UpdatedAt moved on repeated ignore")
	}
}

func TestSort(t *testing.T) {
	subs := []domain.Subscription{
		{ID: "3", Merchant: "water"},
		{ID: "1", Merchant: "Netflix"},
		{ID: "2", Merchant: "amazon Prime"},
	}
	Sort(subs)

	want := []string{"2", "1", "3"}
	for i, id := range want {
		if subs[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, subs[i].ID, id)
		}
	}
}

func TestAuditDetails(t *testing.T) {
	s, change := Merge(nil, candidate("15.25", "2024-02-15", "2024-03-15"), now)
	entry := AuditFor(s, change, now)
	if entry == nil {
		t.Fatal("expected audit entry")
	}
	if entry.Action != domain.AuditSubscriptionDetected || entry.EntityID != s.ID {
		t.Errorf("unexpected entry: %+v", entry)
	}

	var details map[string]string
	if err := json.Unmarshal([]byte(entry.Details), &details); err != nil {
		t.Fatalf("details not JSON: %v", err)
	}
	if details["avg_amount"] != "15.25" || details["next_due_date"] != "2024-03-15" {
		t.Errorf("unexpected details: %v", details)
	}
}
