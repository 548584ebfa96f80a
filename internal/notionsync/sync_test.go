package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

type mockNotion struct {
	pages      []notionapi.Page
	pageSize   int
	created    []notionapi.Properties
	updated    map[string]notionapi.Properties
	archived   []string
	failCreate bool
	queries    int
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.failCreate {
		return nil, errors.New("rate limited")
	}
	m.created = append(m.created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID("new-page")}, nil
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.updated == nil {
		m.updated = make(map[string]notionapi.Properties)
	}
	m.updated[pageID] = properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

// QueryDatabase serves m.pages in chunks of pageSize to exercise the cursor.
func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	m.queries++
	start := 0
	if req.StartCursor != "" {
		for i, p := range m.pages {
			if string(p.ID) == string(req.StartCursor) {
				start = i
			}
		}
	}
	size := m.pageSize
	if size == 0 {
		size = len(m.pages)
	}
	end := start + size
	if end >= len(m.pages) {
		return &notionapi.DatabaseQueryResponse{Results: m.pages[start:]}, nil
	}
	return &notionapi.DatabaseQueryResponse{
		Results:    m.pages[start:end],
		HasMore:    true,
		NextCursor: notionapi.Cursor(m.pages[end].ID),
	}, nil
}

func (m *mockNotion) ArchivePage(ctx context.Context, pageID string) error {
	m.archived = append(m.archived, pageID)
	return nil
}

type stubLister struct {
	subs []domain.Subscription
	err  error
}

func (s stubLister) List(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.subs, s.err
}

func notionPage(pageID, subID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			PropSubscriptionID: &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: subID}},
			},
		},
	}
}

func testSubs() []domain.Subscription {
	return []domain.Subscription{
		{ID: "s1", UserID: "u1", Merchant: "Netflix", AvgAmount: decimal.RequireFromString("15.25"),
			LastPaidDate: civil.Date{Year: 2024, Month: 2, Day: 15}, NextDueDate: civil.Date{Year: 2024, Month: 3, Day: 15}, Status: domain.StatusActive},
		{ID: "s2", UserID: "u1", Merchant: "Spotify", AvgAmount: decimal.RequireFromString("9.99"),
			LastPaidDate: civil.Date{Year: 2024, Month: 2, Day: 3}, NextDueDate: civil.Date{Year: 2024, Month: 3, Day: 3}, Status: domain.StatusIgnored},
	}
}

func TestSyncSubscriptions(t *testing.T) {
	notion := &mockNotion{
		pages:    []notionapi.Page{notionPage("p1", "s1"), notionPage("p-old", "gone"), notionPage("p-manual", "")},
		pageSize: 2,
	}

	res, err := SyncSubscriptions(context.Background(), stubLister{subs: testSubs()}, notion, "db", "u1", false)
	if err != nil {
		t.Fatalf("SyncSubscriptions() error = %v", err)
	}

	want := SyncResult{Created: 1, Updated: 1, Archived: 1}
	if *res != want {
		t.Errorf("result = %+v, want %+v", *res, want)
	}
	if notion.queries != 2 {
		t.Errorf("queries = %d, want 2 (paginated)", notion.queries)
	}
	if _, ok := notion.updated["p1"]; !ok {
		t.Errorf("page p1 not updated: %v", notion.updated)
	}
	if len(notion.archived) != 1 || notion.archived[0] != "p-old" {
		t.Errorf("archived = %v, want [p-old]", notion.archived)
	}

	props := notion.created[0]
	title, ok := props[PropSubscriptionID].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "s2" {
		t.Errorf("created title = %#v", props[PropSubscriptionID])
	}
	if status := props[PropStatus].(notionapi.SelectProperty); status.Select.Name != "IGNORED" {
		t.Errorf("created status = %q", status.Select.Name)
	}
}

func TestSyncSubscriptions_DryRun(t *testing.T) {
	notion := &mockNotion{pages: []notionapi.Page{notionPage("p1", "s1"), notionPage("p-old", "gone")}}

	res, err := SyncSubscriptions(context.Background(), stubLister{subs: testSubs()}, notion, "db", "u1", true)
	if err != nil {
		t.Fatalf("SyncSubscriptions() error = %v", err)
	}
	if want := (SyncResult{Created: 1, Updated: 1, Archived: 1}); *res != want {
		t.Errorf("result = %+v, want %+v", *res, want)
	}
	if len(notion.created)+len(notion.updated)+len(notion.archived) != 0 {
		t.Error("dry run wrote to Notion")
	}
}

func TestSyncSubscriptions_Failures(t *testing.T) {
	notion := &mockNotion{failCreate: true}
	res, err := SyncSubscriptions(context.Background(), stubLister{subs: testSubs()}, notion, "db", "u1", false)
	if err != nil {
		t.Fatalf("SyncSubscriptions() error = %v", err)
	}
	if res.Failed != 2 || res.Created != 0 {
		t.Errorf("result = %+v, want 2 failures", *res)
	}

	_, err = SyncSubscriptions(context.Background(), stubLister{err: errors.New("db down")}, notion, "db", "u1", false)
	if err == nil {
		t.Error("SyncSubscriptions() with failing lister succeeded")
	}
}

func TestSubscriptionToNotionProperties(t *testing.T) {
	sub := testSubs()[0]
	props := SubscriptionToNotionProperties(sub)

	if n := props[PropAvgAmount].(notionapi.NumberProperty).Number; n != 15.25 {
		t.Errorf("amount = %v, want 15.25", n)
	}
	due := props[PropNextDue].(notionapi.DateProperty)
	if got := time.Time(*due.Date.Start); !got.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("next due = %v", got)
	}

	sub.LastPaidDate = civil.Date{}
	if _, ok := SubscriptionToNotionProperties(sub)[PropLastPaid]; ok {
		t.Error("zero last paid date should be omitted")
	}
}
