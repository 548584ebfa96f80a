package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the subscriptions database.
const (
	PropSubscriptionID = "Subscription ID"
	PropMerchant       = "Merchant"
	PropAvgAmount      = "Average Amount"
	PropLastPaid       = "Last Paid"
	PropNextDue        = "Next Due"
	PropStatus         = "Status"
	PropUserID         = "User ID"
)

// SubscriptionToNotionProperties maps a subscription onto the database columns.
func SubscriptionToNotionProperties(sub domain.Subscription) notionapi.Properties {
	amount, _ := sub.AvgAmount.Float64()

	props := notionapi.Properties{
		PropSubscriptionID: notionapi.TitleProperty{
			Title: []notionapi.RichText{textRun(sub.ID)},
		},
		PropMerchant: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{textRun(sub.Merchant)},
		},
		PropAvgAmount: notionapi.NumberProperty{
			Number: amount,
		},
		PropStatus: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(sub.Status)},
		},
		PropUserID: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{textRun(sub.UserID)},
		},
	}

	if sub.LastPaidDate.IsValid() {
		props[PropLastPaid] = dateProperty(sub.LastPaidDate)
	}
	if sub.NextDueDate.IsValid() {
		props[PropNextDue] = dateProperty(sub.NextDueDate)
	}
	return props
}

func textRun(content string) notionapi.RichText {
	return notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
}

// dateProperty pins a calendar date to midnight UTC; Notion renders it as a
// date without time.
func dateProperty(d civil.Date) notionapi.DateProperty {
	start := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return notionapi.DateProperty{
		Date: &notionapi.DateObject{Start: &start},
	}
}

// extractSubscriptionID reads the title property of a synced page. It returns
// "" for pages that were not created by the sync.
func extractSubscriptionID(page notionapi.Page) string {
	prop, ok := page.Properties[PropSubscriptionID]
	if !ok {
		return ""
	}
	switch title := prop.(type) {
	case *notionapi.TitleProperty:
		if len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	case notionapi.TitleProperty:
		if len(title.Title) > 0 {
			return title.Title[0].PlainText
		}
	}
	return ""
}
