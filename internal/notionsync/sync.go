// Package notionsync mirrors detected subscriptions into a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/jomei/notionapi"
)

// PageSize is the Notion query page size.
const PageSize = 100

// SubscriptionLister supplies the subscriptions to mirror.
type SubscriptionLister interface {
	List(ctx context.Context, userID string) ([]domain.Subscription, error)
}

// SyncResult counts what a sync did (or would do on a dry run).
type SyncResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// SyncSubscriptions upserts every subscription of userID into databaseID,
// keyed by the "Subscription ID" title. Pages of the same user whose id is no
// longer known are archived. Per-page failures are logged and counted; only
// listing failures abort the sync.
func SyncSubscriptions(ctx context.Context, lister SubscriptionLister, notion NotionService, databaseID, userID string, dryRun bool) (*SyncResult, error) {
	log := logger.ForUser(ctx, userID, "syncNotion")
	log.Info().Bool("dry_run", dryRun).Msg("Starting subscription sync to Notion")

	subs, err := lister.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("SyncSubscriptions: listing subscriptions: %w", err)
	}

	pages, err := queryAllNotionPages(ctx, notion, databaseID, userID)
	if err != nil {
		return nil, fmt.Errorf("SyncSubscriptions: %w", err)
	}
	log.Info().
		Int("subscription_count", len(subs)).
		Int("notion_page_count", len(pages)).
		Msg("Loaded both sides")

	pageBySubID := make(map[string]string, len(pages))
	for _, page := range pages {
		if id := extractSubscriptionID(page); id != "" {
			pageBySubID[id] = string(page.ID)
		}
	}

	result := &SyncResult{}
	known := make(map[string]bool, len(subs))
	for _, sub := range subs {
		known[sub.ID] = true
		props := SubscriptionToNotionProperties(sub)
		pageID, exists := pageBySubID[sub.ID]

		switch {
		case dryRun && exists:
			log.Info().Str("subscription_id", sub.ID).Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
			result.Updated++
		case dryRun:
			log.Info().Str("subscription_id", sub.ID).Msg("[DRY RUN] Would create Notion page")
			result.Created++
		case exists:
			if _, err := notion.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("subscription_id", sub.ID).Str("page_id", pageID).Msg("Failed to update Notion page")
				result.Failed++
				continue
			}
			result.Updated++
		default:
			page, err := notion.CreatePage(ctx, databaseID, props)
			if err != nil {
				log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("Failed to create Notion page")
				result.Failed++
				continue
			}
			log.Debug().Str("subscription_id", sub.ID).Str("page_id", string(page.ID)).Msg("Created Notion page")
			result.Created++
		}
	}

	for subID, pageID := range pageBySubID {
		if known[subID] {
			continue
		}
		if dryRun {
			log.Info().Str("subscription_id", subID).Str("page_id", pageID).Msg("[DRY RUN] Would archive stale Notion page")
			result.Archived++
			continue
		}
		if err := notion.ArchivePage(ctx, pageID); err != nil {
			log.Warn().Err(err).Str("subscription_id", subID).Str("page_id", pageID).Msg("Failed to archive stale Notion page")
			result.Failed++
			continue
		}
		result.Archived++
	}

	log.Info().
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("archived", result.Archived).
		Int("failed", result.Failed).
		Msg("Subscription sync completed")
	return result, nil
}

// queryAllNotionPages pages through the database, restricted to one user.
func queryAllNotionPages(ctx context.Context, notion NotionService, databaseID, userID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: PageSize,
			Filter: &notionapi.PropertyFilter{
				Property: PropUserID,
				RichText: &notionapi.TextFilterCondition{Equals: userID},
			},
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}
		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return allPages, nil
}
