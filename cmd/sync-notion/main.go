package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/app"
	"github.com/dvloznov/subscription-tracker/internal/config"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/dvloznov/subscription-tracker/internal/notionsync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	userID := flag.String("user", "", "User whose subscriptions to mirror (required)")
	notionToken := flag.String("notion-token", cfg.NotionToken, "Notion API token (or set NOTION_TOKEN env)")
	notionDBID := flag.String("notion-db-id", cfg.NotionSubscriptionsDBID, "Notion database ID (or set NOTION_SUBSCRIPTIONS_DB_ID env)")
	detect := flag.Bool("detect", false, "Run detection before syncing")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	if *userID == "" {
		log.Fatal().Msg("Error: --user is required")
	}
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer backend.Close()

	eng, err := app.NewEngine(cfg, backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	if *detect {
		if _, err := eng.RunDetection(ctx, *userID); err != nil {
			log.Fatal().Err(err).Msg("Detection failed")
		}
	}

	res, err := notionsync.SyncSubscriptions(ctx, eng, notionsync.NewNotionClient(*notionToken), *notionDBID, *userID, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d archived, %d failed.\n",
		res.Created, res.Updated, res.Archived, res.Failed)
}
