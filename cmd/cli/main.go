package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/api/middleware"
	"github.com/dvloznov/subscription-tracker/internal/app"
	"github.com/dvloznov/subscription-tracker/internal/config"
	"github.com/dvloznov/subscription-tracker/internal/demo"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/engine"
	"github.com/dvloznov/subscription-tracker/internal/insights"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/dvloznov/subscription-tracker/internal/notionsync"
	"github.com/dvloznov/subscription-tracker/internal/scheduler"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	switch os.Args[1] {
	case "detect":
		runDetect(cfg, log)
	case "list":
		runList(cfg, log)
	case "due-soon":
		runDueSoon(cfg, log)
	case "ignore":
		runIgnore(cfg, log)
	case "audit":
		runAudit(cfg, log)
	case "seed":
		runSeed(cfg, log)
	case "export":
		runExport(cfg, log)
	case "sync-notion":
		runSyncNotion(cfg, log)
	case "insights":
		runInsights(cfg, log)
	case "token":
		runToken(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Subscription Tracker CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  detect       Detect recurring charges and update subscriptions")
	fmt.Println("  list         List stored subscriptions")
	fmt.Println("  due-soon     List ACTIVE subscriptions due in the next N days")
	fmt.Println("  ignore       Mark a subscription IGNORED")
	fmt.Println("  audit        Show the audit log")
	fmt.Println("  seed         Insert demo transactions for a user")
	fmt.Println("  export       Export a JSON snapshot to GCS")
	fmt.Println("  sync-notion  Mirror subscriptions into Notion")
	fmt.Println("  insights     Summarize subscriptions with the configured AI provider")
	fmt.Println("  token        Issue an API bearer token for a user")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// session is an opened backend plus the engine over it.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	backend *app.Backend
	engine  *engine.Engine
}

func (s *session) close() {
	s.backend.Close()
	s.cancel()
}

func open(cfg *config.Config, log zerolog.Logger, timeout time.Duration) *session {
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = logger.WithContext(ctx, log)

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	eng, err := app.NewEngine(cfg, backend)
	if err != nil {
		backend.Close()
		cancel()
		log.Fatal().Err(err).Msg("Failed to create engine")
	}
	return &session{ctx: ctx, cancel: cancel, backend: backend, engine: eng}
}

func requireFlag(log zerolog.Logger, name, value string) {
	if value == "" {
		log.Fatal().Msgf("Error: --%s is required", name)
	}
}

func runDetect(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)

	s := open(cfg, log, 5*time.Minute)
	defer s.close()

	subs, err := s.engine.RunDetection(s.ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Detection failed")
	}
	output(os.Stdout, subs, *asJSON)
}

func runList(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)

	s := open(cfg, log, time.Minute)
	defer s.close()

	subs, err := s.engine.List(s.ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Listing failed")
	}
	output(os.Stdout, subs, *asJSON)
}

func runDueSoon(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("due-soon", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	days := fs.Int("days", scheduler.DefaultDays, "Window length in days, today included")
	refresh := fs.Bool("refresh", false, "Run detection first")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)

	s := open(cfg, log, 5*time.Minute)
	defer s.close()

	var subs []domain.Subscription
	var err error
	if *refresh {
		subs, err = s.engine.RefreshAndDueSoon(s.ctx, *userID, *days)
	} else {
		subs, err = s.engine.DueSoon(s.ctx, *userID, *days)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Due-soon query failed")
	}
	output(os.Stdout, subs, *asJSON)
}

func runIgnore(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ignore", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	subID := fs.String("id", "", "Subscription id")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)
	requireFlag(log, "id", *subID)

	s := open(cfg, log, time.Minute)
	defer s.close()

	sub, err := s.engine.Ignore(s.ctx, *subID, *userID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Fatal().Str("subscription_id", *subID).Msg("Subscription not found")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Ignore failed")
	}
	fmt.Printf("Ignored %s (%s).\n", sub.Merchant, sub.ID)
}

func runAudit(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	limit := fs.Int("limit", 50, "Maximum number of entries")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)

	s := open(cfg, log, time.Minute)
	defer s.close()

	entries, err := s.engine.AuditLog(s.ctx, *userID, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Audit query failed")
	}
	printAudit(os.Stdout, entries)
}

func runSeed(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	force := fs.Bool("force", false, "Replace existing transactions")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)

	s := open(cfg, log, 5*time.Minute)
	defer s.close()

	writer, err := s.backend.TransactionWriter()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot seed this backend")
	}
	n, err := demo.Seed(s.ctx, writer, *userID, time.Now(), *force)
	if err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}
	if n == 0 {
		fmt.Println("User already has transactions; use --force to reseed.")
		return
	}
	fmt.Printf("Inserted %d demo transactions for %s.\n", n, *userID)
}

func runExport(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	bucket := fs.String("bucket", cfg.GCSBucket, "GCS bucket (or set GCS_BUCKET env)")
	localDir := fs.String("local-dir", "", "Write to this directory instead of GCS")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)
	cfg.GCSBucket = *bucket

	s := open(cfg, log, 5*time.Minute)
	defer s.close()

	exporter, closeStore, err := app.NewExporter(s.ctx, cfg, *localDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exporter")
	}
	defer closeStore()

	subs, err := s.engine.List(s.ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Listing failed")
	}
	uri, err := exporter.Export(s.ctx, *userID, subs)
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}
	fmt.Printf("Exported %d subscriptions to %s\n", len(subs), uri)
}

func runSyncNotion(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("sync-notion", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	token := fs.String("notion-token", cfg.NotionToken, "Notion API token (or set NOTION_TOKEN env)")
	dbID := fs.String("notion-db-id", cfg.NotionSubscriptionsDBID, "Notion database ID (or set NOTION_SUBSCRIPTIONS_DB_ID env)")
	dryRun := fs.Bool("dry-run", false, "Preview changes without writing to Notion")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)
	requireFlag(log, "notion-token", *token)
	requireFlag(log, "notion-db-id", *dbID)

	s := open(cfg, log, 10*time.Minute)
	defer s.close()

	res, err := notionsync.SyncSubscriptions(s.ctx, s.engine, notionsync.NewNotionClient(*token), *dbID, *userID, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}
	fmt.Printf("Sync completed: %d created, %d updated, %d archived, %d failed.\n",
		res.Created, res.Updated, res.Archived, res.Failed)
}

func runInsights(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("insights", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	provider := fs.String("provider", cfg.InsightsProvider, "gemini or anthropic (or set INSIGHTS_PROVIDER env)")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)
	cfg.InsightsProvider = *provider

	s := open(cfg, log, 2*time.Minute)
	defer s.close()

	svc, err := app.NewInsights(s.ctx, cfg)
	if errors.Is(err, insights.ErrDisabled) {
		log.Fatal().Msg("Error: --provider is required")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create insights service")
	}
	defer svc.Close()

	subs, err := s.engine.List(s.ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Listing failed")
	}
	summary, err := svc.Summarize(s.ctx, *userID, subs)
	if err != nil {
		log.Fatal().Err(err).Msg("Summary failed")
	}
	fmt.Printf("%d active subscriptions, %s per month\n\n%s\n", summary.ActiveCount, summary.MonthlyTotal.StringFixed(2), summary.Text)
}

func runToken(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userID := fs.String("user", "", "User id")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	fs.Parse(os.Args[2:])
	requireFlag(log, "user", *userID)
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("Error: JWT_SECRET is not set")
	}

	token, err := middleware.GenerateToken(cfg.JWTSecret, *userID, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Println(token)
}

func output(w io.Writer, subs []domain.Subscription, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(subs)
		return
	}
	printSubscriptions(w, subs)
}

func printSubscriptions(w io.Writer, subs []domain.Subscription) {
	if len(subs) == 0 {
		fmt.Fprintln(w, "No subscriptions.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMERCHANT\tAVG\tLAST PAID\tNEXT DUE\tSTATUS")
	for _, s := range subs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Merchant, s.AvgAmount.StringFixed(2), s.LastPaidDate, s.NextDueDate, s.Status)
	}
	tw.Flush()
}

func printAudit(w io.Writer, entries []domain.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tENTITY\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Action, e.EntityID, e.Details)
	}
	tw.Flush()
}
