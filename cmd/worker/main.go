package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/app"
	"github.com/dvloznov/subscription-tracker/internal/config"
	"github.com/dvloznov/subscription-tracker/internal/jobs"
	"github.com/dvloznov/subscription-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	usersFlag := flag.String("users", os.Getenv("DETECT_USERS"), "Comma-separated user ids to sweep (or set DETECT_USERS env)")
	interval := flag.Duration("interval", time.Hour, "Time between sweeps")
	workers := flag.Int("workers", inmemory.DefaultWorkers, "Number of job workers")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	users := parseUsers(*usersFlag)
	if len(users) == 0 {
		log.Fatal().Msg("Error: --users is required")
	}
	if *interval <= 0 {
		log.Fatal().Dur("interval", *interval).Msg("Error: --interval must be positive")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer backend.Close()

	eng, err := app.NewEngine(cfg, backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, inmemory.WithWorkers(*workers))

	if err := jobQueue.Start(ctx, jobs.NewDetectionHandler(eng)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().
		Strs("users", users).
		Dur("interval", *interval).
		Str("store", backend.Name).
		Msg("Worker service started")

	go runSweeps(ctx, jobQueue, users, *interval, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}

// runSweeps publishes one sweep immediately and then one per interval until
// ctx is cancelled.
func runSweeps(ctx context.Context, pub jobs.Publisher, users []string, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n := sweep(ctx, pub, users, log)
		log.Info().Int("published", n).Msg("Sweep published")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep enqueues a detection job per user and returns how many were accepted.
func sweep(ctx context.Context, pub jobs.Publisher, users []string, log zerolog.Logger) int {
	var published int
	for _, userID := range users {
		job := &jobs.DetectSubscriptionsJob{UserID: userID}
		if err := pub.PublishDetectSubscriptions(ctx, job); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to publish detection job")
			continue
		}
		published++
	}
	return published
}

// parseUsers splits a comma-separated list, dropping blanks and duplicates.
func parseUsers(s string) []string {
	seen := make(map[string]bool)
	var users []string
	for _, part := range strings.Split(s, ",") {
		u := strings.TrimSpace(part)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		users = append(users, u)
	}
	return users
}
