package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/api"
	"github.com/dvloznov/subscription-tracker/internal/api/handlers"
	"github.com/dvloznov/subscription-tracker/internal/app"
	"github.com/dvloznov/subscription-tracker/internal/config"
	"github.com/dvloznov/subscription-tracker/internal/insights"
	"github.com/dvloznov/subscription-tracker/internal/jobs"
	"github.com/dvloznov/subscription-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/subscription-tracker/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	port := flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
	workers := flag.Int("workers", inmemory.DefaultWorkers, "Number of detection job workers")
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer backend.Close()

	eng, err := app.NewEngine(cfg, backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	// Insights are optional; the endpoint answers 503 without a provider.
	var summarizer handlers.Summarizer
	svc, err := app.NewInsights(ctx, cfg)
	switch {
	case errors.Is(err, insights.ErrDisabled):
		log.Warn().Msg("No INSIGHTS_PROVIDER configured - insights will be disabled")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to create insights service")
	default:
		defer svc.Close()
		summarizer = svc
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, inmemory.WithWorkers(*workers))

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", *workers).Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobs.NewDetectionHandler(eng)); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set - accepting userId query parameter and X-User-ID header")
	}

	handler := api.NewRouter(api.Deps{
		Subscriptions: handlers.NewSubscriptionsHandler(eng),
		Jobs:          handlers.NewJobsHandler(jobStore, jobQueue, log),
		Insights:      handlers.NewInsightsHandler(eng, summarizer),
		JWTSecret:     cfg.JWTSecret,
		Log:           log,
	})

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("store", backend.Name).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Wait for in-flight jobs before the store closes.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
