// Package app assembles the stores, engine and optional services from a
// Config for the cmd/ binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/subscription-tracker/internal/config"
	"github.com/dvloznov/subscription-tracker/internal/demo"
	"github.com/dvloznov/subscription-tracker/internal/detection"
	"github.com/dvloznov/subscription-tracker/internal/engine"
	"github.com/dvloznov/subscription-tracker/internal/export"
	infraBQ "github.com/dvloznov/subscription-tracker/internal/infra/bigquery"
	"github.com/dvloznov/subscription-tracker/internal/infra/inmemory"
	"github.com/dvloznov/subscription-tracker/internal/infra/sqlite"
	"github.com/dvloznov/subscription-tracker/internal/insights"
	"github.com/dvloznov/subscription-tracker/internal/subscriptions"
)

// ErrReadOnlyTransactions is returned by Backend.TransactionWriter for
// backends whose transactions are loaded by an external process.
var ErrReadOnlyTransactions = errors.New("transaction store is read-only for this backend")

// Backend is one opened storage backend.
type Backend struct {
	Name   string
	Source detection.TransactionSource
	Repo   subscriptions.Repository

	writer  demo.TransactionWriter
	closers []func() error
}

// TransactionWriter returns the writable transaction store, if any.
func (b *Backend) TransactionWriter() (demo.TransactionWriter, error) {
	if b.writer == nil {
		return nil, fmt.Errorf("%s: %w", b.Name, ErrReadOnlyTransactions)
	}
	return b.writer, nil
}

// Close releases every client the backend opened.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenBackend opens the store selected by cfg.StoreBackend.
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		txs := inmemory.NewTransactionStore()
		return &Backend{
			Name:   config.BackendMemory,
			Source: txs,
			Repo:   inmemory.NewSubscriptionRepository(),
			writer: txs,
		}, nil

	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("OpenBackend: %w", err)
		}
		txs := store.Transactions()
		return &Backend{
			Name:    config.BackendSQLite,
			Source:  txs,
			Repo:    store.Subscriptions(),
			writer:  txs,
			closers: []func() error{store.Close},
		}, nil

	case config.BackendBigQuery:
		ds := infraBQ.Dataset{ProjectID: cfg.ProjectID, DatasetID: cfg.DatasetID}
		txs, err := infraBQ.NewBigQueryTransactionStore(ctx, ds)
		if err != nil {
			return nil, fmt.Errorf("OpenBackend: %w", err)
		}
		repo, err := infraBQ.NewBigQuerySubscriptionRepository(ctx, ds)
		if err != nil {
			txs.Close()
			return nil, fmt.Errorf("OpenBackend: %w", err)
		}
		return &Backend{
			Name:    config.BackendBigQuery,
			Source:  txs,
			Repo:    repo,
			closers: []func() error{txs.Close, repo.Close},
		}, nil

	default:
		return nil, fmt.Errorf("OpenBackend: unknown backend %q", cfg.StoreBackend)
	}
}

// NewEngine builds the engine over b with the configured zone and timeout.
func NewEngine(cfg *config.Config, b *Backend) (*engine.Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("NewEngine: %w", err)
	}
	return engine.New(b.Source, b.Repo,
		engine.WithLocation(loc),
		engine.WithTimeout(cfg.DetectionTimeout),
	), nil
}

// NewInsights builds the summary service. It returns insights.ErrDisabled
// when no provider is configured.
func NewInsights(ctx context.Context, cfg *config.Config) (*insights.Service, error) {
	summarizer, err := insights.NewSummarizer(ctx, cfg.InsightsProvider, cfg.AnthropicAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	return insights.NewService(summarizer, cfg.InsightsCacheMaxCost)
}

// NewExporter builds a snapshot exporter writing to cfg.GCSBucket, or to
// localDir when it is set.
func NewExporter(ctx context.Context, cfg *config.Config, localDir string) (*export.Exporter, func() error, error) {
	if cfg.GCSBucket == "" {
		return nil, nil, errors.New("NewExporter: GCS_BUCKET is not set")
	}
	if localDir != "" {
		return export.NewExporter(export.DirStore{Root: localDir}, cfg.GCSBucket), func() error { return nil }, nil
	}
	store, err := export.NewGCSStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("NewExporter: %w", err)
	}
	return export.NewExporter(store, cfg.GCSBucket), store.Close, nil
}
