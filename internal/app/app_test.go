package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/config"
	"github.com/dvloznov/subscription-tracker/internal/demo"
	"github.com/dvloznov/subscription-tracker/internal/insights"
)

func TestOpenBackend_SeedAndDetect(t *testing.T) {
	tests := []struct {
		name    string
		backend string
	}{
		{"memory", config.BackendMemory},
		{"sqlite", config.BackendSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := &config.Config{
				StoreBackend: tt.backend,
				SQLitePath:   filepath.Join(t.TempDir(), "subs.db"),
				Timezone:     "UTC",
			}

			b, err := OpenBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("OpenBackend() error = %v", err)
			}
			defer b.Close()

			w, err := b.TransactionWriter()
			if err != nil {
				t.Fatalf("TransactionWriter() error = %v", err)
			}
			if _, err := demo.Seed(ctx, w, "u1", time.Now(), false); err != nil {
				t.Fatalf("Seed() error = %v", err)
			}

			eng, err := NewEngine(cfg, b)
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}
			subs, err := eng.RunDetection(ctx, "u1")
			if err != nil {
				t.Fatalf("RunDetection() error = %v", err)
			}
			if len(subs) == 0 {
				t.Error("no subscriptions detected from demo data")
			}
		})
	}
}

func TestOpenBackend_Unknown(t *testing.T) {
	if _, err := OpenBackend(context.Background(), &config.Config{StoreBackend: "mongo"}); err == nil {
		t.Error("OpenBackend() with unknown backend succeeded")
	}
}

func TestBackend_ReadOnly(t *testing.T) {
	b := &Backend{Name: config.BackendBigQuery}
	if _, err := b.TransactionWriter(); !errors.Is(err, ErrReadOnlyTransactions) {
		t.Errorf("TransactionWriter() error = %v, want ErrReadOnlyTransactions", err)
	}
}

func TestNewInsights_Disabled(t *testing.T) {
	_, err := NewInsights(context.Background(), &config.Config{})
	if !errors.Is(err, insights.ErrDisabled) {
		t.Errorf("NewInsights() error = %v, want ErrDisabled", err)
	}
}

func TestNewExporter_Local(t *testing.T) {
	cfg := &config.Config{GCSBucket: "snapshots"}
	exp, closeFn, err := NewExporter(context.Background(), cfg, t.TempDir())
	if err != nil {
		t.Fatalf("NewExporter() error = %v", err)
	}
	defer closeFn()

	uri, err := exp.Export(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := exp.Load(context.Background(), uri); err != nil {
		t.Errorf("Load(%q) error = %v", uri, err)
	}

	if _, _, err := NewExporter(context.Background(), &config.Config{}, ""); err == nil {
		t.Error("NewExporter() without bucket succeeded")
	}
}
