package config

import (
	"strings"
	"testing"
	"time"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(mapEnv(nil))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StoreBackend != BackendSQLite {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, BackendSQLite)
	}
	if cfg.DatasetID != "finance" {
		t.Errorf("DatasetID = %q, want finance", cfg.DatasetID)
	}
	if cfg.DetectionTimeout != 0 {
		t.Errorf("DetectionTimeout = %v, want 0", cfg.DetectionTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"STORE_BACKEND":           "BigQuery",
		"GCP_PROJECT_ID":          "proj",
		"DETECTION_TIMEOUT":       "5s",
		"INSIGHTS_CACHE_MAX_COST": "2048",
		"TIMEZONE":                "Europe/London",
	}))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg.StoreBackend != BackendBigQuery {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.DetectionTimeout != 5*time.Second {
		t.Errorf("DetectionTimeout = %v", cfg.DetectionTimeout)
	}
	if cfg.InsightsCacheMaxCost != 2048 {
		t.Errorf("InsightsCacheMaxCost = %d", cfg.InsightsCacheMaxCost)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestFromEnv_BadValues(t *testing.T) {
	_, err := FromEnv(mapEnv(map[string]string{
		"DETECTION_TIMEOUT":       "soon",
		"INSIGHTS_CACHE_MAX_COST": "lots",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"DETECTION_TIMEOUT", "INSIGHTS_CACHE_MAX_COST"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"unknown backend", Config{StoreBackend: "mongo"}, "unknown STORE_BACKEND"},
		{"bigquery without project", Config{StoreBackend: BackendBigQuery}, "GCP_PROJECT_ID"},
		{"sqlite without path", Config{StoreBackend: BackendSQLite}, "SQLITE_PATH"},
		{"anthropic without key", Config{StoreBackend: BackendMemory, InsightsProvider: ProviderAnthropic}, "ANTHROPIC_API_KEY"},
		{"unknown provider", Config{StoreBackend: BackendMemory, InsightsProvider: "oracle"}, "INSIGHTS_PROVIDER"},
		{"bad timezone", Config{StoreBackend: BackendMemory, Timezone: "Mars/Olympus"}, "TIMEZONE"},
		{"negative timeout", Config{StoreBackend: BackendMemory, DetectionTimeout: -time.Second}, "DETECTION_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
