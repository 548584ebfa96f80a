package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
	BackendMemory   = "memory"
)

// Insights providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Config holds process configuration shared by the cmd/ binaries.
type Config struct {
	Port         string
	StoreBackend string
	SQLitePath   string

	ProjectID string
	DatasetID string
	GCSBucket string

	JWTSecret string

	NotionToken             string
	NotionSubscriptionsDBID string

	InsightsProvider     string
	AnthropicAPIKey      string
	GeminiModel          string
	InsightsCacheMaxCost int64

	Timezone         string
	DetectionTimeout time.Duration
	LogLevel         string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:                    envOr(getenv, "PORT", "8080"),
		StoreBackend:            strings.ToLower(envOr(getenv, "STORE_BACKEND", BackendSQLite)),
		SQLitePath:              envOr(getenv, "SQLITE_PATH", "subscriptions.db"),
		ProjectID:               getenv("GCP_PROJECT_ID"),
		DatasetID:               envOr(getenv, "BQ_DATASET", "finance"),
		GCSBucket:               getenv("GCS_BUCKET"),
		JWTSecret:               getenv("JWT_SECRET"),
		NotionToken:             getenv("NOTION_TOKEN"),
		NotionSubscriptionsDBID: getenv("NOTION_SUBSCRIPTIONS_DB_ID"),
		InsightsProvider:        strings.ToLower(getenv("INSIGHTS_PROVIDER")),
		AnthropicAPIKey:         getenv("ANTHROPIC_API_KEY"),
		GeminiModel:             envOr(getenv, "GEMINI_MODEL", "gemini-2.5-flash"),
		InsightsCacheMaxCost:    1 << 20,
		Timezone:                envOr(getenv, "TIMEZONE", "Local"),
		LogLevel:                envOr(getenv, "LOG_LEVEL", "info"),
	}

	var errs []error

	if v := getenv("DETECTION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DETECTION_TIMEOUT: %w", err))
		}
		cfg.DetectionTimeout = d
	}

	if v := getenv("INSIGHTS_CACHE_MAX_COST"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("INSIGHTS_CACHE_MAX_COST: %w", err))
		}
		cfg.InsightsCacheMaxCost = n
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports every inconsistency in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendBigQuery:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("GCP_PROJECT_ID is required for the bigquery backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.InsightsProvider {
	case "", ProviderGemini:
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic insights provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown INSIGHTS_PROVIDER %q", c.InsightsProvider))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	if c.DetectionTimeout < 0 {
		errs = append(errs, errors.New("DETECTION_TIMEOUT must not be negative"))
	}

	return errors.Join(errs...)
}

// Location resolves the configured IANA time zone used for "today".
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
