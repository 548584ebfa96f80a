// Package export writes JSON snapshots of a user's subscriptions to object
// storage.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/logger"
)

const snapshotContentType = "application/json"

// Snapshot is the exported document.
type Snapshot struct {
	UserID        string                `json:"user_id"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Subscriptions []domain.Subscription `json:"subscriptions"`
}

// Exporter writes snapshots under exports/<user>/ in one bucket.
type Exporter struct {
	store  ObjectStore
	bucket string
	now    func() time.Time
}

// NewExporter creates an Exporter for bucket.
func NewExporter(store ObjectStore, bucket string) *Exporter {
	return &Exporter{store: store, bucket: bucket, now: time.Now}
}

// ObjectName returns the object path of a snapshot taken at t.
func ObjectName(userID string, t time.Time) string {
	return fmt.Sprintf("exports/%s/%s.json", userID, t.UTC().Format("20060102T150405Z"))
}

// Export writes the snapshot and returns its gs:// URI.
func (e *Exporter) Export(ctx context.Context, userID string, subs []domain.Subscription) (string, error) {
	if e.bucket == "" {
		return "", fmt.Errorf("Export: no bucket configured")
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}

	snap := Snapshot{UserID: userID, GeneratedAt: e.now().UTC(), Subscriptions: subs}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("Export: marshal snapshot: %w", err)
	}

	object := ObjectName(userID, snap.GeneratedAt)
	if err := e.store.WriteObject(ctx, e.bucket, object, snapshotContentType, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("Export: writing %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", e.bucket, object)
	log := logger.ForUser(ctx, userID, "export")
	log.Info().
		Str("uri", uri).
		Int("subscriptions", len(subs)).
		Int("bytes", len(data)).
		Msg("snapshot exported")
	return uri, nil
}

// Load reads a snapshot back from its gs:// URI.
func (e *Exporter) Load(ctx context.Context, uri string) (*Snapshot, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	data, err := e.store.ReadObject(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("Load: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
