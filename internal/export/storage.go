package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStore reads and writes whole objects in a bucket.
type ObjectStore interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, r io.Reader) error
	ReadObject(ctx context.Context, bucket, object string) ([]byte, error)
}

// GCSStore is the Cloud Storage ObjectStore. It assumes Application Default
// Credentials are configured.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a storage client.
func NewGCSStore(ctx context.Context) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close closes the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// WriteObject uploads r to gs://bucket/object.
func (s *GCSStore) WriteObject(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// ReadObject downloads gs://bucket/object.
func (s *GCSStore) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return data, nil
}

// DirStore maps buckets to directories under Root, for local runs and tests.
type DirStore struct {
	Root string
}

// WriteObject writes r to Root/bucket/object.
func (s DirStore) WriteObject(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	dst := filepath.Join(s.Root, bucket, filepath.FromSlash(object))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create file %q: %w", dst, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write file %q: %w", dst, err)
	}
	return f.Close()
}

// ReadObject reads Root/bucket/object.
func (s DirStore) ReadObject(ctx context.Context, bucket, object string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Root, bucket, filepath.FromSlash(object)))
}

// ParseURI splits gs://bucket/path into bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

var (
	_ ObjectStore = (*GCSStore)(nil)
	_ ObjectStore = DirStore{}
)
