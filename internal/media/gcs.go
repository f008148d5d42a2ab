package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/solstice/syscrawl/internal/util"
)

// GCSUploader stores images in a Google Cloud Storage bucket
type GCSUploader struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
	timeout   time.Duration
}

// ClientOptionsFromEnv reads credentials from GOOGLE_APPLICATION_CREDENTIALS_JSON
// (inline JSON or a file path) or GOOGLE_APPLICATION_CREDENTIALS. No options
// means application default credentials.
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	opts := []option.ClientOption{}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// NewGCSUploader creates a storage client for bucket. cdnDomain, when set,
// replaces storage.googleapis.com in public URLs.
func NewGCSUploader(ctx context.Context, bucket, cdnDomain string, extra ...option.ClientOption) (*GCSUploader, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("%w: gcs bucket is required", util.ErrInvalidConfig)
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	opts = append(opts, extra...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{
		client:    client,
		bucket:    bucket,
		cdnDomain: strings.TrimRight(cdnDomain, "/"),
		timeout:   2 * time.Minute,
	}, nil
}

// Upload implements Uploader
func (g *GCSUploader) Upload(ctx context.Context, key, contentType string, data []byte) (Object, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	if contentType != "" {
		w.ContentType = contentType
	}
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("%w: failed to write %s to GCS: %v", util.ErrUpload, key, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("%w: failed to close GCS writer for %s: %v", util.ErrUpload, key, err)
	}

	util.DebugLog("Uploaded gs://%s/%s (%d bytes)", g.bucket, key, len(data))
	return Object{PublicID: key, URL: g.PublicURL(key)}, nil
}

// PublicURL returns the URL an object is served from
func (g *GCSUploader) PublicURL(key string) string {
	if g.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", g.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}

// Ping checks that the bucket exists and is readable
func (g *GCSUploader) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %q: %w", g.bucket, err)
	}
	return nil
}

// Close releases the storage client
func (g *GCSUploader) Close() error {
	return g.client.Close()
}
