// Package media downloads hero images and hands them to a storage backend.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/solstice/syscrawl/internal/util"
)

// Object is a stored image as the catalogue references it
type Object struct {
	PublicID string
	URL      string
}

// Uploader stores image bytes under key and returns where they can be read
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (Object, error)
}

// NopUploader stores nothing. The returned object has an empty URL, which
// tells the writer to keep referencing the image at its source.
type NopUploader struct{}

// Upload implements Uploader
func (NopUploader) Upload(_ context.Context, key, _ string, _ []byte) (Object, error) {
	return Object{PublicID: key}, nil
}

// DirUploader writes images below a local directory. BaseURL, when set, is
// the public prefix the directory is served under.
type DirUploader struct {
	Root    string
	BaseURL string
}

// NewDirUploader creates root if needed
func NewDirUploader(root, baseURL string) (*DirUploader, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: media directory is required", util.ErrInvalidConfig)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &DirUploader{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload implements Uploader
func (d *DirUploader) Upload(ctx context.Context, key, _ string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	clean := filepath.Clean("/" + key)[1:]
	if clean == "" {
		return Object{}, fmt.Errorf("%w: empty key", util.ErrUpload)
	}
	path := filepath.Join(d.Root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Object{}, fmt.Errorf("%w: %v", util.ErrUpload, err)
	}

	// write to a temp file and rename into place
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Object{}, fmt.Errorf("%w: %v", util.ErrUpload, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Object{}, fmt.Errorf("%w: %v", util.ErrUpload, err)
	}

	url := "file://" + filepath.ToSlash(path)
	if d.BaseURL != "" {
		url = d.BaseURL + "/" + clean
	}
	return Object{PublicID: clean, URL: url}, nil
}

// ObjectKey names a system's hero image by content
func ObjectKey(slug, checksum, format string) string {
	short := checksum
	if len(short) > 16 {
		short = short[:16]
	}
	return fmt.Sprintf("game-systems/%s/hero-%s%s", slug, short, ExtensionForFormat(format))
}

// ExtensionForFormat maps a decoder format name to a file extension
func ExtensionForFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return ".jpg"
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	case "webp":
		return ".webp"
	}
	return ""
}

// ContentTypeForKey guesses an image content type from the key's extension
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	}
	return ""
}
