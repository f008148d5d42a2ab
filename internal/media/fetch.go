package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/solstice/syscrawl/internal/util"
)

const maxImageBytes = 20 << 20

// Image is a downloaded and probed image
type Image struct {
	SourceURL   string
	Data        []byte
	Checksum    string // sha256 hex of Data
	ContentType string
	Width       int
	Height      int
	Format      string // jpeg, png, gif or webp
}

// Fetcher downloads images with the crawler's User-Agent
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	retry      *util.RetryConfig
}

// NewFetcher creates a fetcher. A nil client gets a 60s timeout; a nil
// retry config uses util.HTTPRetryConfig.
func NewFetcher(httpClient *http.Client, userAgent string, retry *util.RetryConfig) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if userAgent == "" {
		userAgent = util.DefaultUserAgent
	}
	if retry == nil {
		retry = util.HTTPRetryConfig()
	}
	return &Fetcher{httpClient: httpClient, userAgent: userAgent, retry: retry}
}

type fetchStatusError struct {
	url    string
	status int
}

func (e *fetchStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.url, e.status)
}

func (e *fetchStatusError) Retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// Fetch downloads url, checksums it and probes its dimensions
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("image url is empty")
	}

	img, err := util.RetryWithBackoff(ctx, f.retry, func() (*Image, error) {
		return f.fetchOnce(ctx, url)
	}, "image "+url)
	if err != nil {
		return nil, err
	}

	cfg, err := Probe(img.Data)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", url, err)
	}
	img.Width, img.Height, img.Format = cfg.Width, cfg.Height, cfg.Format
	if img.ContentType == "" || !strings.HasPrefix(img.ContentType, "image/") {
		img.ContentType = "image/" + cfg.Format
	}
	img.Checksum = util.ContentChecksum(img.Data)
	return img, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &fetchStatusError{url: url, status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image %s exceeds %d bytes", url, maxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", url)
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return &Image{SourceURL: url, Data: data, ContentType: strings.TrimSpace(ct)}, nil
}
