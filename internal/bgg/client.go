// Package bgg fetches listing pages, detail pages and XML API records from
// BoardGameGeek.
package bgg

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

const (
	// DefaultBaseURL is the BoardGameGeek site root
	DefaultBaseURL = "https://boardgamegeek.com"

	// DefaultSort orders listing pages by number of voters
	DefaultSort = "numvoters"

	// DefaultSortDir is descending
	DefaultSortDir = "desc"

	// maxBodyBytes bounds a single page read
	maxBodyBytes = 16 << 20
)

// RequestObserver is told about every completed HTTP exchange.
// status is 0 when the request failed before a response arrived.
type RequestObserver func(endpoint string, status int, elapsed time.Duration)

// Options configures a Client
type Options struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	Retry      *util.RetryConfig
	Observer   RequestObserver
}

// Client handles BoardGameGeek requests. It holds no per-run state and
// does no pacing of its own; callers gate detail fetches with a pacer.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	retry      *util.RetryConfig
	observer   RequestObserver
}

// NewClient creates a new BoardGameGeek client
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		httpClient: opts.HTTPClient,
		retry:      opts.Retry,
		observer:   opts.Observer,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = util.DefaultUserAgent
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.retry == nil {
		c.retry = util.HTTPRetryConfig()
	}
	return c
}

// BaseURL returns the site root requests are made against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UserAgent returns the User-Agent header value sent with requests
func (c *Client) UserAgent() string {
	return c.userAgent
}

// StatusError is returned for a non-success HTTP response
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the status is worth retrying (throttling or a gateway hiccup)
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsThrottled reports whether err is a 429 or 503 from the site
func IsThrottled(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// get fetches url with the configured User-Agent, retrying transient failures
func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	return util.RetryWithBackoff(ctx, c.retry, func() ([]byte, error) {
		return c.getOnce(ctx, endpoint, url)
	}, "GET "+url)
}

func (c *Client) getOnce(ctx context.Context, endpoint, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, 0, time.Since(start))
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	c.observe(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (c *Client) observe(endpoint string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, elapsed)
	}
}
