// Package crawler discovers challenge pages on the catalog site and
// extracts them into catalog records.
package crawler

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// Fetcher retrieves the raw markup behind an address.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string) ([]byte, error)
}

// FetcherConfig holds configuration for the HTTP fetcher.
type FetcherConfig struct {
	UserAgent      string
	RateLimit      float64 // requests per second
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxBodyBytes   int64
}

// DefaultFetcherConfig returns default fetcher configuration.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		RateLimit:      1,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     2,
		RetryDelay:     2 * time.Second,
		MaxBodyBytes:   10 << 20,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// HTTPFetcher is a rate-limited, retrying Fetcher that presents itself as a desktop browser.
type HTTPFetcher struct {
	config      FetcherConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	log         *logger.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg FetcherConfig, log *logger.Logger) *HTTPFetcher {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultFetcherConfig().MaxBodyBytes
	}

	return &HTTPFetcher{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		log:         log.WithComponent("fetcher"),
	}
}

// Fetch fetches a URL with retry logic and exponential backoff.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	var lastErr error
	delay := f.config.RetryDelay

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			f.log.Debug("retrying request", "url", targetURL, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		body, err := f.fetch(ctx, targetURL)
		if err == nil {
			return body, nil
		}

		lastErr = err
		f.log.WithError(err).Warn("request failed", "url", targetURL, "attempt", attempt)

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("fetch %s: %w", targetURL, lastErr)
}

// fetch performs a single HTTP GET request.
func (f *HTTPFetcher) fetch(ctx context.Context, targetURL string) ([]byte, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Cache-Control", "max-age=0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: targetURL, StatusCode: resp.StatusCode}
	}

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	body, err := io.ReadAll(io.LimitReader(reader, f.config.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		return zr, nil
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open deflate body: %w", err)
		}
		return zr, nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}
