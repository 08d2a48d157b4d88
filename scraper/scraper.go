package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const defaultMaxSnippetLen = 1000

// Scraper extracts readable article text used as the snippet fed to the
// summarizer when a feed entry carries none.
type Scraper struct {
	httpClient    *http.Client
	maxSnippetLen int
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		s.httpClient.Timeout = d
	}
}

// WithMaxSnippetLength sets the maximum snippet length to return.
func WithMaxSnippetLength(n int) Option {
	return func(s *Scraper) {
		s.maxSnippetLen = n
	}
}

// NewScraper creates a new article text scraper.
func NewScraper(opts ...Option) *Scraper {
	s := &Scraper{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		maxSnippetLen: defaultMaxSnippetLen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract fetches a page and returns its readable text, truncated to the
// snippet limit.
func (s *Scraper) Extract(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	// Some sites reject requests without a browser-looking user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; PulseAgent/1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > s.maxSnippetLen {
		text = text[:s.maxSnippetLen]
	}

	return text, nil
}
