package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SlyMarbo/rss"
	"go.uber.org/zap"

	"github.com/Sag21/PulseAgent/model"
)

const (
	youtubeFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

	videosPerChannel = 5
	articlesPerFeed  = 10
)

// DeliveredChecker gates collection against the dedup ledger.
type DeliveredChecker interface {
	IsDelivered(ctx context.Context, itemID string) (bool, error)
}

// Collector pulls candidate items from YouTube channel feeds and custom RSS
// feeds, skipping anything already delivered.
type Collector struct {
	checker  DeliveredChecker
	channels []string
	feedURLs []string
	fetch    rss.FetchFunc
	log      *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithFetchFunc overrides the HTTP fetch used for feeds (for testing).
func WithFetchFunc(fn rss.FetchFunc) Option {
	return func(c *Collector) {
		c.fetch = fn
	}
}

// WithTimeout sets the feed fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		c.fetch = defaultFetchFunc(d)
	}
}

// New creates a collector over the given YouTube channel IDs and RSS feed URLs.
func New(checker DeliveredChecker, channels, feedURLs []string, log *zap.Logger, opts ...Option) *Collector {
	c := &Collector{
		checker:  checker,
		channels: channels,
		feedURLs: feedURLs,
		fetch:    defaultFetchFunc(10 * time.Second),
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultFetchFunc(timeout time.Duration) rss.FetchFunc {
	client := &http.Client{Timeout: timeout}
	return func(url string) (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; PulseAgent/1.0)")
		return client.Do(req)
	}
}

// YouTube returns new (unseen) videos from the subscribed channels.
func (c *Collector) YouTube(ctx context.Context) []model.Item {
	urls := make([]string, 0, len(c.channels))
	for _, id := range c.channels {
		if id = strings.TrimSpace(id); id != "" {
			urls = append(urls, fmt.Sprintf(youtubeFeedURL, id))
		}
	}

	items := c.collect(ctx, urls, videosPerChannel, model.SourceYouTube)
	c.log.Info("youtube feeds checked", zap.Int("new_videos", len(items)))
	return items
}

// Articles returns new (unseen) entries from the custom RSS feeds.
func (c *Collector) Articles(ctx context.Context) []model.Item {
	urls := make([]string, 0, len(c.feedURLs))
	for _, u := range c.feedURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}

	items := c.collect(ctx, urls, articlesPerFeed, model.SourceRSS)
	c.log.Info("rss feeds checked", zap.Int("new_articles", len(items)))
	return items
}

// collect fetches every feed concurrently. A failing feed is logged and
// skipped; it never aborts the run.
func (c *Collector) collect(ctx context.Context, urls []string, perFeed int, sourceType string) []model.Item {
	var (
		mu    sync.Mutex
		items []model.Item
		wg    sync.WaitGroup
	)

	for _, feedURL := range urls {
		wg.Add(1)

		go func(feedURL string) {
			defer wg.Done()

			found, err := c.collectFeed(ctx, feedURL, perFeed, sourceType)
			if err != nil {
				c.log.Warn("feed fetch failed", zap.String("url", feedURL), zap.Error(err))
				return
			}

			mu.Lock()
			items = append(items, found...)
			mu.Unlock()
		}(feedURL)
	}

	wg.Wait()
	return items
}

func (c *Collector) collectFeed(ctx context.Context, feedURL string, perFeed int, sourceType string) ([]model.Item, error) {
	feed, err := rss.FetchByFunc(c.fetch, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	source := feed.Title
	if source == "" {
		source = feedURL
	}

	var items []model.Item
	for i, entry := range feed.Items {
		if i >= perFeed {
			break
		}

		link := entry.Link
		if link == "" {
			link = entry.ID
		}
		if link == "" || entry.Title == "" {
			continue
		}

		delivered, err := c.checker.IsDelivered(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("check delivered: %w", err)
		}
		if delivered {
			continue
		}

		items = append(items, model.Item{
			ID:         link,
			Title:      entry.Title,
			URL:        link,
			Snippet:    entry.Summary,
			Source:     source,
			SourceType: sourceType,
			Published:  entry.Date,
		})
	}

	return items, nil
}
