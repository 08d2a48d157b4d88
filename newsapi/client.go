package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sag21/PulseAgent/model"
)

const defaultBaseURL = "https://newsapi.org"

// Categories supported by the aggregation API's top-headlines endpoint.
var apiCategories = []string{
	"general", "technology", "sports", "entertainment",
	"business", "health", "science",
}

// Article is one article as returned by the API.
type Article struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

type headlinesResponse struct {
	Status   string    `json:"status"`
	Articles []Article `json:"articles"`
}

// Client provides access to the news aggregation HTTP API. A client with an
// empty API key is valid; every call then returns no items.
type Client struct {
	apiKey           string
	country          string
	baseURL          string
	breakingKeywords []string
	httpClient       *http.Client
	log              *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithCountry sets the country filter for top headlines.
func WithCountry(country string) Option {
	return func(c *Client) {
		c.country = country
	}
}

// NewClient creates a news API client. breakingKeywords drive both the
// breaking-candidate query and the title filter applied to its results.
func NewClient(apiKey string, breakingKeywords []string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:           apiKey,
		country:          "in",
		baseURL:          defaultBaseURL,
		breakingKeywords: breakingKeywords,
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		log:              log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TopHeadlines fetches top headlines for one category.
func (c *Client) TopHeadlines(ctx context.Context, category string, pageSize int) ([]model.Item, error) {
	if c.apiKey == "" {
		c.log.Warn("no news API key set, skipping headlines", zap.String("category", category))
		return nil, nil
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("category", strings.ToLower(category))
	params.Set("country", c.country)
	params.Set("pageSize", strconv.Itoa(pageSize))

	articles, err := c.get(ctx, "/v2/top-headlines", params)
	if err != nil {
		return nil, fmt.Errorf("top headlines %s: %w", category, err)
	}

	return c.toItems(articles, model.SourceNews, category, false), nil
}

// AllCategories fetches top headlines for every supported category. A failing
// category is logged and skipped.
func (c *Client) AllCategories(ctx context.Context) []model.Item {
	var items []model.Item
	for _, cat := range apiCategories {
		found, err := c.TopHeadlines(ctx, cat, 10)
		if err != nil {
			c.log.Warn("category fetch failed", zap.String("category", cat), zap.Error(err))
			continue
		}
		items = append(items, found...)
	}
	return items
}

// BreakingCandidates searches recent articles for breaking-news keywords.
// Only articles whose title actually contains a keyword are returned, already
// flagged breaking.
func (c *Client) BreakingCandidates(ctx context.Context) ([]model.Item, error) {
	if c.apiKey == "" {
		return nil, nil
	}

	// The API caps query length, so only the leading keywords go in the query;
	// the title filter below applies the full list.
	query := c.breakingKeywords
	if len(query) > 6 {
		query = query[:6]
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("q", strings.Join(query, " OR "))
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", "15")
	params.Set("language", "en")

	articles, err := c.get(ctx, "/v2/everything", params)
	if err != nil {
		return nil, fmt.Errorf("breaking candidates: %w", err)
	}

	var matched []Article
	for _, a := range articles {
		if c.titleHasKeyword(a.Title) {
			matched = append(matched, a)
		}
	}

	items := c.toItems(matched, model.SourceBreaking, "", true)
	c.log.Info("breaking candidates found", zap.Int("count", len(items)))
	return items, nil
}

func (c *Client) titleHasKeyword(title string) bool {
	title = strings.ToLower(title)
	for _, kw := range c.breakingKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]Article, error) {
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var decoded headlinesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return decoded.Articles, nil
}

func (c *Client) toItems(articles []Article, sourceType, categoryHint string, breaking bool) []model.Item {
	var items []model.Item
	for _, a := range articles {
		if a.URL == "" || a.Title == "" {
			continue
		}

		source := a.Source.Name
		if source == "" {
			source = "NewsAPI"
		}

		published, _ := time.Parse(time.RFC3339, a.PublishedAt)

		items = append(items, model.Item{
			ID:           a.URL,
			Title:        a.Title,
			URL:          a.URL,
			Snippet:      a.Description,
			Source:       source,
			SourceType:   sourceType,
			CategoryHint: categoryHint,
			Published:    published,
			Breaking:     breaking,
		})
	}
	return items
}
