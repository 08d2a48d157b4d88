package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Sag21/PulseAgent/model"
)

const (
	defaultModel      = "gpt-4o-mini"
	defaultCallGap    = 3 * time.Second
	defaultBatchPause = 12 * time.Second
	defaultRetryDelay = 10 * time.Second

	batchPauseEvery = 5
	maxSnippetLen   = 500
	retries         = 2
)

// fallbackKeywords maps categories to title/snippet keywords used when the
// language model is unavailable. Checked in order; first match wins.
var fallbackKeywords = []struct {
	category string
	keywords []string
}{
	{"Stock & Market", []string{"stock", "market", "shares", "nifty", "sensex", "trading", "ipo"}},
	{"Technology", []string{"tech", "software", "ai ", "chip", "startup", "app ", "cyber"}},
	{"Business", []string{"business", "economy", "company", "revenue", "merger", "deal"}},
	{"Sports", []string{"match", "cricket", "football", "tournament", "olympic", "league"}},
	{"Science", []string{"research", "study", "scientist", "space", "nasa", "isro"}},
	{"Health", []string{"health", "hospital", "vaccine", "disease", "medical"}},
	{"Politics", []string{"election", "minister", "parliament", "senate", "policy", "vote"}},
	{"Environment", []string{"climate", "wildfire", "pollution", "emission", "wildlife"}},
}

// Summarizer asks the language model to summarize and classify items, pacing
// its calls and falling back to keyword heuristics when the service fails.
type Summarizer struct {
	client     *openai.Client
	model      string
	categories []string
	limiter    *rate.Limiter
	batchPause time.Duration
	retryDelay time.Duration
	sleep      func(time.Duration)
	observe    func(outcome string)
	log        *zap.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithModel sets the model name.
func WithModel(m string) Option {
	return func(s *Summarizer) {
		if m != "" {
			s.model = m
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(apiKey, baseURL string) Option {
	return func(s *Summarizer) {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL
		s.client = openai.NewClientWithConfig(cfg)
	}
}

// WithPacing overrides the fixed gap between calls and the longer pause
// inserted after every fifth item. Zero gap disables pacing (for tests).
func WithPacing(callGap, batchPause time.Duration) Option {
	return func(s *Summarizer) {
		if callGap <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
		} else {
			s.limiter = rate.NewLimiter(rate.Every(callGap), 1)
		}
		s.batchPause = batchPause
	}
}

// WithObserver registers a callback invoked per item with the outcome,
// "llm" or "fallback".
func WithObserver(fn func(outcome string)) Option {
	return func(s *Summarizer) {
		s.observe = fn
	}
}

// WithRetryDelay overrides the fixed delay between retries (for tests).
func WithRetryDelay(d time.Duration) Option {
	return func(s *Summarizer) {
		s.retryDelay = d
	}
}

// NewSummarizer creates a summarizer. An empty API key yields a summarizer
// that always takes the fallback path.
func NewSummarizer(apiKey string, categories []string, log *zap.Logger, opts ...Option) *Summarizer {
	s := &Summarizer{
		model:      defaultModel,
		categories: categories,
		limiter:    rate.NewLimiter(rate.Every(defaultCallGap), 1),
		batchPause: defaultBatchPause,
		retryDelay: defaultRetryDelay,
		sleep:      time.Sleep,
		log:        log,
	}
	if apiKey != "" {
		s.client = openai.NewClient(apiKey)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Batch summarizes items in order with the fixed call pacing. Every item in
// the result carries a non-empty summary; items the service could not handle
// get the fallback.
func (s *Summarizer) Batch(ctx context.Context, items []model.Item) []model.SummarizedItem {
	out := make([]model.SummarizedItem, 0, len(items))

	for i, item := range items {
		s.log.Info("summarizing item",
			zap.Int("n", i+1), zap.Int("total", len(items)),
			zap.String("title", truncate(item.Title, 60)))

		summary := s.SummarizeItem(ctx, item)
		out = append(out, model.SummarizedItem{Item: item, Summary: summary})

		if (i+1)%batchPauseEvery == 0 && i+1 < len(items) {
			s.log.Info("pausing between batches", zap.Duration("pause", s.batchPause))
			s.sleep(s.batchPause)
		}
	}

	return out
}

// SummarizeItem summarizes and classifies one item. It never fails: on
// service errors the keyword fallback supplies the result.
func (s *Summarizer) SummarizeItem(ctx context.Context, item model.Item) model.Summary {
	raw, err := s.call(ctx, s.buildPrompt(item))
	if err != nil {
		s.log.Warn("summarization failed, using fallback",
			zap.String("item", item.ID), zap.Error(err))
		s.record("fallback")
		return s.fallback(item)
	}

	s.record("llm")
	// The model's verdict stands, even for keyword pre-flagged candidates:
	// an explicit BREAKING: false downgrades them to the digest queue.
	return parseResponse(raw, item.Title)
}

// SummarizeTopic generates a short on-demand overview for a user-chosen topic.
func (s *Summarizer) SummarizeTopic(ctx context.Context, topic string) string {
	prompt := fmt.Sprintf(`Provide a brief, 3-5 bullet point overview of the latest developments in: %s

Focus on the most recent and important updates. Be concise and factual.

Format:
📌 Latest in %s:
• [point 1]
• [point 2]
• [point 3]`, topic, topic)

	raw, err := s.call(ctx, prompt)
	if err != nil || strings.TrimSpace(raw) == "" {
		return fmt.Sprintf("Could not fetch updates for '%s' right now.", topic)
	}
	return strings.TrimSpace(raw)
}

// call sends one prompt, retrying a fixed number of times with a fixed delay.
func (s *Summarizer) call(ctx context.Context, prompt string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("no language model configured")
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			s.sleep(s.retryDelay)
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("pacing wait: %w", err)
		}

		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			lastErr = err
			s.log.Warn("language model call failed",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			lastErr = fmt.Errorf("empty completion")
			continue
		}

		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("language model call: %w", lastErr)
}

func (s *Summarizer) buildPrompt(item model.Item) string {
	categories := strings.Join(s.categories, ", ")

	if item.SourceType == model.SourceYouTube {
		return fmt.Sprintf(`You are a concise news summarizer. Analyze this YouTube video and provide:

1. A 3-5 bullet point summary of the key points discussed.
2. The best category from this list: %s
3. Whether this is BREAKING NEWS (true/false) - only true for urgent, time-sensitive events.

Video URL: %s
Video Title: %s

Respond in this EXACT format:
SUMMARY:
• [point 1]
• [point 2]
• [point 3]
CATEGORY: [category name]
BREAKING: [true/false]`, categories, item.URL, item.Title)
	}

	snippet := item.Snippet
	if snippet == "" {
		snippet = "No snippet available."
	}
	snippet = truncate(snippet, maxSnippetLen)

	return fmt.Sprintf(`You are a concise news summarizer. Based on the article details below, provide:

1. A 2-4 bullet point summary of the key points.
2. The best category from: %s
3. Whether this is BREAKING NEWS (true/false) - only for urgent/critical events.

Article Title: %s
Article URL: %s
Snippet: %s

Respond in this EXACT format:
SUMMARY:
• [point 1]
• [point 2]
CATEGORY: [category name]
BREAKING: [true/false]`, categories, item.Title, item.URL, snippet)
}

// parseResponse extracts the three fields from the semi-structured reply by
// literal prefix matching. Anything missing keeps its default.
func parseResponse(raw, fallbackTitle string) model.Summary {
	result := model.Summary{
		Text:     "📄 " + fallbackTitle,
		Category: model.DefaultCategory,
	}

	var (
		bullets   []string
		inSummary bool
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SUMMARY:"):
			inSummary = true
		case strings.HasPrefix(line, "CATEGORY:"):
			inSummary = false
			if cat := strings.TrimSpace(strings.TrimPrefix(line, "CATEGORY:")); cat != "" {
				result.Category = cat
			}
		case strings.HasPrefix(line, "BREAKING:"):
			inSummary = false
			val := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "BREAKING:")))
			result.Breaking = val == "true"
		case inSummary && strings.HasPrefix(line, "•"):
			bullets = append(bullets, line)
		}
	}

	if len(bullets) > 0 {
		result.Text = strings.Join(bullets, "\n")
	}

	return result
}

// fallback produces a summary without the language model: a keyword-matched
// category guess and a snippet-derived bullet.
func (s *Summarizer) fallback(item model.Item) model.Summary {
	category := guessCategory(item.Title + " " + item.Snippet)

	text := item.Snippet
	if text == "" {
		text = item.Title
	}

	return model.Summary{
		Text:     "• " + truncate(strings.TrimSpace(text), 200),
		Category: category,
		Breaking: item.Breaking,
	}
}

func (s *Summarizer) record(outcome string) {
	if s.observe != nil {
		s.observe(outcome)
	}
}

func guessCategory(text string) string {
	text = strings.ToLower(text)
	for _, fc := range fallbackKeywords {
		for _, kw := range fc.keywords {
			if strings.Contains(text, kw) {
				return fc.category
			}
		}
	}
	return model.DefaultCategory
}

// truncate cuts to n characters, never mid-rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
