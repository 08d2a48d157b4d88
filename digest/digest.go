package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Sag21/PulseAgent/format"
	"github.com/Sag21/PulseAgent/metrics"
	"github.com/Sag21/PulseAgent/model"
	"github.com/Sag21/PulseAgent/storage"
)

// Store is the subset of the database the pipeline needs.
type Store interface {
	IsDelivered(ctx context.Context, itemID string) (bool, error)
	MarkDelivered(ctx context.Context, itemID, sourceType, title string, isBreaking bool) error
	Enqueue(ctx context.Context, e *storage.QueueEntry) error
	Pending(ctx context.Context) ([]storage.QueueEntry, error)
	PendingCount(ctx context.Context) (int, error)
	MarkSent(ctx context.Context, itemIDs []string) error
	Prune(ctx context.Context, days int) error
	TodaysItems(ctx context.Context, loc *time.Location) ([]storage.QueueEntry, error)
}

// FeedCollector pulls new items from YouTube channels and RSS feeds.
// Implementations are expected to have filtered delivered items already.
type FeedCollector interface {
	YouTube(ctx context.Context) []model.Item
	Articles(ctx context.Context) []model.Item
}

// NewsClient pulls headlines from the news API.
type NewsClient interface {
	TopHeadlines(ctx context.Context, category string, pageSize int) ([]model.Item, error)
	AllCategories(ctx context.Context) []model.Item
	BreakingCandidates(ctx context.Context) ([]model.Item, error)
}

// Summarizer produces summaries and classifications for a batch of items.
type Summarizer interface {
	Batch(ctx context.Context, items []model.Item) []model.SummarizedItem
}

// Sender delivers a message to every configured user.
type Sender interface {
	Broadcast(ctx context.Context, text string) error
}

// Snippeter extracts readable article text for items whose feed carried none.
type Snippeter interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// Runner wires collectors, the summarizer, storage and the sender into the
// scheduled jobs. Breaking items go straight to chat; everything else joins
// the digest queue for the evening flush.
type Runner struct {
	store      Store
	feeds      FeedCollector
	news       NewsClient
	summarizer Summarizer
	sender     Sender
	snippets   Snippeter
	metrics    *metrics.Metrics
	loc        *time.Location
	retention  int
	now        func() time.Time
	log        *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithNews attaches the news API client. Without it the news collector and
// breaking check become no-ops.
func WithNews(n NewsClient) Option {
	return func(r *Runner) { r.news = n }
}

// WithSnippets attaches the article extractor used to fill empty snippets
// before summarization.
func WithSnippets(s Snippeter) Option {
	return func(r *Runner) { r.snippets = s }
}

// WithMetrics attaches the metrics instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRetention sets how many days sent queue entries are kept.
func WithRetention(days int) Option {
	return func(r *Runner) {
		if days > 0 {
			r.retention = days
		}
	}
}

// WithNow overrides the clock (for tests).
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates the pipeline runner.
func NewRunner(store Store, feeds FeedCollector, summarizer Summarizer, sender Sender,
	loc *time.Location, log *zap.Logger, opts ...Option) *Runner {

	r := &Runner{
		store:      store,
		feeds:      feeds,
		summarizer: summarizer,
		sender:     sender,
		loc:        loc,
		retention:  2,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BreakingCheck fetches keyword-matched candidates, summarizes them and sends
// those confirmed breaking straight to chat. Returns how many alerts went out.
func (r *Runner) BreakingCheck(ctx context.Context) (int, error) {
	if r.news == nil {
		return 0, nil
	}

	candidates, err := r.news.BreakingCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch breaking candidates: %w", err)
	}

	candidates = r.filterNew(ctx, candidates)
	r.metrics.RecordCollected(model.SourceBreaking, len(candidates))
	if len(candidates) == 0 {
		return 0, nil
	}

	sent := 0
	for _, item := range r.summarizer.Batch(ctx, candidates) {
		if !item.Summary.Breaking {
			// Keyword hit but the model downgraded it; let the regular
			// news collector pick it up later.
			continue
		}
		if err := r.sendBreaking(ctx, item); err != nil {
			r.log.Warn("breaking alert failed", zap.String("item", item.ID), zap.Error(err))
			continue
		}
		sent++
	}

	r.log.Info("breaking check done", zap.Int("candidates", len(candidates)), zap.Int("sent", sent))
	return sent, nil
}

// YouTubeMonitor collects new videos and routes them: breaking videos go to
// chat immediately, the rest join the digest queue.
func (r *Runner) YouTubeMonitor(ctx context.Context) error {
	items := r.feeds.YouTube(ctx)
	r.metrics.RecordCollected(model.SourceYouTube, len(items))
	if len(items) == 0 {
		return nil
	}

	r.dispatch(ctx, r.summarizer.Batch(ctx, items))
	return nil
}

// NewsCollector collects RSS articles and API headlines, summarizes them and
// routes each item by its breaking flag.
func (r *Runner) NewsCollector(ctx context.Context) error {
	items := r.enrichSnippets(ctx, r.feeds.Articles(ctx))
	r.metrics.RecordCollected(model.SourceRSS, len(items))

	if r.news != nil {
		headlines := r.filterNew(ctx, r.news.AllCategories(ctx))
		r.metrics.RecordCollected(model.SourceNews, len(headlines))
		items = append(items, headlines...)
	}

	if len(items) == 0 {
		r.log.Info("news collection found nothing new")
		return nil
	}

	r.dispatch(ctx, r.summarizer.Batch(ctx, items))
	return nil
}

// EveningDigest flushes the queue: pending entries minus the market category
// are rendered and sent, then every pending entry (market included, those are
// covered by the morning briefing) is marked sent and old rows are pruned.
func (r *Runner) EveningDigest(ctx context.Context) error {
	pending, err := r.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending queue: %w", err)
	}

	ids := lo.Map(pending, func(e storage.QueueEntry, _ int) string { return e.ItemID })
	display := lo.FilterMap(pending, func(e storage.QueueEntry, _ int) (model.SummarizedItem, bool) {
		if e.Category == model.MarketCategory {
			return model.SummarizedItem{}, false
		}
		return entryToItem(e), true
	})

	// Send failures are logged, not returned: the flush must still flip
	// is_sent, or the next digest would repeat chunks that already went out.
	for _, msg := range format.EveningDigest(display, r.now().In(r.loc)) {
		if err := r.sender.Broadcast(ctx, msg); err != nil {
			r.log.Warn("digest send failed", zap.Error(err))
			continue
		}
		r.metrics.RecordSent("digest")
	}

	if err := r.store.MarkSent(ctx, ids); err != nil {
		return fmt.Errorf("mark queue sent: %w", err)
	}
	if err := r.store.Prune(ctx, r.retention); err != nil {
		r.log.Warn("queue prune failed", zap.Error(err))
	}

	r.updateQueueDepth(ctx)
	r.log.Info("evening digest sent", zap.Int("items", len(display)), zap.Int("flushed", len(ids)))
	return nil
}

// MorningMarket fetches fresh business headlines and sends the market
// briefing. The briefing goes out even when nothing was found.
func (r *Runner) MorningMarket(ctx context.Context) error {
	var summarized []model.SummarizedItem

	if r.news != nil {
		items, err := r.news.TopHeadlines(ctx, "business", 10)
		if err != nil {
			return fmt.Errorf("fetch market headlines: %w", err)
		}
		items = r.filterNew(ctx, items)
		r.metrics.RecordCollected(model.SourceNews, len(items))
		summarized = r.summarizer.Batch(ctx, items)
	}

	msg := format.MorningMarket(summarized, r.now().In(r.loc))
	if err := r.sender.Broadcast(ctx, msg); err != nil {
		r.log.Warn("market briefing send failed", zap.Error(err))
	} else {
		r.metrics.RecordSent("market")
	}

	for _, item := range summarized {
		if err := r.store.MarkDelivered(ctx, item.ID, item.SourceType, item.Title, false); err != nil {
			r.log.Warn("mark delivered failed", zap.String("item", item.ID), zap.Error(err))
		}
	}

	r.log.Info("morning market briefing sent", zap.Int("items", len(summarized)))
	return nil
}

// FetchNow runs an on-demand collection across every source and returns the
// rendered messages for direct delivery to the requesting chat. Items are
// marked delivered but never queued.
func (r *Runner) FetchNow(ctx context.Context) []string {
	articles := r.feeds.Articles(ctx)
	if r.news != nil {
		articles = append(articles, r.filterNew(ctx, r.news.AllCategories(ctx))...)
	}
	videos := r.feeds.YouTube(ctx)

	if len(articles) == 0 && len(videos) == 0 {
		return nil
	}

	var messages []string

	if len(articles) > 0 {
		summarized := r.summarizer.Batch(ctx, articles)
		messages = append(messages, format.EveningDigest(summarized, r.now().In(r.loc))...)
		for _, item := range summarized {
			r.markDeliveredQuietly(ctx, item)
		}
	}

	if len(videos) > 0 {
		summarized := r.summarizer.Batch(ctx, videos)
		for _, item := range summarized {
			messages = append(messages, format.YouTubeUpdate(item))
			r.markDeliveredQuietly(ctx, item)
		}
	}

	return messages
}

// DaySummary renders everything queued since local midnight, sent or not.
// Articles get the grouped digest layout; videos go out as individual video
// notices.
func (r *Runner) DaySummary(ctx context.Context) ([]string, error) {
	entries, err := r.store.TodaysItems(ctx, r.loc)
	if err != nil {
		return nil, fmt.Errorf("load today's items: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	videos, articles := lo.FilterReject(entries, func(e storage.QueueEntry, _ int) bool {
		return e.SourceType == model.SourceYouTube
	})

	var messages []string
	if len(articles) > 0 {
		items := lo.Map(articles, func(e storage.QueueEntry, _ int) model.SummarizedItem {
			return entryToItem(e)
		})
		messages = append(messages, format.EveningDigest(items, r.now().In(r.loc))...)
	}
	for _, e := range videos {
		messages = append(messages, format.YouTubeUpdate(entryToItem(e)))
	}
	return messages, nil
}

// PendingCount exposes the queue depth for the status command.
func (r *Runner) PendingCount(ctx context.Context) (int, error) {
	return r.store.PendingCount(ctx)
}

// dispatch routes summarized items: breaking ones are sent immediately and
// everything else is queued. Both paths record the item as delivered so no
// later job picks it up again.
func (r *Runner) dispatch(ctx context.Context, items []model.SummarizedItem) {
	for _, item := range items {
		if item.Summary.Breaking {
			if err := r.sendBreaking(ctx, item); err != nil {
				r.log.Warn("immediate delivery failed", zap.String("item", item.ID), zap.Error(err))
			}
			continue
		}

		err := r.store.Enqueue(ctx, &storage.QueueEntry{
			ItemID:     item.ID,
			Title:      item.Title,
			Summary:    item.Summary.Text,
			Category:   item.Summary.Category,
			SourceURL:  item.URL,
			SourceType: item.SourceType,
		})
		if err != nil {
			r.log.Warn("enqueue failed", zap.String("item", item.ID), zap.Error(err))
			continue
		}
		r.markDeliveredQuietly(ctx, item)
	}

	r.updateQueueDepth(ctx)
}

// sendBreaking delivers one breaking item immediately and records it.
func (r *Runner) sendBreaking(ctx context.Context, item model.SummarizedItem) error {
	var msg string
	if item.SourceType == model.SourceYouTube {
		msg = format.YouTubeUpdate(item)
	} else {
		msg = format.BreakingNews(item, r.now().In(r.loc))
	}

	if err := r.sender.Broadcast(ctx, msg); err != nil {
		return err
	}

	r.metrics.RecordBreaking()
	r.metrics.RecordSent("breaking")

	if err := r.store.MarkDelivered(ctx, item.ID, item.SourceType, item.Title, true); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// enrichSnippets fills empty snippets by extracting the article body. Failed
// extractions leave the item as-is; the summarizer prompt tolerates that.
func (r *Runner) enrichSnippets(ctx context.Context, items []model.Item) []model.Item {
	if r.snippets == nil {
		return items
	}
	for i, item := range items {
		if item.Snippet != "" {
			continue
		}
		text, err := r.snippets.Extract(ctx, item.URL)
		if err != nil {
			r.log.Debug("snippet extraction failed", zap.String("item", item.ID), zap.Error(err))
			continue
		}
		items[i].Snippet = text
	}
	return items
}

// filterNew drops items already in the delivered ledger. A failed lookup
// keeps the item; a duplicate send beats a silently dropped one.
func (r *Runner) filterNew(ctx context.Context, items []model.Item) []model.Item {
	out := items[:0]
	for _, item := range items {
		delivered, err := r.store.IsDelivered(ctx, item.ID)
		if err != nil {
			r.log.Warn("delivered lookup failed", zap.String("item", item.ID), zap.Error(err))
		}
		if !delivered {
			out = append(out, item)
		}
	}
	return out
}

func (r *Runner) markDeliveredQuietly(ctx context.Context, item model.SummarizedItem) {
	if err := r.store.MarkDelivered(ctx, item.ID, item.SourceType, item.Title, item.Summary.Breaking); err != nil {
		r.log.Warn("mark delivered failed", zap.String("item", item.ID), zap.Error(err))
	}
}

func (r *Runner) updateQueueDepth(ctx context.Context) {
	if count, err := r.store.PendingCount(ctx); err == nil {
		r.metrics.SetQueueDepth(count)
	}
}

func entryToItem(e storage.QueueEntry) model.SummarizedItem {
	return model.SummarizedItem{
		Item: model.Item{
			ID:         e.ItemID,
			Title:      e.Title,
			URL:        e.SourceURL,
			SourceType: e.SourceType,
			Published:  e.CreatedAt,
		},
		Summary: model.Summary{
			Text:     e.Summary,
			Category: e.Category,
		},
	}
}
