package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Sag21/PulseAgent/format"
)

const otherCategoryData = "cat_OTHER"

// Messenger sends messages and keyboards to a chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) error
	AckCallback(ctx context.Context, callbackID string) error
}

// Pipeline exposes the on-demand collection operations.
type Pipeline interface {
	BreakingCheck(ctx context.Context) (int, error)
	FetchNow(ctx context.Context) []string
	DaySummary(ctx context.Context) ([]string, error)
	PendingCount(ctx context.Context) (int, error)
}

// TopicSummarizer generates an on-demand overview for a free-form topic.
type TopicSummarizer interface {
	SummarizeTopic(ctx context.Context, topic string) string
}

// Authorizer decides which users may talk to the bot.
type Authorizer interface {
	Allowed(userID int64) bool
}

// ScheduleInfo reports the next run time per scheduled job.
type ScheduleInfo interface {
	NextRuns() map[string]time.Time
}

// Handler dispatches incoming Telegram updates to commands and menu actions.
type Handler struct {
	messenger  Messenger
	pipeline   Pipeline
	summarizer TopicSummarizer
	auth       Authorizer
	sched      ScheduleInfo
	categories []string
	loc        *time.Location
	now        func() time.Time
	log        *zap.Logger

	mu       sync.Mutex
	awaiting map[int64]bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithScheduleInfo lets the status command report next job runs.
func WithScheduleInfo(s ScheduleInfo) Option {
	return func(h *Handler) { h.sched = s }
}

// WithNow overrides the clock (for tests).
func WithNow(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates the update handler.
func NewHandler(messenger Messenger, pipeline Pipeline, summarizer TopicSummarizer,
	auth Authorizer, categories []string, loc *time.Location, log *zap.Logger,
	opts ...Option) *Handler {

	h := &Handler{
		messenger:  messenger,
		pipeline:   pipeline,
		summarizer: summarizer,
		auth:       auth,
		categories: categories,
		loc:        loc,
		now:        time.Now,
		log:        log,
		awaiting:   make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleUpdate routes one incoming update. Unauthorized users get a short
// refusal; unknown content is ignored.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if !h.auth.Allowed(cb.From.ID) {
			return h.messenger.AckCallback(ctx, cb.ID)
		}
		if err := h.messenger.AckCallback(ctx, cb.ID); err != nil {
			h.log.Warn("callback ack failed", zap.Error(err))
		}
		return h.handleCallback(ctx, cb.Message.Chat.ID, cb.Data)

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil {
			return nil
		}
		if !h.auth.Allowed(msg.From.ID) {
			return h.messenger.Send(ctx, msg.Chat.ID,
				format.EscapeMarkdown("You are not authorized to use this bot."))
		}
		if msg.IsCommand() {
			return h.handleCommand(ctx, msg.Chat.ID, msg.Command())
		}
		return h.handleText(ctx, msg.Chat.ID, msg.Text)
	}

	return nil
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, command string) error {
	switch command {
	case "start":
		return h.sendWelcome(ctx, chatID)
	case "menu":
		return h.sendMenu(ctx, chatID)
	case "status":
		return h.sendStatus(ctx, chatID)
	case "fetch_now":
		return h.runFetchNow(ctx, chatID)
	case "day_summary":
		return h.sendDaySummary(ctx, chatID)
	default:
		return h.messenger.Send(ctx, chatID,
			format.EscapeMarkdown("Unknown command. Try /menu."))
	}
}

func (h *Handler) handleCallback(ctx context.Context, chatID int64, data string) error {
	switch {
	case data == "menu_category":
		return h.sendCategoryKeyboard(ctx, chatID)
	case data == "menu_breaking":
		return h.runBreakingCheck(ctx, chatID)
	case data == "menu_status":
		return h.sendStatus(ctx, chatID)
	case data == "menu_day_summary":
		return h.sendDaySummary(ctx, chatID)
	case data == "menu_help":
		return h.sendHelp(ctx, chatID)
	case data == otherCategoryData:
		h.setAwaiting(chatID, true)
		return h.messenger.Send(ctx, chatID,
			format.EscapeMarkdown("Type the topic you want an update on:"))
	case strings.HasPrefix(data, "cat_"):
		return h.sendTopicUpdate(ctx, chatID, strings.TrimPrefix(data, "cat_"))
	default:
		h.log.Warn("unknown callback", zap.String("data", data))
		return nil
	}
}

// handleText consumes a free-form topic if the chat was asked for one,
// otherwise nudges toward the menu.
func (h *Handler) handleText(ctx context.Context, chatID int64, text string) error {
	if h.takeAwaiting(chatID) {
		topic := strings.TrimSpace(text)
		if topic == "" {
			return h.messenger.Send(ctx, chatID,
				format.EscapeMarkdown("That doesn't look like a topic. Try /menu again."))
		}
		return h.sendTopicUpdate(ctx, chatID, topic)
	}

	return h.messenger.Send(ctx, chatID,
		format.EscapeMarkdown("Use /menu to see what I can do."))
}

func (h *Handler) sendWelcome(ctx context.Context, chatID int64) error {
	msg := "👋 *Welcome to Pulse Agent\\!*\n\n" +
		"I watch your feeds and news sources, send breaking news instantly and " +
		"deliver a digest every evening\\.\n\n" +
		"Commands:\n" +
		"/menu \\- Interactive menu\n" +
		"/status \\- Agent status\n" +
		"/fetch\\_now \\- Collect and send updates now\n" +
		"/day\\_summary \\- Everything collected today"
	return h.messenger.Send(ctx, chatID, msg)
}

func (h *Handler) sendHelp(ctx context.Context, chatID int64) error {
	msg := "ℹ️ *How it works*\n\n" +
		"• Breaking news is checked every half hour and sent immediately\\.\n" +
		"• YouTube channels and news feeds are collected hourly\\.\n" +
		"• Non\\-urgent items are saved for the evening digest\\.\n" +
		"• Market news arrives as a morning briefing\\.\n\n" +
		"Use /menu for on\\-demand updates\\."
	return h.messenger.Send(ctx, chatID, msg)
}

func (h *Handler) sendMenu(ctx context.Context, chatID int64) error {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔍 Category Update", "menu_category"),
			tgbotapi.NewInlineKeyboardButtonData("🚨 Breaking Check", "menu_breaking"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Status", "menu_status"),
			tgbotapi.NewInlineKeyboardButtonData("📝 Day Summary", "menu_day_summary"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❓ Help", "menu_help"),
		),
	)
	return h.messenger.SendKeyboard(ctx, chatID,
		format.EscapeMarkdown("What would you like?"), kb)
}

// sendCategoryKeyboard lays out the configured categories two per row, plus a
// free-form option.
func (h *Handler) sendCategoryKeyboard(ctx context.Context, chatID int64) error {
	var rows [][]tgbotapi.InlineKeyboardButton

	for i := 0; i < len(h.categories); i += 2 {
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(h.categories[i], "cat_"+h.categories[i]),
		}
		if i+1 < len(h.categories) {
			row = append(row,
				tgbotapi.NewInlineKeyboardButtonData(h.categories[i+1], "cat_"+h.categories[i+1]))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✍️ Other - Type your own", otherCategoryData)))

	return h.messenger.SendKeyboard(ctx, chatID,
		format.EscapeMarkdown("Pick a category:"),
		tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (h *Handler) sendTopicUpdate(ctx context.Context, chatID int64, topic string) error {
	if err := h.messenger.Send(ctx, chatID,
		format.EscapeMarkdown(fmt.Sprintf("Looking up '%s'...", topic))); err != nil {
		return err
	}

	content := h.summarizer.SummarizeTopic(ctx, topic)
	return h.messenger.Send(ctx, chatID,
		format.CategoryUpdate(topic, content, h.now().In(h.loc)))
}

func (h *Handler) runBreakingCheck(ctx context.Context, chatID int64) error {
	if err := h.messenger.Send(ctx, chatID,
		format.EscapeMarkdown("Checking for breaking news...")); err != nil {
		return err
	}

	sent, err := h.pipeline.BreakingCheck(ctx)
	if err != nil {
		h.log.Warn("breaking check failed", zap.Error(err))
		return h.messenger.Send(ctx, chatID,
			format.EscapeMarkdown("Breaking news check failed. Try again later."))
	}
	if sent == 0 {
		return h.messenger.Send(ctx, chatID,
			format.EscapeMarkdown("No breaking news right now. ✅"))
	}
	return h.messenger.Send(ctx, chatID,
		format.EscapeMarkdown(fmt.Sprintf("Sent %d breaking alert(s). 🚨", sent)))
}

func (h *Handler) runFetchNow(ctx context.Context, chatID int64) error {
	if err := h.messenger.Send(ctx, chatID,
		format.EscapeMarkdown("Fetching updates from all sources, this can take a moment...")); err != nil {
		return err
	}

	messages := h.pipeline.FetchNow(ctx)
	if len(messages) == 0 {
		return h.messenger.Send(ctx, chatID,
			format.EscapeMarkdown("Nothing new since the last check. ✅"))
	}

	for _, msg := range messages {
		if err := h.messenger.Send(ctx, chatID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) sendDaySummary(ctx context.Context, chatID int64) error {
	messages, err := h.pipeline.DaySummary(ctx)
	if err != nil {
		h.log.Warn("day summary failed", zap.Error(err))
		return h.messenger.Send(ctx, chatID,
			format.EscapeMarkdown("Could not load today's items. Try again later."))
	}
	if len(messages) == 0 {
		return h.messenger.Send(ctx, chatID,
			format.EscapeMarkdown("Nothing collected today yet."))
	}

	for _, msg := range messages {
		if err := h.messenger.Send(ctx, chatID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) sendStatus(ctx context.Context, chatID int64) error {
	pending, err := h.pipeline.PendingCount(ctx)
	if err != nil {
		h.log.Warn("pending count failed", zap.Error(err))
	}

	now := h.now().In(h.loc)
	var sb strings.Builder
	fmt.Fprintf(&sb, "🤖 *Pulse Agent Status*\n")
	fmt.Fprintf(&sb, "🕐 %s\n\n", format.EscapeMarkdown(now.Format("15:04, Mon 02 Jan")))
	fmt.Fprintf(&sb, "📥 Items queued for digest: %d\n", pending)

	if h.sched != nil {
		runs := h.sched.NextRuns()
		names := make([]string, 0, len(runs))
		for name := range runs {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString("\n⏰ Next runs:\n")
		for _, name := range names {
			at := runs[name]
			if at.IsZero() {
				continue
			}
			fmt.Fprintf(&sb, "• %s: %s\n",
				format.EscapeMarkdown(name),
				format.EscapeMarkdown(at.In(h.loc).Format("15:04")))
		}
	}

	return h.messenger.Send(ctx, chatID, sb.String())
}

func (h *Handler) setAwaiting(chatID int64, v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.awaiting[chatID] = v
}

func (h *Handler) takeAwaiting(chatID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.awaiting[chatID]
	delete(h.awaiting, chatID)
	return v
}
