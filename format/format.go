package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/Sag21/PulseAgent/model"
)

const (
	// Telegram caps messages at 4096 chars; chunk below that with headroom.
	maxChunkLen = 3800

	itemsPerCategory = 3
	marketItems      = 5
)

const markdownSpecials = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdown escapes Telegram MarkdownV2 special characters.
func EscapeMarkdown(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(markdownSpecials, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// StripMarkdown removes escape backslashes, for the plain-text resend path
// when a MarkdownV2 send is rejected.
func StripMarkdown(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '\\' && i+1 < len(text) {
			continue
		}
		sb.WriteByte(text[i])
	}
	return sb.String()
}

// BreakingNews renders an immediate breaking-news alert.
func BreakingNews(item model.SummarizedItem, now time.Time) string {
	return fmt.Sprintf(
		"🚨 *BREAKING NEWS* 🚨\n"+
			"🕐 %s\n\n"+
			"*%s*\n\n"+
			"%s\n\n"+
			"📡 Source: %s\n"+
			"🔗 [Read Full Story](%s)",
		EscapeMarkdown(now.Format("15:04")),
		EscapeMarkdown(item.Title),
		EscapeMarkdown(item.Summary.Text),
		EscapeMarkdown(item.Source),
		item.URL,
	)
}

// YouTubeUpdate renders a new-video notification.
func YouTubeUpdate(item model.SummarizedItem) string {
	return fmt.Sprintf(
		"📺 *New YouTube Video*\n"+
			"Channel: %s\n"+
			"Category: %s\n\n"+
			"*%s*\n\n"+
			"%s\n\n"+
			"🔗 [Watch Video](%s)",
		EscapeMarkdown(item.Source),
		EscapeMarkdown(item.Summary.Category),
		EscapeMarkdown(item.Title),
		EscapeMarkdown(item.Summary.Text),
		item.URL,
	)
}

// EveningDigest renders the digest grouped by category, chunked so no message
// exceeds the transport limit.
func EveningDigest(items []model.SummarizedItem, now time.Time) []string {
	if len(items) == 0 {
		return []string{"📭 No new updates collected today\\. Check back tomorrow\\!"}
	}

	grouped := lo.GroupBy(items, func(it model.SummarizedItem) string {
		if it.Summary.Category == "" {
			return model.DefaultCategory
		}
		return it.Summary.Category
	})

	categories := lo.Keys(grouped)
	sort.Strings(categories)

	dateStr := EscapeMarkdown(now.Format("Monday, 02 January 2006"))
	header := fmt.Sprintf("📰 *PULSE AGENT — EVENING DIGEST*\n%s\n%s\n\n",
		dateStr, strings.Repeat("\\=", 30))

	var messages []string
	current := header

	for _, category := range categories {
		section := renderCategorySection(category, grouped[category])

		if len(current)+len(section) > maxChunkLen {
			messages = append(messages, current)
			current = section
		} else {
			current += section
		}
	}

	return append(messages, current)
}

func renderCategorySection(category string, items []model.SummarizedItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🏷️ *%s*\n", EscapeMarkdown(category))

	for _, item := range items[:min(len(items), itemsPerCategory)] {
		fmt.Fprintf(&sb, "\n• *%s*\n  %s\n  🔗 [Read more](%s)\n",
			EscapeMarkdown(truncate(item.Title, 80)),
			EscapeMarkdown(truncate(firstLine(item.Summary.Text), 120)),
			item.URL,
		)
	}

	sb.WriteString("\n")
	return sb.String()
}

// MorningMarket renders the morning stock and market briefing.
func MorningMarket(items []model.SummarizedItem, now time.Time) string {
	dateStr := EscapeMarkdown(now.Format("Monday, 02 January 2006"))

	if len(items) == 0 {
		return fmt.Sprintf(
			"📈 *MORNING MARKET BRIEFING*\n%s\n\n"+
				"No market updates collected\\. Markets may be closed today\\.",
			dateStr)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📈 *MORNING MARKET BRIEFING*\n%s\n%s\n\n",
		dateStr, strings.Repeat("\\=", 30))

	for _, item := range items[:min(len(items), marketItems)] {
		fmt.Fprintf(&sb, "• *%s*\n  %s\n  🔗 [More](%s)\n\n",
			EscapeMarkdown(truncate(item.Title, 80)),
			EscapeMarkdown(truncate(firstLine(item.Summary.Text), 120)),
			item.URL,
		)
	}

	return sb.String()
}

// CategoryUpdate renders an on-demand topic overview.
func CategoryUpdate(category, content string, now time.Time) string {
	return fmt.Sprintf(
		"🔍 *Category Update: %s*\n"+
			"🕐 %s\n\n"+
			"%s",
		EscapeMarkdown(category),
		EscapeMarkdown(now.Format("15:04, 02 Jan")),
		EscapeMarkdown(content),
	)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate cuts to n characters, never mid-rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
