package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Sag21/PulseAgent/model"
)

var testCategories = []string{"World News", "Technology", "Stock & Market"}

func completionJSON(content string) []byte {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return b
}

func newTestSummarizer(t *testing.T, handler http.HandlerFunc) *Summarizer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewSummarizer("unused", testCategories, zap.NewNop(),
		WithBaseURL("test-key", srv.URL+"/v1"),
		WithPacing(0, 0),
		WithRetryDelay(0),
	)
}

func TestParseResponse(t *testing.T) {
	raw := `SUMMARY:
• First key point
• Second key point
CATEGORY: Technology
BREAKING: false`

	got := parseResponse(raw, "Fallback Title")
	if got.Text != "• First key point\n• Second key point" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Category != "Technology" {
		t.Errorf("Category = %q", got.Category)
	}
	if got.Breaking {
		t.Error("Breaking should be false")
	}
}

func TestParseResponseMissingCategory(t *testing.T) {
	raw := `SUMMARY:
• Only point
BREAKING: true`

	got := parseResponse(raw, "Fallback Title")
	if got.Category != model.DefaultCategory {
		t.Errorf("Category = %q, want default %q", got.Category, model.DefaultCategory)
	}
	if !got.Breaking {
		t.Error("Breaking should be true")
	}
}

func TestParseResponseEmptyFallsBackToTitle(t *testing.T) {
	got := parseResponse("", "Some Title")
	if !strings.Contains(got.Text, "Some Title") {
		t.Errorf("Text = %q, want title fallback", got.Text)
	}
}

func TestSummarizeItemViaService(t *testing.T) {
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "Article Title: Rates cut") {
			t.Errorf("unexpected prompt: %+v", req.Messages)
		}
		w.Write(completionJSON("SUMMARY:\n• Central bank cut rates\nCATEGORY: Stock & Market\nBREAKING: false"))
	})

	got := s.SummarizeItem(context.Background(), model.Item{
		ID: "u1", Title: "Rates cut", URL: "https://e.com/rates", Snippet: "desc",
		SourceType: model.SourceNews,
	})
	if got.Category != "Stock & Market" {
		t.Errorf("Category = %q", got.Category)
	}
	if got.Text != "• Central bank cut rates" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestSummarizeItemOutageFallback(t *testing.T) {
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	got := s.SummarizeItem(context.Background(), model.Item{
		ID: "u1", Title: "Stock market rally continues", Snippet: "Shares climbed again today.",
	})
	if got.Text == "" {
		t.Fatal("fallback summary must be non-empty")
	}
	if !strings.HasPrefix(got.Text, "•") {
		t.Errorf("Text = %q, want snippet-derived bullet", got.Text)
	}
	if got.Category != "Stock & Market" {
		t.Errorf("Category = %q, want keyword guess", got.Category)
	}
}

func TestObserverSeesOutcomes(t *testing.T) {
	var outcomes []string
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionJSON("SUMMARY:\n• Point\nCATEGORY: Science\nBREAKING: false"))
	})
	WithObserver(func(outcome string) { outcomes = append(outcomes, outcome) })(s)

	s.SummarizeItem(context.Background(), model.Item{Title: "Served"})

	outage := NewSummarizer("", testCategories, zap.NewNop(),
		WithPacing(0, 0), WithRetryDelay(0),
		WithObserver(func(outcome string) { outcomes = append(outcomes, outcome) }))
	outage.SummarizeItem(context.Background(), model.Item{Title: "Dropped"})

	want := []string{"llm", "fallback"}
	if len(outcomes) != 2 || outcomes[0] != want[0] || outcomes[1] != want[1] {
		t.Errorf("outcomes = %v, want %v", outcomes, want)
	}
}

func TestSummarizeItemWithoutClient(t *testing.T) {
	s := NewSummarizer("", testCategories, zap.NewNop(), WithPacing(0, 0), WithRetryDelay(0))

	got := s.SummarizeItem(context.Background(), model.Item{Title: "Plain headline"})
	if got.Text == "" {
		t.Fatal("fallback summary must be non-empty")
	}
	if got.Category != model.DefaultCategory {
		t.Errorf("Category = %q", got.Category)
	}
}

func TestModelVerdictDowngradesPreflagged(t *testing.T) {
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionJSON("SUMMARY:\n• Something happened\nCATEGORY: World News\nBREAKING: false"))
	})

	got := s.SummarizeItem(context.Background(), model.Item{
		ID: "u1", Title: "BREAKING: quake", Breaking: true,
	})
	if got.Breaking {
		t.Error("explicit BREAKING: false must downgrade a keyword pre-flagged item")
	}
}

func TestFallbackKeepsPreflaggedBreaking(t *testing.T) {
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	got := s.SummarizeItem(context.Background(), model.Item{
		ID: "u1", Title: "BREAKING: quake", Breaking: true,
	})
	if !got.Breaking {
		t.Error("without a model verdict the keyword pre-flag must stand")
	}
}

func TestBatchPausesEveryFifthItem(t *testing.T) {
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionJSON("SUMMARY:\n• ok\nCATEGORY: Technology\nBREAKING: false"))
	})

	var pauses int
	s.sleep = func(time.Duration) { pauses++ }

	items := make([]model.Item, 7)
	for i := range items {
		items[i] = model.Item{ID: "x", Title: "t"}
	}

	out := s.Batch(context.Background(), items)
	if len(out) != 7 {
		t.Fatalf("Batch returned %d items, want 7", len(out))
	}
	if pauses != 1 {
		t.Errorf("pauses = %d, want 1 (after the fifth item)", pauses)
	}
}

func TestFallbackTruncatesOnRuneBoundary(t *testing.T) {
	s := NewSummarizer("", testCategories, zap.NewNop(), WithPacing(0, 0), WithRetryDelay(0))

	got := s.SummarizeItem(context.Background(), model.Item{
		Title:   "Headline",
		Snippet: strings.Repeat("ü", 300),
	})
	if !utf8.ValidString(got.Text) {
		t.Fatalf("fallback text is not valid UTF-8: %q", got.Text)
	}
}

func TestSummarizeTopicFallbackString(t *testing.T) {
	s := NewSummarizer("", testCategories, zap.NewNop(), WithPacing(0, 0), WithRetryDelay(0))

	got := s.SummarizeTopic(context.Background(), "Formula 1")
	if !strings.Contains(got, "Formula 1") {
		t.Errorf("fallback string should mention the topic, got %q", got)
	}
}
