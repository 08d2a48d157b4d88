package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var testTime = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

type mockMessenger struct {
	sent      []string
	keyboards []tgbotapi.InlineKeyboardMarkup
	acked     []string
}

func (m *mockMessenger) Send(_ context.Context, _ int64, text string) error {
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockMessenger) SendKeyboard(_ context.Context, _ int64, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	m.sent = append(m.sent, text)
	m.keyboards = append(m.keyboards, kb)
	return nil
}

func (m *mockMessenger) AckCallback(_ context.Context, id string) error {
	m.acked = append(m.acked, id)
	return nil
}

type mockPipeline struct {
	breaking      int
	fetchMessages []string
	dayMessages   []string
	pending       int
	breakingCalls int
	fetchCalls    int
}

func (m *mockPipeline) BreakingCheck(context.Context) (int, error) {
	m.breakingCalls++
	return m.breaking, nil
}

func (m *mockPipeline) FetchNow(context.Context) []string {
	m.fetchCalls++
	return m.fetchMessages
}

func (m *mockPipeline) DaySummary(context.Context) ([]string, error) {
	return m.dayMessages, nil
}

func (m *mockPipeline) PendingCount(context.Context) (int, error) {
	return m.pending, nil
}

type mockTopics struct {
	topics []string
}

func (m *mockTopics) SummarizeTopic(_ context.Context, topic string) string {
	m.topics = append(m.topics, topic)
	return "• Latest on " + topic
}

type allowAll struct{}

func (allowAll) Allowed(int64) bool { return true }

type denyAll struct{}

func (denyAll) Allowed(int64) bool { return false }

func newTestHandler(m *mockMessenger, p *mockPipeline, auth Authorizer, opts ...Option) *Handler {
	opts = append(opts, WithNow(func() time.Time { return testTime }))
	return NewHandler(m, p, &mockTopics{}, auth,
		[]string{"Technology", "Science", "Sports"}, time.UTC, zap.NewNop(), opts...)
}

func commandUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		From:     &tgbotapi.User{ID: 1},
		Chat:     &tgbotapi.Chat{ID: 1},
	}}
}

func textUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1},
	}}
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		From:    &tgbotapi.User{ID: 1},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}},
	}}
}

func TestStartCommand(t *testing.T) {
	m := &mockMessenger{}
	h := newTestHandler(m, &mockPipeline{}, allowAll{})

	if err := h.HandleUpdate(context.Background(), commandUpdate("/start")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if len(m.sent) != 1 || !strings.Contains(m.sent[0], "Welcome") {
		t.Errorf("unexpected welcome: %v", m.sent)
	}
}

func TestUnauthorizedUser(t *testing.T) {
	m := &mockMessenger{}
	p := &mockPipeline{fetchMessages: []string{"secret"}}
	h := newTestHandler(m, p, denyAll{})

	if err := h.HandleUpdate(context.Background(), commandUpdate("/fetch_now")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if p.fetchCalls != 0 {
		t.Error("pipeline must not run for unauthorized users")
	}
	if len(m.sent) != 1 || !strings.Contains(m.sent[0], "not authorized") {
		t.Errorf("unexpected refusal: %v", m.sent)
	}
}

func TestUnauthorizedCallbackOnlyAcked(t *testing.T) {
	m := &mockMessenger{}
	p := &mockPipeline{breaking: 3}
	h := newTestHandler(m, p, denyAll{})

	if err := h.HandleUpdate(context.Background(), callbackUpdate("menu_breaking")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if p.breakingCalls != 0 {
		t.Error("pipeline must not run for unauthorized callbacks")
	}
	if len(m.acked) != 1 {
		t.Error("callback must still be answered")
	}
}

func TestFetchNowCommand(t *testing.T) {
	m := &mockMessenger{}
	p := &mockPipeline{fetchMessages: []string{"digest part", "video part"}}
	h := newTestHandler(m, p, allowAll{})

	if err := h.HandleUpdate(context.Background(), commandUpdate("/fetch_now")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	// Progress note plus the two result messages.
	if len(m.sent) != 3 {
		t.Fatalf("sent = %d messages, want 3: %v", len(m.sent), m.sent)
	}
	if m.sent[1] != "digest part" || m.sent[2] != "video part" {
		t.Errorf("results out of order: %v", m.sent)
	}
}

func TestFetchNowNothingNew(t *testing.T) {
	m := &mockMessenger{}
	h := newTestHandler(m, &mockPipeline{}, allowAll{})

	if err := h.HandleUpdate(context.Background(), commandUpdate("/fetch_now")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if !strings.Contains(m.sent[len(m.sent)-1], "Nothing new") {
		t.Errorf("missing empty-result note: %v", m.sent)
	}
}

func TestDaySummaryEmpty(t *testing.T) {
	m := &mockMessenger{}
	h := newTestHandler(m, &mockPipeline{}, allowAll{})

	if err := h.HandleUpdate(context.Background(), commandUpdate("/day_summary")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if len(m.sent) != 1 || !strings.Contains(m.sent[0], "Nothing collected") {
		t.Errorf("unexpected output: %v", m.sent)
	}
}

func TestMenuSendsKeyboard(t *testing.T) {
	m := &mockMessenger{}
	h := newTestHandler(m, &mockPipeline{}, allowAll{})

	if err := h.HandleUpdate(context.Background(), commandUpdate("/menu")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if len(m.keyboards) != 1 {
		t.Fatalf("keyboards = %d, want 1", len(m.keyboards))
	}
}

func TestCategoryKeyboardLayout(t *testing.T) {
	m := &mockMessenger{}
	h := newTestHandler(m, &mockPipeline{}, allowAll{})

	if err := h.HandleUpdate(context.Background(), callbackUpdate("menu_category")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if len(m.keyboards) != 1 {
		t.Fatalf("keyboards = %d, want 1", len(m.keyboards))
	}

	rows := m.keyboards[0].InlineKeyboard
	// Three categories two per row, plus the free-form row.
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	last := rows[len(rows)-1]
	if len(last) != 1 || *last[0].CallbackData != otherCategoryData {
		t.Errorf("last row = %+v, want the free-form option", last)
	}
}

func TestCategoryCallback(t *testing.T) {
	m := &mockMessenger{}
	topics := &mockTopics{}
	h := NewHandler(m, &mockPipeline{}, topics, allowAll{},
		[]string{"Technology"}, time.UTC, zap.NewNop(),
		WithNow(func() time.Time { return testTime }))

	if err := h.HandleUpdate(context.Background(), callbackUpdate("cat_Technology")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if len(topics.topics) != 1 || topics.topics[0] != "Technology" {
		t.Errorf("topics summarized = %v", topics.topics)
	}
	if !strings.Contains(m.sent[len(m.sent)-1], "Category Update") {
		t.Errorf("missing topic update: %v", m.sent)
	}
}

func TestFreeFormTopicFlow(t *testing.T) {
	m := &mockMessenger{}
	topics := &mockTopics{}
	h := NewHandler(m, &mockPipeline{}, topics, allowAll{},
		[]string{"Technology"}, time.UTC, zap.NewNop(),
		WithNow(func() time.Time { return testTime }))

	if err := h.HandleUpdate(context.Background(), callbackUpdate(otherCategoryData)); err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if err := h.HandleUpdate(context.Background(), textUpdate("quantum computing")); err != nil {
		t.Fatalf("text failed: %v", err)
	}

	if len(topics.topics) != 1 || topics.topics[0] != "quantum computing" {
		t.Errorf("topics summarized = %v", topics.topics)
	}

	// The prompt state is consumed; further text gets the menu nudge.
	if err := h.HandleUpdate(context.Background(), textUpdate("hello")); err != nil {
		t.Fatalf("text failed: %v", err)
	}
	if !strings.Contains(m.sent[len(m.sent)-1], "/menu") {
		t.Errorf("expected menu nudge: %v", m.sent)
	}
}

func TestBreakingCallback(t *testing.T) {
	m := &mockMessenger{}
	p := &mockPipeline{breaking: 2}
	h := newTestHandler(m, p, allowAll{})

	if err := h.HandleUpdate(context.Background(), callbackUpdate("menu_breaking")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if p.breakingCalls != 1 {
		t.Errorf("breaking calls = %d, want 1", p.breakingCalls)
	}
	if !strings.Contains(m.sent[len(m.sent)-1], "2") {
		t.Errorf("missing alert count: %v", m.sent)
	}
}

type mockSched struct{}

func (mockSched) NextRuns() map[string]time.Time {
	return map[string]time.Time{
		"evening_digest": testTime.Add(7 * time.Hour),
		"breaking_check": testTime.Add(15 * time.Minute),
	}
}

func TestStatusReportsQueueAndSchedule(t *testing.T) {
	m := &mockMessenger{}
	p := &mockPipeline{pending: 7}
	h := newTestHandler(m, p, allowAll{}, WithScheduleInfo(mockSched{}))

	if err := h.HandleUpdate(context.Background(), commandUpdate("/status")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	msg := m.sent[0]
	if !strings.Contains(msg, "7") {
		t.Errorf("missing queue depth: %q", msg)
	}
	if !strings.Contains(msg, "evening\\_digest") {
		t.Errorf("missing schedule entries: %q", msg)
	}
}

func TestUnknownCommand(t *testing.T) {
	m := &mockMessenger{}
	h := newTestHandler(m, &mockPipeline{}, allowAll{})

	if err := h.HandleUpdate(context.Background(), commandUpdate("/bogus")); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if !strings.Contains(m.sent[0], "Unknown command") {
		t.Errorf("unexpected reply: %v", m.sent)
	}
}

type mockAPI struct {
	sent        []tgbotapi.Chattable
	failPattern string
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if ok && m.failPattern != "" && msg.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestTelegramSenderPlainFallback(t *testing.T) {
	api := &mockAPI{failPattern: "parse"}
	s := NewTelegramSender(api, []int64{1}, zap.NewNop())

	if err := s.Send(context.Background(), 1, `broken \. markup`); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("delivered = %d messages, want 1 plain resend", len(api.sent))
	}
	plain := api.sent[0].(tgbotapi.MessageConfig)
	if plain.ParseMode != "" {
		t.Error("fallback message must not set a parse mode")
	}
	if strings.Contains(plain.Text, `\`) {
		t.Errorf("fallback text still escaped: %q", plain.Text)
	}
}

func TestBroadcastReachesAllUsers(t *testing.T) {
	api := &mockAPI{}
	s := NewTelegramSender(api, []int64{1, 2, 3}, zap.NewNop())

	if err := s.Broadcast(context.Background(), "hello"); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if len(api.sent) != 3 {
		t.Errorf("delivered = %d, want 3", len(api.sent))
	}
}

func TestBroadcastNoRecipients(t *testing.T) {
	s := NewTelegramSender(&mockAPI{}, nil, zap.NewNop())
	if err := s.Broadcast(context.Background(), "hello"); err == nil {
		t.Fatal("expected error with no recipients")
	}
}
