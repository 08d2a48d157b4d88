package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Sag21/PulseAgent/format"
)

// API is the slice of the Telegram client the sender uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramSender delivers messages through the Telegram Bot API. Every text
// goes out as MarkdownV2 first; if Telegram rejects the markup the text is
// resent plain so a formatting bug never swallows an alert.
type TelegramSender struct {
	api     API
	userIDs []int64
	log     *zap.Logger
}

// NewTelegramSender creates a sender. userIDs is the broadcast audience.
func NewTelegramSender(api API, userIDs []int64, log *zap.Logger) *TelegramSender {
	return &TelegramSender{api: api, userIDs: userIDs, log: log}
}

// Send delivers one message to one chat.
func (s *TelegramSender) Send(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	if _, err := s.api.Send(msg); err != nil {
		s.log.Warn("markdown send rejected, retrying plain",
			zap.Int64("chat", chatID), zap.Error(err))

		plain := tgbotapi.NewMessage(chatID, format.StripMarkdown(text))
		plain.DisableWebPagePreview = true
		if _, err := s.api.Send(plain); err != nil {
			return fmt.Errorf("send message to %d: %w", chatID, err)
		}
	}
	return nil
}

// SendKeyboard delivers a message with an inline keyboard.
func (s *TelegramSender) SendKeyboard(_ context.Context, chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyMarkup = kb

	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send keyboard to %d: %w", chatID, err)
	}
	return nil
}

// AckCallback answers a callback query so the client stops its spinner.
func (s *TelegramSender) AckCallback(_ context.Context, callbackID string) error {
	_, err := s.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// Broadcast sends one message to every configured user. Individual failures
// are logged; the call fails only when nobody received the message.
func (s *TelegramSender) Broadcast(ctx context.Context, text string) error {
	if len(s.userIDs) == 0 {
		return fmt.Errorf("no broadcast recipients configured")
	}

	delivered := 0
	for _, userID := range s.userIDs {
		if err := s.Send(ctx, userID, text); err != nil {
			s.log.Warn("broadcast delivery failed", zap.Int64("user", userID), zap.Error(err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("broadcast reached no recipients")
	}
	return nil
}
