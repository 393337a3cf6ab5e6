package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"gearshare/internal/config"
	"gearshare/internal/domain"
	"gearshare/internal/models"
)

// LogSink writes notifications to the structured log. It is always enabled so
// that every delivered notification leaves a trace.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, n *models.Notification) error {
	s.logger.Info().
		Str("event_key", n.EventKey).
		Str("event", n.EventType).
		Int64("booking_id", n.BookingID).
		Str("recipient", n.RecipientEmail).
		Str("role", n.RecipientRole).
		Msg(Subject(n.EventType))
	return nil
}

// TelegramSink forwards notifications to an operator chat.
type TelegramSink struct {
	sender domain.TelegramSender
	chatID int64
}

func NewTelegramSink(sender domain.TelegramSender, chatID int64) *TelegramSink {
	return &TelegramSink{sender: sender, chatID: chatID}
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Deliver(_ context.Context, n *models.Notification) error {
	msg := tgbotapi.NewMessage(s.chatID, Render(n))
	msg.DisableWebPagePreview = true
	if _, err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
