package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramSink mirrors notification events to a Telegram chat. Useful for
// watching tip activity away from the app; enabled only when a bot token and
// chat id are configured.
type TelegramSink struct {
	bot    *bot.Bot
	chatID int64
	log    *slog.Logger
}

// NewTelegramSink creates the sink, or an error if the token is rejected.
func NewTelegramSink(token string, chatID int64, log *slog.Logger) (*TelegramSink, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &TelegramSink{bot: b, chatID: chatID, log: log}, nil
}

// Deliver sends one event as a chat message. Failures are logged, never
// propagated.
func (s *TelegramSink) Deliver(ctx context.Context, ev Event) {
	var prefix string
	switch ev.Kind {
	case KindSuccess:
		prefix = "✅"
	case KindError:
		prefix = "⚠️"
	default:
		prefix = "ℹ️"
	}

	disablePreview := true
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   prefix + " " + ev.Message,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	if err != nil {
		s.log.Error("telegram delivery", "error", err)
	}
}
