package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/guardbook/guardbook/internal/config"
	"github.com/guardbook/guardbook/internal/schema"
)

// Telegram delivers escalations to recipients with a telegram chat id.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram creates the telegram adapter.
func NewTelegram(cfg *config.TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) Send(ctx context.Context, subject, body string, to []schema.Recipient) error {
	text := subject + "\n" + body
	sent, failed := 0, 0
	for _, r := range to {
		if r.TelegramChatID == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(r.TelegramChatID, text)); err != nil {
			slog.Error("notify: telegram send failed", "chat", r.TelegramChatID, "err", err)
			failed++
			continue
		}
		sent++
	}
	if sent == 0 && failed > 0 {
		return fmt.Errorf("telegram: all %d sends failed", failed)
	}
	return nil
}

var _ schema.Notifier = (*Telegram)(nil)
