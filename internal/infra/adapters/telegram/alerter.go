package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"aicode-billing/internal/config"
	"aicode-billing/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*Alerter)(nil)

// sender is the slice of *tgbotapi.BotAPI the alerter needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter posts operator alerts to a fixed set of Telegram chats.
type Alerter struct {
	bot     sender
	chatIDs []int64
}

func NewAlerter(cfg config.TelegramAlertConfig) (*Alerter, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram alert token is empty")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, errors.New("telegram alert chat_ids is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newAlerter(bot, cfg.ChatIDs), nil
}

func newAlerter(bot sender, chatIDs []int64) *Alerter {
	return &Alerter{bot: bot, chatIDs: chatIDs}
}

// Alert sends text to every chat; one failing chat does not stop the rest.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	var errs []error
	for _, id := range a.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msg := tgbotapi.NewMessage(id, "[billing] "+text)
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
