package notification

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram is a notify service that posts to a fixed set of chats.
type Telegram struct {
	client  Sender
	chatIDs []int64
}

func (t *Telegram) SetClient(client Sender) {
	t.client = client
}

func (t *Telegram) AddReceivers(chatIDs ...int64) {
	t.chatIDs = append(t.chatIDs, chatIDs...)
}

// Send implements notify.Notifier.
func (t *Telegram) Send(ctx context.Context, subject, message string) error {
	text := subject + "\n" + message
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.client.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			return errors.Wrapf(err, "sending to chat %d", chatID)
		}
	}
	return nil
}
