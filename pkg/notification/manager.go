// Package notification tells telegram chats when sessions start and end.
package notification

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nikoksr/notify"
	"github.com/pkg/errors"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/pubsub"
	"f1telemetryhub/pkg/store"
)

type Manager struct {
	client    Sender
	chatIDs   []int64
	lifecycle *pubsub.PubSub[model.SessionLifecycle]
	logger    *slog.Logger
}

// NewBot logs in to the bot API with token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "connecting telegram bot")
	}
	return bot, nil
}

func NewManager(client Sender, chatIDs []int64, lifecycle *pubsub.PubSub[model.SessionLifecycle], logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:    client,
		chatIDs:   chatIDs,
		lifecycle: lifecycle,
		logger:    logger.With("component", "notification"),
	}
}

// Start forwards lifecycle notices until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	noticeChan := m.lifecycle.Subscribe(store.TopicLifecycle)
	defer m.lifecycle.Unsubscribe(store.TopicLifecycle, noticeChan)
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-noticeChan:
			if !ok {
				return
			}
			m.handleNotification(ctx, notice)
		}
	}
}

func (m *Manager) handleNotification(ctx context.Context, notice model.SessionLifecycle) {
	m.logger.Info("sending notification", "session", notice.Session.ID, "kind", notice.Kind, "chats", len(m.chatIDs))
	if err := m.sendNotification(ctx, notice); err != nil {
		m.logger.Error("notifying chats", "session", notice.Session.ID, "err", err.Error())
	}
}

func (m *Manager) sendNotification(ctx context.Context, notice model.SessionLifecycle) error {
	if len(m.chatIDs) == 0 {
		return nil
	}
	tg := &Telegram{}
	tg.SetClient(m.client)
	tg.AddReceivers(m.chatIDs...)

	subject := "Nueva sesión iniciada"
	if notice.Kind == model.LifecycleEnded {
		subject = "Sesión finalizada"
	}
	n := notify.NewWithServices(tg)
	return n.Send(ctx, subject, notice.String())
}
