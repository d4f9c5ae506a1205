package notification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"f1telemetryhub/pkg/model"
	"f1telemetryhub/pkg/pubsub"
	"f1telemetryhub/pkg/store"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func TestManagerForwardsLifecycle(t *testing.T) {
	bot := &fakeBot{}
	ps := pubsub.NewPubSub[model.SessionLifecycle](8)
	m := NewManager(bot, []int64{11, 22}, ps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	// wait for the subscription before publishing
	deadline := time.Now().Add(5 * time.Second)
	for len(bot.messages()) == 0 && time.Now().Before(deadline) {
		ps.Publish(store.TopicLifecycle, model.SessionLifecycle{
			Kind:    model.LifecycleEnded,
			Session: model.Session{ID: "S1", TrackID: "monza"},
			Reason:  "relay disconnect timeout",
		})
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	msgs := bot.messages()
	if len(msgs) < 2 {
		t.Fatalf("sent %d messages, want one per chat", len(msgs))
	}
	if msgs[0].ChatID != 11 || msgs[1].ChatID != 22 {
		t.Fatalf("chats = %d, %d", msgs[0].ChatID, msgs[1].ChatID)
	}
	if !strings.Contains(msgs[0].Text, "S1") || !strings.Contains(msgs[0].Text, "relay disconnect timeout") {
		t.Fatalf("text = %q", msgs[0].Text)
	}
}

func TestNoChatsSendsNothing(t *testing.T) {
	bot := &fakeBot{}
	m := NewManager(bot, nil, pubsub.NewPubSub[model.SessionLifecycle](1), nil)
	if err := m.sendNotification(context.Background(), model.SessionLifecycle{Kind: model.LifecycleStarted}); err != nil {
		t.Fatal(err)
	}
	if len(bot.messages()) != 0 {
		t.Fatal("sent without receivers")
	}
}
