// Package notify delivers escalation messages to the operator's Telegram
// chat when a unit gets stuck on something only a human can resolve.
package notify

import (
	"context"
	"log"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/addrbook/provisioner/internal/config"
)

// Notifier sends escalation messages. Delivery failure is logged, never
// fatal: the run continues with the next unit either way.
type Notifier struct {
	token  string
	chatID int64
}

func New(cfg config.TelegramConfig) *Notifier {
	return &Notifier{token: cfg.BotToken, chatID: cfg.ChatID}
}

// Escalate sends the message to the configured chat. With no bot token
// configured it falls back to the console.
func (n *Notifier) Escalate(ctx context.Context, text string) {
	if n.token == "" {
		log.Printf("ESCALATION: %s", text)
		return
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  n.token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		log.Printf("Failed to reach Telegram (%v), escalation was: %s", err, text)
		return
	}

	if _, err := bot.Send(&tele.User{ID: n.chatID}, text); err != nil {
		log.Printf("Failed to deliver escalation (%v): %s", err, text)
	}
}
