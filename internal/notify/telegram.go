// Package notify delivers best-effort trade notifications over Telegram.
// Delivery failures are logged and never propagated: a missed message must
// not stop the trading loop.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier sends messages to a single Telegram chat. A nil Notifier is a
// valid no-op, so callers never need to branch on whether notifications are
// configured.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// New connects to the Telegram Bot API. An empty token or zero chat ID
// returns a nil Notifier without error.
func New(token string, chatID int64, logger zerolog.Logger) (*Notifier, error) {
	if token == "" || chatID == 0 {
		logger.Warn().Msg("telegram not configured, notifications disabled")
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	bot.Debug = false
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram connected")
	return &Notifier{bot: bot, chatID: chatID, log: logger}, nil
}

// Notify sends a plain-text message. Safe on a nil receiver.
func (n *Notifier) Notify(text string) {
	if n == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Error().Err(err).Msg("telegram send failed")
	}
}

// Notifyf formats and sends a message. Safe on a nil receiver.
func (n *Notifier) Notifyf(format string, args ...any) {
	if n == nil {
		return
	}
	n.Notify(fmt.Sprintf(format, args...))
}
