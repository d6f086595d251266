// Package notify delivers operator alerts to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bot-trading-core/internal/monitor"
)

// maxMessageLength is Telegram's limit for one text message.
const maxMessageLength = 4096

// Sender is the part of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts to one chat, at most one message per second.
type Telegram struct {
	api     Sender
	chatID  int64
	limiter *rate.Limiter
	timeout time.Duration
	log     *zap.Logger
}

var _ monitor.AlertSink = (*Telegram)(nil)

// NewTelegram authorizes the bot token. It returns nil and no error when
// the token or chat is unset so callers can fall back to log alerts.
func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	t := New(api, chatID, log)
	t.log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return t, nil
}

// New wraps an existing sender.
func New(api Sender, chatID int64, log *zap.Logger) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		api:     api,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		timeout: 10 * time.Second,
		log:     log.Named("telegram"),
	}
}

// Send posts message, split into chunks Telegram accepts.
func (t *Telegram) Send(message string) error {
	if t == nil {
		return errors.New("telegram notifier not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	for _, chunk := range splitMessage(message, maxMessageLength) {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text on line boundaries into pieces of at most
// maxLength bytes. A single longer line is cut hard.
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}
	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxLength {
			flush()
			out = append(out, line[:maxLength])
			line = line[maxLength:]
		}
		if current.Len() > 0 && current.Len()+1+len(line) > maxLength {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()
	return out
}
