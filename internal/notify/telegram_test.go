package notify

import (
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestSendPostsToChat(t *testing.T) {
	api := &fakeSender{}
	tg := New(api, 42, nil)

	require.NoError(t, tg.Send("bot 3 evicted: drawdown"))
	require.Len(t, api.sent, 1)
	assert.Equal(t, int64(42), api.sent[0].ChatID)
	assert.Equal(t, "bot 3 evicted: drawdown", api.sent[0].Text)
}

func TestSendSurfacesErrors(t *testing.T) {
	tg := New(&fakeSender{err: errors.New("forbidden")}, 42, nil)
	assert.ErrorContains(t, tg.Send("x"), "forbidden")

	var unset *Telegram
	assert.Error(t, unset.Send("x"))
}

func TestUnconfiguredTelegramIsNil(t *testing.T) {
	tg, err := NewTelegram("", 0, nil)
	require.NoError(t, err)
	assert.Nil(t, tg)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	parts := splitMessage("aaaa\nbbbb\ncccc", 9)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	long := strings.Repeat("x", 25)
	parts = splitMessage("head\n"+long, 10)
	assert.Equal(t, []string{"head", "xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, parts)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 10)
	}
}
