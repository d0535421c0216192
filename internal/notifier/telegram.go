package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegramMaxText is the Bot API message length limit.
const telegramMaxText = 4096

// telegramSender keeps one offline bot per token; bots only call sendMessage
// and never poll for updates.
type telegramSender struct {
	apiURL string // empty = api.telegram.org

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func newTelegramSender() *telegramSender {
	return &telegramSender{bots: map[string]*tele.Bot{}}
}

func (t *telegramSender) bot(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     t.apiURL,
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	t.bots[token] = b
	return b, nil
}

func (t *telegramSender) Send(ctx context.Context, sink Sink, msg Message) error {
	if sink.Token == "" {
		return NoRetry(errors.New("telegram token is empty"))
	}
	b, err := t.bot(sink.Token)
	if err != nil {
		return NoRetry(fmt.Errorf("telegram bot: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = b.Send(&tele.Chat{ID: sink.ChatID}, clipRunes(msg.Body(), telegramMaxText), &tele.SendOptions{
		ThreadID:              sink.ThreadID,
		DisableWebPagePreview: msg.DisablePreview,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
