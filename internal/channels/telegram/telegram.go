// Package telegram is the Telegram channel adapter, a thin shim over telego.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/channels"
)

// Adapter connects to Telegram via long polling.
type Adapter struct {
	token   string
	bot     *telego.Bot
	handler bus.MessageHandler
	cancel  context.CancelFunc

	mu        sync.RWMutex
	connected bool
}

// New creates a disconnected adapter.
func New(token string) *Adapter {
	return &Adapter{token: token}
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) OnMessage(h bus.MessageHandler) { a.handler = h }

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Connect starts long polling. The poll loop runs until Disconnect.
func (a *Adapter) Connect(ctx context.Context) error {
	bot, err := telego.NewBot(a.token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = bot

	pollCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	go func() {
		for update := range updates {
			msg := update.Message
			if msg == nil || msg.Text == "" || msg.From == nil {
				continue
			}
			inbound := bus.InboundMessage{
				UserID:    strconv.FormatInt(msg.From.ID, 10),
				ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
				Text:      msg.Text,
				Timestamp: time.Unix(msg.Date, 0),
				Raw:       update,
			}
			if msg.MessageThreadID != 0 {
				inbound.ThreadID = strconv.Itoa(msg.MessageThreadID)
			}
			if a.handler != nil {
				if err := a.handler(inbound); err != nil {
					slog.Warn("telegram.handler_error", "error", err)
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

func (a *Adapter) SendMessage(ctx context.Context, to, text string, opts channels.SendOptions) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", to, err)
	}
	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	}
	if opts.ThreadID != "" {
		if threadID, err := strconv.Atoi(opts.ThreadID); err == nil {
			params.MessageThreadID = threadID
		}
	}
	if _, err := a.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (a *Adapter) SendTyping(ctx context.Context, to string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", to, err)
	}
	return a.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: telego.ChatID{ID: chatID},
		Action: "typing",
	})
}
