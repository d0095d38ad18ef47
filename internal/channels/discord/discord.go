// Package discord is the Discord channel adapter, a thin shim over
// discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/channels"
)

// Adapter connects to the Discord gateway.
type Adapter struct {
	token   string
	session *discordgo.Session
	handler bus.MessageHandler

	mu        sync.RWMutex
	connected bool
}

// New creates a disconnected adapter.
func New(token string) *Adapter {
	return &Adapter{token: token}
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) OnMessage(h bus.MessageHandler) { a.handler = h }

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) Connect(ctx context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID || m.Content == "" {
			return
		}
		inbound := bus.InboundMessage{
			UserID:    m.Author.ID,
			ChatID:    m.ChannelID,
			Text:      m.Content,
			Timestamp: time.Now(),
			Raw:       m,
		}
		if ref := m.MessageReference; ref != nil {
			inbound.ThreadID = ref.MessageID
		}
		if a.handler != nil {
			if err := a.handler(inbound); err != nil {
				slog.Warn("discord.handler_error", "error", err)
			}
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	a.session = session
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *Adapter) SendMessage(ctx context.Context, to, text string, opts channels.SendOptions) error {
	if _, err := a.session.ChannelMessageSend(to, text); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (a *Adapter) SendTyping(ctx context.Context, to string) error {
	return a.session.ChannelTyping(to)
}
