// Package slack is the Slack channel adapter over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/channels"
)

// Adapter connects to Slack via Socket Mode; no public ingress needed.
type Adapter struct {
	botToken string
	appToken string
	api      *slack.Client
	socket   *socketmode.Client
	handler  bus.MessageHandler
	cancel   context.CancelFunc

	mu        sync.RWMutex
	connected bool
}

// New creates a disconnected adapter.
func New(botToken, appToken string) *Adapter {
	return &Adapter{botToken: botToken, appToken: appToken}
}

func (a *Adapter) Name() string { return "slack" }

func (a *Adapter) OnMessage(h bus.MessageHandler) { a.handler = h }

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.api = slack.New(a.botToken, slack.OptionAppLevelToken(a.appToken))
	auth, err := a.api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	botUserID := auth.UserID

	a.socket = socketmode.New(a.api)
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack.socket_stopped", "error", err)
		}
	}()
	go a.eventLoop(runCtx, botUserID)

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) eventLoop(ctx context.Context, botUserID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			a.socket.Ack(*evt.Request)

			inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok || inner.User == "" || inner.User == botUserID || inner.Text == "" {
				continue
			}
			inbound := bus.InboundMessage{
				UserID:    inner.User,
				ChatID:    inner.Channel,
				Text:      inner.Text,
				ThreadID:  inner.ThreadTimeStamp,
				Timestamp: time.Now(),
				Raw:       inner,
			}
			if a.handler != nil {
				if err := a.handler(inbound); err != nil {
					slog.Warn("slack.handler_error", "error", err)
				}
			}
		}
	}
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
	msgOpts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if opts.ThreadID != "" {
		msgOpts = append(msgOpts, slack.MsgOptionTS(opts.ThreadID))
	}
	if _, _, err := a.api.PostMessageContext(ctx, to, msgOpts...); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// SendTyping is a no-op: the Web API has no typing indicator for bots.
func (a *Adapter) SendTyping(ctx context.Context, to string) error {
	return nil
}
