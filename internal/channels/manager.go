package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
)

// outboundRate bounds sends per channel. One message per interval with a
// small burst keeps adapters under platform limits.
const (
	outboundPerSecond = 1
	outboundBurst     = 5
)

// Manager owns the registered adapters and the outbound dispatch loop.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	limiters map[string]*rate.Limiter
	bus      *bus.MessageBus
}

// NewManager creates a Manager over the bus.
func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		adapters: map[string]Adapter{},
		limiters: map[string]*rate.Limiter{},
		bus:      b,
	}
}

// Register adds an adapter and installs the panic-safe inbound handler that
// publishes to the bus.
func (m *Manager) Register(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := a.Name()
	m.adapters[name] = a
	m.limiters[name] = rate.NewLimiter(rate.Limit(outboundPerSecond), outboundBurst)
	a.OnMessage(m.inboundHandler(name))
}

// inboundHandler publishes inbound messages to the bus; panics in downstream
// consumers are recovered here so adapter event loops never die.
func (m *Manager) inboundHandler(name string) bus.MessageHandler {
	return func(msg bus.InboundMessage) (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("channel.handler_panic", "channel", name, "panic", r)
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		msg.Channel = name
		m.bus.PublishInbound(msg)
		return nil
	}
}

// ConnectAll connects every registered adapter. Failures log and leave that
// adapter disconnected for a later retry.
func (m *Manager) ConnectAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if err := a.Connect(ctx); err != nil {
			cerr := &ChannelConnectionError{Channel: name, Err: err}
			slog.Error("channel.connect_failed", "channel", name, "error", cerr)
			continue
		}
		slog.Info("channel.connected", "channel", name)
	}
}

// DisconnectAll disconnects every adapter.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, a := range m.adapters {
		if err := a.Disconnect(ctx); err != nil {
			slog.Warn("channel.disconnect_failed", "channel", name, "error", err)
		}
	}
}

// adapter returns a registered adapter by name.
func (m *Manager) adapter(name string) (Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", name)
	}
	return a, nil
}

// errNotConnected marks sends attempted before (or after a failed) Connect.
var errNotConnected = errors.New("not connected")

// Send delivers one message through an adapter, honoring the channel's rate
// limit. A registered but disconnected adapter is an error, not a call into
// the adapter: its platform client only exists after a successful Connect.
func (m *Manager) Send(ctx context.Context, channel, to, text, threadID string) error {
	a, err := m.adapter(channel)
	if err != nil {
		return err
	}
	if !a.IsConnected() {
		return &ChannelConnectionError{Channel: channel, Err: errNotConnected}
	}
	m.mu.RLock()
	limiter := m.limiters[channel]
	m.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.SendMessage(ctx, to, text, SendOptions{ThreadID: threadID}); err != nil {
		return &ChannelSendError{Channel: channel, To: to, Err: err}
	}
	return nil
}

// Typing signals typing through an adapter.
func (m *Manager) Typing(ctx context.Context, channel, to string) error {
	a, err := m.adapter(channel)
	if err != nil {
		return err
	}
	if !a.IsConnected() {
		return &ChannelConnectionError{Channel: channel, Err: errNotConnected}
	}
	return a.SendTyping(ctx, to)
}

// Info reports an adapter's name and connection state.
func (m *Manager) Info(channel string) (map[string]any, error) {
	a, err := m.adapter(channel)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":      a.Name(),
		"connected": a.IsConnected(),
	}, nil
}

// DispatchOutbound consumes outbound bus messages until ctx is done. Send
// failures log and never stop the loop.
func (m *Manager) DispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if err := m.Send(ctx, msg.Channel, msg.ChatID, msg.Text, msg.ThreadID); err != nil {
			slog.Error("channel.send_failed", "channel", msg.Channel, "to", msg.ChatID, "error", err)
		}
	}
}
