// Package channels defines the adapter contract between messaging platforms
// and the runtime, and dispatches outbound traffic with per-channel rate
// limits.
package channels

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
)

// SendOptions carries optional outbound parameters.
type SendOptions struct {
	ThreadID string
}

// Adapter is one messaging platform. Implementations translate platform
// payloads into bus.InboundMessage and never let a handler panic escape into
// their event loop. Adapters that cannot express typing no-op SendTyping.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendMessage(ctx context.Context, to, text string, opts SendOptions) error
	SendTyping(ctx context.Context, to string) error
	IsConnected() bool
	OnMessage(handler bus.MessageHandler)
}

// ChannelSendError reports a failed outbound delivery. The dispatch loop
// logs it and keeps running.
type ChannelSendError struct {
	Channel string
	To      string
	Err     error
}

func (e *ChannelSendError) Error() string {
	return fmt.Sprintf("send on %s to %s: %v", e.Channel, e.To, e.Err)
}

func (e *ChannelSendError) Unwrap() error { return e.Err }

// ChannelConnectionError reports a failed connect. The adapter is left
// disconnected and may be retried.
type ChannelConnectionError struct {
	Channel string
	Err     error
}

func (e *ChannelConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Channel, e.Err)
}

func (e *ChannelConnectionError) Unwrap() error { return e.Err }
