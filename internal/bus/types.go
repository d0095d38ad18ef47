// Package bus carries normalized messages between channel adapters and the
// agent runtime. Adapters translate platform payloads into InboundMessage at
// the boundary; everything downstream sees only the normalized form.
package bus

import (
	"context"
	"time"
)

// InboundMessage is a message received from a channel (Telegram, Slack, ...).
type InboundMessage struct {
	Channel   string    `json:"channel"`
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Text      string    `json:"text"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Raw holds the untouched platform payload for adapters that need it
	// on the way back out. Opaque downstream.
	Raw any `json:"-"`
}

// OutboundMessage is a message to be delivered to a channel.
type OutboundMessage struct {
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	Text     string `json:"text"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ActivityEntry is one line of the observability feed: agent replies,
// heartbeat ticks, cron runs, tool invocations.
type ActivityEntry struct {
	Kind      string    `json:"kind"` // "message", "heartbeat", "cron", "tool", "task"
	AgentID   string    `json:"agent_id"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageHandler handles one inbound message.
type MessageHandler func(InboundMessage) error

// Router abstracts inbound/outbound routing between channels and the runtime.
type Router interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
