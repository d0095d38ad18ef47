package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultQueueSize = 256

// MessageBus is the in-process queue connecting channel adapters to the
// runtime pump and back. Both directions are buffered; a full queue drops
// the message with a warning rather than blocking an adapter callback.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	activityMu sync.Mutex
	activity   []ActivityEntry
	maxFeed    int
}

// New creates a MessageBus with default queue sizes.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultQueueSize),
		outbound: make(chan OutboundMessage, defaultQueueSize),
		maxFeed:  500,
	}
}

// PublishInbound enqueues a message from a channel adapter.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus.inbound_dropped", "channel", msg.Channel, "chat", msg.ChatID)
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues a message for channel delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus.outbound_dropped", "channel", msg.Channel, "chat", msg.ChatID)
	}
}

// ConsumeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// RecordActivity appends an entry to the bounded in-memory activity feed.
func (b *MessageBus) RecordActivity(entry ActivityEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	b.activityMu.Lock()
	defer b.activityMu.Unlock()
	b.activity = append(b.activity, entry)
	if len(b.activity) > b.maxFeed {
		b.activity = b.activity[len(b.activity)-b.maxFeed:]
	}
}

// Activity returns a copy of the recorded feed, newest last.
func (b *MessageBus) Activity() []ActivityEntry {
	b.activityMu.Lock()
	defer b.activityMu.Unlock()
	out := make([]ActivityEntry, len(b.activity))
	copy(out, b.activity)
	return out
}
