package ipc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawfleet/internal/session"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

// SessionService is the session-manager surface exposed over IPC.
type SessionService interface {
	Send(ctx context.Context, req session.Request) (session.Reply, error)
	List(agent string) ([]store.Session, error)
	Status(conversationID string) (store.Session, error)
}

// AgentService is the registry surface exposed over IPC.
type AgentService interface {
	Slugs() []string
}

// ChannelService is the messaging surface exposed over IPC.
type ChannelService interface {
	Send(ctx context.Context, channel, to, text, threadID string) error
	Typing(ctx context.Context, channel, to string) error
	Info(channel string) (map[string]any, error)
}

// RegisterHandlers wires the closed request set onto the hub.
func RegisterHandlers(h *Hub, sessions SessionService, agents AgentService, channels ChannelService) {
	h.Handle("sessions.list", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var req struct {
			Agent string `json:"agent"`
		}
		json.Unmarshal(raw, &req)
		list, err := sessions.List(req.Agent)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(list))
		for i, s := range list {
			out[i] = sessionJSON(s)
		}
		return map[string]any{"sessions": out}, nil
	})

	h.Handle("sessions.spawn", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var req struct {
			Agent  string `json:"agent"`
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if req.Agent == "" || req.Prompt == "" {
			return nil, fmt.Errorf("agent and prompt are required")
		}
		conv := "ipc:" + uuid.NewString()
		reply, err := sessions.Send(ctx, session.Request{
			Agent:          req.Agent,
			ConversationID: conv,
			Channel:        "ipc",
			Prompt:         req.Prompt,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"conversationId": conv,
			"sessionId":      reply.SessionID,
			"text":           reply.Text,
		}, nil
	})

	h.Handle("sessions.send", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var req struct {
			Agent          string `json:"agent"`
			ConversationID string `json:"conversationId"`
			Prompt         string `json:"prompt"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if req.ConversationID == "" || req.Prompt == "" {
			return nil, fmt.Errorf("conversationId and prompt are required")
		}
		agent := req.Agent
		if agent == "" {
			sess, err := sessions.Status(req.ConversationID)
			if err != nil {
				return nil, err
			}
			agent = sess.Agent
		}
		reply, err := sessions.Send(ctx, session.Request{
			Agent:          agent,
			ConversationID: req.ConversationID,
			Channel:        "ipc",
			Prompt:         req.Prompt,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": reply.Text, "sessionId": reply.SessionID}, nil
	})

	h.Handle("sessions.status", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var req struct {
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if req.ConversationID == "" {
			return nil, fmt.Errorf("conversationId is required")
		}
		sess, err := sessions.Status(req.ConversationID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"session": sessionJSON(sess)}, nil
	})

	h.Handle("agents.list", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		return map[string]any{"agents": agents.Slugs()}, nil
	})

	h.Handle("messaging.send", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var req struct {
			Channel  string `json:"channel"`
			To       string `json:"to"`
			Text     string `json:"text"`
			ThreadID string `json:"threadId"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if req.Channel == "" || req.To == "" || req.Text == "" {
			return nil, fmt.Errorf("channel, to and text are required")
		}
		if err := channels.Send(ctx, req.Channel, req.To, req.Text, req.ThreadID); err != nil {
			return nil, err
		}
		return nil, nil
	})

	h.Handle("messaging.typing", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var req struct {
			Channel string `json:"channel"`
			To      string `json:"to"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if req.Channel == "" || req.To == "" {
			return nil, fmt.Errorf("channel and to are required")
		}
		if err := channels.Typing(ctx, req.Channel, req.To); err != nil {
			return nil, err
		}
		return nil, nil
	})

	h.Handle("messaging.channel_info", func(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
		var req struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if req.Channel == "" {
			return nil, fmt.Errorf("channel is required")
		}
		info, err := channels.Info(req.Channel)
		if err != nil {
			return nil, err
		}
		return map[string]any{"info": info}, nil
	})
}

func sessionJSON(s store.Session) map[string]any {
	return map[string]any{
		"conversationId": s.ConversationID,
		"sessionId":      s.ExternalID,
		"agent":          s.Agent,
		"channel":        s.Channel,
		"status":         s.Status,
		"turns":          s.Turns,
		"createdAt":      s.CreatedAt,
		"lastActiveAt":   s.LastActiveAt,
	}
}
