// Package router maps inbound channel messages to agents and conversation
// keys. Resolution order: @mention, declared rules, user mapping, default.
package router

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

// Route is a resolved inbound message.
type Route struct {
	AgentID    string
	SessionKey string
	Text       string
}

// Router resolves inbound messages. Safe for concurrent use.
type Router struct {
	mu           sync.RWMutex
	agents       map[string]bool // mentionable slugs, lowercase
	rules        []config.RouteRule
	defaultAgent string
	store        *store.Store
}

// New builds a Router from routing config and the registered agent slugs.
func New(routing config.RoutingConfig, slugs []string, st *store.Store) *Router {
	r := &Router{
		agents:       map[string]bool{},
		rules:        routing.Rules,
		defaultAgent: routing.DefaultAgent,
		store:        st,
	}
	for _, s := range slugs {
		r.agents[strings.ToLower(s)] = true
	}
	return r
}

// AddAgent makes a slug mentionable without a restart.
func (r *Router) AddAgent(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[strings.ToLower(slug)] = true
}

// RemoveAgent drops a slug from the mention set.
func (r *Router) RemoveAgent(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, strings.ToLower(slug))
}

// Route resolves one inbound message. Resolution is total when a default
// agent is configured; without one an unmatched message is an error.
func (r *Router) Route(msg bus.InboundMessage) (Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agentID := ""
	text := msg.Text

	// 1. @mention at the start of the trimmed text.
	if slug, rest, ok := r.matchMention(text); ok {
		agentID = slug
		text = rest
	}

	// 2. Declared rules, first match wins.
	if agentID == "" {
		for _, rule := range r.rules {
			if rule.Channel != msg.Channel {
				continue
			}
			if rule.ChannelUserID != "" && rule.ChannelUserID != msg.UserID {
				continue
			}
			if rule.ChatID != "" && rule.ChatID != msg.ChatID {
				continue
			}
			agentID = rule.AgentID
			break
		}
	}

	// 3. User mapping.
	if agentID == "" && r.store != nil {
		mapped, ok, err := r.store.LookupUserAgent(msg.Channel, msg.UserID)
		if err != nil {
			return Route{}, fmt.Errorf("user mapping lookup: %w", err)
		}
		if ok {
			agentID = mapped
		}
	}

	// 4. Default.
	if agentID == "" {
		agentID = r.defaultAgent
	}
	if agentID == "" {
		return Route{}, fmt.Errorf("no agent for message on %s from %s", msg.Channel, msg.UserID)
	}

	return Route{
		AgentID:    agentID,
		SessionKey: SessionKey(msg.Channel, msg.UserID, msg.ChatID, agentID),
		Text:       text,
	}, nil
}

// matchMention checks for a leading @slug of a registered agent,
// case-insensitive, and strips the token plus one following space.
func (r *Router) matchMention(text string) (slug, rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "@") {
		return "", "", false
	}
	token := trimmed[1:]
	end := strings.IndexFunc(token, func(c rune) bool { return c == ' ' || c == '\t' || c == '\n' })
	if end >= 0 {
		token = token[:end]
	}
	lower := strings.ToLower(token)
	if !r.agents[lower] {
		return "", "", false
	}
	rest = strings.TrimPrefix(trimmed, trimmed[:1+len(token)])
	rest = strings.TrimPrefix(rest, " ")
	return lower, rest, true
}

// SessionKey builds the conversation grouping key. Group chats share one
// conversation per agent; DMs are per-user.
func SessionKey(channel, userID, chatID, agentID string) string {
	if chatID != "" {
		return fmt.Sprintf("%s:%s:%s", channel, chatID, agentID)
	}
	return fmt.Sprintf("%s:%s:%s", channel, userID, agentID)
}
