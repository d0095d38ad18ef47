// Package session owns the lifecycle of the worker CLI subprocesses: one
// resumable external session per conversation, serialized sends within a
// conversation, parallel sends across conversations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/registry"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
	"github.com/nextlevelbuilder/clawfleet/internal/toolserver"
	"github.com/nextlevelbuilder/clawfleet/internal/tracing"
)

// Request is one message to dispatch into an agent's conversation.
type Request struct {
	Agent          string
	ConversationID string
	Channel        string
	UserID         string
	ChatID         string
	Prompt         string
}

// Reply is the outcome of a send.
type Reply struct {
	Text      string
	SessionID string
	Turns     int
	ToolCalls []ToolCall
}

// Manager multiplexes conversations over worker CLI invocations.
type Manager struct {
	cfg      *config.Config
	registry *registry.Registry
	store    *store.Store
	tools    *toolserver.Supervisor
	bus      *bus.MessageBus
	sessions *sessionMap
	root     string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-conversation
}

// NewManager loads session-map.json from the data root and returns a
// Manager.
func NewManager(cfg *config.Config, reg *registry.Registry, st *store.Store, tools *toolserver.Supervisor, b *bus.MessageBus, root string) (*Manager, error) {
	m, err := loadSessionMap(filepath.Join(root, "session-map.json"))
	if err != nil {
		return nil, fmt.Errorf("load session map: %w", err)
	}
	return &Manager{
		cfg:      cfg,
		registry: reg,
		store:    st,
		tools:    tools,
		bus:      b,
		sessions: m,
		root:     root,
		locks:    map[string]*sync.Mutex{},
	}, nil
}

// convLock returns the mutex serializing one conversation's sends.
func (m *Manager) convLock(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	return l
}

// Send dispatches a prompt into a conversation and returns the assistant's
// reply. Sends to the same conversation queue behind each other; distinct
// conversations run in parallel. A resume failure transparently retries with
// a fresh session and overwrites the mapping.
func (m *Manager) Send(ctx context.Context, req Request) (Reply, error) {
	ctx, span := tracing.Tracer().Start(ctx, "session.send")
	span.SetAttributes(
		attribute.String("agent", req.Agent),
		attribute.String("conversation", req.ConversationID),
	)
	defer span.End()

	reply, err := m.send(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return reply, err
}

func (m *Manager) send(ctx context.Context, req Request) (Reply, error) {
	agent, err := m.registry.Get(req.Agent)
	if err != nil {
		return Reply{}, err
	}
	if req.ConversationID == "" {
		return Reply{}, fmt.Errorf("conversation id is required")
	}

	lock := m.convLock(req.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	resumeID, _ := m.sessions.Get(req.ConversationID)
	transcript, err := m.invoke(ctx, agent, req, resumeID)
	if err != nil {
		var se *SpawnError
		if resumeID != "" && errors.As(err, &se) && se.resumeFailed() {
			slog.Warn("session.resume_failed", "conversation", req.ConversationID, "stale_id", resumeID)
			transcript, err = m.invoke(ctx, agent, req, "")
		}
		if err != nil {
			return Reply{}, err
		}
	}

	// Mapping first, session row second. A crash between the two heals on
	// the next send; the map is the resume source of truth.
	if transcript.SessionID != "" {
		if err := m.sessions.Set(req.ConversationID, transcript.SessionID); err != nil {
			return Reply{}, err
		}
	}
	if err := m.store.UpsertSession(store.Session{
		ConversationID: req.ConversationID,
		ExternalID:     transcript.SessionID,
		Agent:          req.Agent,
		Channel:        req.Channel,
		Status:         store.SessionActive,
		Turns:          transcript.Turns,
	}); err != nil {
		slog.Warn("session.row_update_failed", "conversation", req.ConversationID, "error", err)
	}

	for _, tc := range transcript.ToolCalls {
		m.bus.RecordActivity(bus.ActivityEntry{
			Kind:    "tool",
			AgentID: req.Agent,
			Summary: tc.Name,
		})
	}

	return Reply{
		Text:      transcript.Text,
		SessionID: transcript.SessionID,
		Turns:     transcript.Turns,
		ToolCalls: transcript.ToolCalls,
	}, nil
}

// invoke spawns one worker CLI run for the request.
func (m *Manager) invoke(ctx context.Context, agent *registry.Agent, req Request, resumeID string) (*Transcript, error) {
	manifestPath := ""
	if len(agent.Config.ToolServers) > 0 {
		p, err := m.tools.WriteManifest(agent.Slug, agent.Config.ToolServers, agent.Dir)
		if err != nil {
			return nil, fmt.Errorf("compose tool manifest: %w", err)
		}
		manifestPath = p
	}

	soul, _ := m.registry.ReadFile(agent.Slug, registry.SoulFile)
	memoryContent, _ := m.registry.ReadFile(agent.Slug, registry.MemoryFile)
	userProfile, _ := os.ReadFile(filepath.Join(m.root, "USER.md"))
	system := composePrompt(string(soul), string(memoryContent), string(userProfile),
		channelContext(req.Channel, req.UserID, req.ChatID))

	model := agent.Config.Model
	if model == "" {
		model = m.cfg.Worker.Model
	}
	maxTurns := agent.Config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 25
	}

	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--model", model,
		"--max-turns", strconv.Itoa(maxTurns),
	}
	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}
	if tools := config.ResolveTools(agent.Config, agent.Config.ToolServers); len(tools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(tools, ","))
	}
	if manifestPath != "" {
		args = append(args, "--mcp-config", manifestPath)
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}

	slog.Info("session.spawn", "agent", agent.Slug, "conversation", req.ConversationID, "resume", resumeID != "")
	return run(ctx, invocation{
		Command: m.cfg.Worker.Command,
		Args:    args,
		Dir:     agent.Dir,
		Timeout: time.Duration(m.cfg.Worker.TimeoutSec) * time.Second,
		Agent:   agent.Slug,
	})
}

// Resume looks up the stored external id for a conversation and sends text
// into it. Missing conversations get a fresh session.
func (m *Manager) Resume(ctx context.Context, conversationID, text string) (Reply, error) {
	sess, err := m.store.GetSession(conversationID)
	if err != nil {
		return Reply{}, err
	}
	return m.Send(ctx, Request{
		Agent:          sess.Agent,
		ConversationID: conversationID,
		Channel:        sess.Channel,
		Prompt:         text,
	})
}

// End marks a conversation terminated and drops its resume mapping. The
// session row stays for inspection; the next send starts a fresh session.
func (m *Manager) End(conversationID string) error {
	lock := m.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.GetSession(conversationID)
	if err != nil {
		return err
	}
	if err := m.sessions.Delete(conversationID); err != nil {
		return err
	}
	return m.store.TouchSession(conversationID, store.SessionTerminated, sess.Turns)
}

// Delete removes a conversation entirely: its session row and its resume
// mapping.
func (m *Manager) Delete(conversationID string) error {
	lock := m.convLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.sessions.Delete(conversationID); err != nil {
		return err
	}
	return m.store.DeleteSession(conversationID)
}

// Status returns the stored session row for a conversation.
func (m *Manager) Status(conversationID string) (store.Session, error) {
	return m.store.GetSession(conversationID)
}

// List returns stored sessions, optionally filtered by agent.
func (m *Manager) List(agent string) ([]store.Session, error) {
	return m.store.ListSessions(agent)
}
