package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawfleet/internal/session"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

type fakeSessions struct {
	sent []session.Request
}

func (f *fakeSessions) Send(_ context.Context, req session.Request) (session.Reply, error) {
	f.sent = append(f.sent, req)
	return session.Reply{Text: "pong", SessionID: "s-1"}, nil
}
func (f *fakeSessions) List(agent string) ([]store.Session, error) {
	return []store.Session{{ConversationID: "c1", Agent: "jarvis"}}, nil
}
func (f *fakeSessions) Status(id string) (store.Session, error) {
	if id != "c1" {
		return store.Session{}, errors.New("session not found: " + id)
	}
	return store.Session{ConversationID: "c1", Agent: "jarvis", Status: "active"}, nil
}

type fakeAgents struct{}

func (fakeAgents) Slugs() []string { return []string{"jarvis", "scout"} }

type fakeChannels struct {
	sends   int
	typing  int
	panicky bool
}

func (f *fakeChannels) Send(_ context.Context, channel, to, text, threadID string) error {
	if f.panicky {
		panic("adapter blew up")
	}
	f.sends++
	return nil
}
func (f *fakeChannels) Typing(_ context.Context, channel, to string) error {
	f.typing++
	return nil
}
func (f *fakeChannels) Info(channel string) (map[string]any, error) {
	return map[string]any{"name": channel, "connected": true}, nil
}

func startTestHub(t *testing.T, ch *fakeChannels) *Hub {
	t.Helper()
	root := t.TempDir()
	h := NewHub(root)
	RegisterHandlers(h, &fakeSessions{}, fakeAgents{}, ch)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.Stop)
	return h
}

// call sends one request object, half-closes, and decodes the response.
func call(t *testing.T, sockPath string, req map[string]any) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatal(err)
	}
	conn.(*net.UnixConn).CloseWrite()

	var resp map[string]any
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestUnknownMessageType(t *testing.T) {
	h := startTestHub(t, &fakeChannels{})
	resp := call(t, h.Path(), map[string]any{"type": "bogus.op"})
	if resp["ok"] != false {
		t.Errorf("ok = %v", resp["ok"])
	}
	if resp["error"] != "Unknown IPC message type: bogus.op" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestAgentsList(t *testing.T) {
	h := startTestHub(t, &fakeChannels{})
	resp := call(t, h.Path(), map[string]any{"type": "agents.list"})
	if resp["ok"] != true {
		t.Fatalf("resp = %v", resp)
	}
	agents, _ := resp["agents"].([]any)
	if len(agents) != 2 {
		t.Errorf("agents = %v", resp["agents"])
	}
}

func TestSessionsStatus(t *testing.T) {
	h := startTestHub(t, &fakeChannels{})

	resp := call(t, h.Path(), map[string]any{"type": "sessions.status", "conversationId": "c1"})
	if resp["ok"] != true {
		t.Fatalf("resp = %v", resp)
	}

	resp = call(t, h.Path(), map[string]any{"type": "sessions.status"})
	if resp["ok"] != false {
		t.Error("missing conversationId accepted")
	}

	resp = call(t, h.Path(), map[string]any{"type": "sessions.status", "conversationId": "nope"})
	if resp["ok"] != false {
		t.Error("downstream error not surfaced as ok:false")
	}
}

func TestMessagingSendValidation(t *testing.T) {
	ch := &fakeChannels{}
	h := startTestHub(t, ch)

	resp := call(t, h.Path(), map[string]any{
		"type": "messaging.send", "channel": "slack", "to": "#ops", "text": "hi",
	})
	if resp["ok"] != true {
		t.Fatalf("resp = %v", resp)
	}
	if ch.sends != 1 {
		t.Errorf("sends = %d", ch.sends)
	}

	resp = call(t, h.Path(), map[string]any{"type": "messaging.send", "channel": "slack"})
	if resp["ok"] != false {
		t.Error("incomplete payload accepted")
	}
}

func TestHandlerPanicBecomesError(t *testing.T) {
	h := startTestHub(t, &fakeChannels{panicky: true})
	resp := call(t, h.Path(), map[string]any{
		"type": "messaging.send", "channel": "slack", "to": "#ops", "text": "hi",
	})
	if resp["ok"] != false {
		t.Fatalf("panic did not produce ok:false: %v", resp)
	}
}

func TestStaleSocketCleanupAndShutdown(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "ipc-99999.sock")
	if err := os.WriteFile(stale, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	h := NewHub(root)
	RegisterHandlers(h, &fakeSessions{}, fakeAgents{}, &fakeChannels{})
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale socket not removed at boot")
	}

	h.Stop()
	if _, err := os.Stat(h.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Error("socket not removed on shutdown")
	}
}
