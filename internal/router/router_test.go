package router

import (
	"testing"

	"github.com/nextlevelbuilder/clawfleet/internal/bus"
	"github.com/nextlevelbuilder/clawfleet/internal/config"
	"github.com/nextlevelbuilder/clawfleet/internal/store"
)

func newTestRouter(t *testing.T, routing config.RoutingConfig, slugs []string) (*Router, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(routing, slugs, st), st
}

func TestMentionBeatsRule(t *testing.T) {
	r, _ := newTestRouter(t, config.RoutingConfig{
		DefaultAgent: "work",
		Rules:        []config.RouteRule{{Channel: "slack", AgentID: "work"}},
	}, []string{"jarvis", "work"})

	got, err := r.Route(bus.InboundMessage{
		Channel: "slack", UserID: "u1", Text: "@jarvis deploy to prod",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "jarvis" {
		t.Errorf("agent = %q, want jarvis", got.AgentID)
	}
	if got.Text != "deploy to prod" {
		t.Errorf("text = %q, want %q", got.Text, "deploy to prod")
	}
}

func TestMentionCaseInsensitive(t *testing.T) {
	r, _ := newTestRouter(t, config.RoutingConfig{DefaultAgent: "work"}, []string{"jarvis", "work"})
	got, err := r.Route(bus.InboundMessage{Channel: "slack", UserID: "u1", Text: "@Jarvis hello"})
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "jarvis" || got.Text != "hello" {
		t.Errorf("route = %+v", got)
	}
}

func TestUnknownMentionFallsThrough(t *testing.T) {
	r, _ := newTestRouter(t, config.RoutingConfig{DefaultAgent: "work"}, []string{"work"})
	got, err := r.Route(bus.InboundMessage{Channel: "slack", UserID: "u1", Text: "@nobody hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "work" {
		t.Errorf("agent = %q", got.AgentID)
	}
	if got.Text != "@nobody hi" {
		t.Errorf("unknown mention stripped: %q", got.Text)
	}
}

func TestRuleMatching(t *testing.T) {
	rules := []config.RouteRule{
		{Channel: "telegram", ChannelUserID: "boss", AgentID: "jarvis"},
		{Channel: "telegram", ChatID: "team-chat", AgentID: "scribe"},
		{Channel: "telegram", AgentID: "work"},
	}
	r, _ := newTestRouter(t, config.RoutingConfig{DefaultAgent: "fallback", Rules: rules},
		[]string{"jarvis", "scribe", "work", "fallback"})

	tests := []struct {
		name string
		msg  bus.InboundMessage
		want string
	}{
		{"user rule wins first", bus.InboundMessage{Channel: "telegram", UserID: "boss"}, "jarvis"},
		{"chat rule", bus.InboundMessage{Channel: "telegram", UserID: "u2", ChatID: "team-chat"}, "scribe"},
		{"channel catch-all", bus.InboundMessage{Channel: "telegram", UserID: "u3"}, "work"},
		{"no rule falls to default", bus.InboundMessage{Channel: "discord", UserID: "u3"}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Route(tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if got.AgentID != tt.want {
				t.Errorf("agent = %q, want %q", got.AgentID, tt.want)
			}
		})
	}
}

func TestUserMappingBeforeDefault(t *testing.T) {
	r, st := newTestRouter(t, config.RoutingConfig{DefaultAgent: "work"}, []string{"jarvis", "work"})
	if err := st.UpsertUser("discord", "d-user", "jarvis"); err != nil {
		t.Fatal(err)
	}
	got, err := r.Route(bus.InboundMessage{Channel: "discord", UserID: "d-user", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "jarvis" {
		t.Errorf("agent = %q, want jarvis via user mapping", got.AgentID)
	}
}

func TestSessionKey(t *testing.T) {
	group := SessionKey("slack", "u1", "C42", "jarvis")
	dm := SessionKey("slack", "u1", "", "jarvis")
	if group != "slack:C42:jarvis" {
		t.Errorf("group key = %q", group)
	}
	if dm != "slack:u1:jarvis" {
		t.Errorf("dm key = %q", dm)
	}
	if group == dm {
		t.Error("group and DM keys collide")
	}
}

func TestAddRemoveAgent(t *testing.T) {
	r, _ := newTestRouter(t, config.RoutingConfig{DefaultAgent: "work"}, []string{"work"})

	msg := bus.InboundMessage{Channel: "slack", UserID: "u1", Text: "@newbie hi"}
	if got, _ := r.Route(msg); got.AgentID != "work" {
		t.Errorf("pre-add agent = %q", got.AgentID)
	}

	r.AddAgent("newbie")
	if got, _ := r.Route(msg); got.AgentID != "newbie" {
		t.Errorf("post-add agent = %q", got.AgentID)
	}

	r.RemoveAgent("newbie")
	if got, _ := r.Route(msg); got.AgentID != "work" {
		t.Errorf("post-remove agent = %q", got.AgentID)
	}
}

func TestNoDefaultNoMatchErrors(t *testing.T) {
	r, _ := newTestRouter(t, config.RoutingConfig{}, []string{"work"})
	if _, err := r.Route(bus.InboundMessage{Channel: "slack", UserID: "u1", Text: "hi"}); err == nil {
		t.Error("expected error with no default agent")
	}
}
