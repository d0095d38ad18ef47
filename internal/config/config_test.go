package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLAWFLEET_TEST_TOKEN", "s3cret")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"set variable", `{"token":"${CLAWFLEET_TEST_TOKEN}"}`, `{"token":"s3cret"}`},
		{"unset variable", `{"token":"${CLAWFLEET_TEST_UNSET}"}`, `{"token":""}`},
		{"invalid name untouched", `{"v":"${NOT-A-NAME}"}`, `{"v":"${NOT-A-NAME}"}`},
		{"no token", `{"v":"plain"}`, `{"v":"plain"}`},
		{"embedded", `pre ${CLAWFLEET_TEST_TOKEN} post`, `pre s3cret post`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(ExpandEnv([]byte(tt.in)))
			if got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Worker.Command != "claude" {
		t.Errorf("worker command = %q, want claude", cfg.Worker.Command)
	}
}

func TestParseJSON5(t *testing.T) {
	raw := `{
		// comments are allowed
		version: 5,
		agents: {
			dev: { toolPreset: "coding" },
		},
	}`
	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := cfg.Agent("dev"); !ok {
		t.Error("agent dev not parsed")
	}
}

func TestValidateAggregatesAllViolations(t *testing.T) {
	cfg := Default()
	cfg.Version = 3
	cfg.Agents["Bad Slug"] = AgentConfig{ToolPreset: "superuser"}
	cfg.Agents["dev"] = AgentConfig{ToolPreset: PresetCustom}
	cfg.Routing.DefaultAgent = "ghost"
	cfg.Routing.Rules = []RouteRule{{Channel: "", AgentID: "ghost"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	ce, ok := err.(*ConfigError)
	if !ok {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}

	wantPaths := []string{
		"/version",
		"/agents/Bad Slug",
		"/agents/Bad Slug/toolPreset",
		"/agents/dev/tools",
		"/routing/defaultAgent",
		"/routing/rules/0/channel",
		"/routing/rules/0/agentId",
	}
	got := map[string]bool{}
	for _, v := range ce.Violations {
		got[v.Path] = true
	}
	for _, p := range wantPaths {
		if !got[p] {
			t.Errorf("missing violation at %s; have %v", p, ce.Violations)
		}
	}
	if len(ce.Violations) != len(wantPaths) {
		t.Errorf("violations = %d, want %d: %v", len(ce.Violations), len(wantPaths), ce.Violations)
	}
}

func TestValidateHeartbeat(t *testing.T) {
	tests := []struct {
		name     string
		hb       HeartbeatConfig
		wantPath string
	}{
		{"bad mode", HeartbeatConfig{Mode: "loud"}, "/agents/a/heartbeat/mode"},
		{"bad deliverTo", HeartbeatConfig{DeliverTo: "telegram"}, "/agents/a/heartbeat/deliverTo"},
		{"bad start", HeartbeatConfig{ActiveHours: &ActiveHours{Start: "9:00", End: "17:00"}}, "/agents/a/heartbeat/activeHours/start"},
		{"bad timezone", HeartbeatConfig{ActiveHours: &ActiveHours{Start: "09:00", End: "17:00", Timezone: "Mars/Olympus"}}, "/agents/a/heartbeat/activeHours/timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			hb := tt.hb
			cfg.Agents["a"] = AgentConfig{Heartbeat: &hb}
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantPath) {
				t.Errorf("error %q missing path %s", err, tt.wantPath)
			}
		})
	}

	cfg := Default()
	cfg.Agents["a"] = AgentConfig{Heartbeat: &HeartbeatConfig{
		Every: "30m", Mode: "check", DeliverTo: "telegram:123",
		ActiveHours: &ActiveHours{Start: "09:00", End: "17:00", Timezone: "America/New_York"},
	}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid heartbeat rejected: %v", err)
	}
}

func TestResolveTools(t *testing.T) {
	tests := []struct {
		name    string
		agent   AgentConfig
		servers []string
		want    []string
	}{
		{"none drops everything", AgentConfig{ToolPreset: PresetNone}, []string{"fs"}, nil},
		{"empty preset means none", AgentConfig{}, nil, nil},
		{
			"coding with server",
			AgentConfig{ToolPreset: PresetCoding},
			[]string{"github"},
			[]string{"Bash", "Edit", "Glob", "Grep", "Read", "Write", "mcp__github__*"},
		},
		{
			"custom list",
			AgentConfig{ToolPreset: PresetCustom, Tools: []string{"Read", "Bash"}},
			nil,
			[]string{"Bash", "Read"},
		},
		{
			"messaging",
			AgentConfig{ToolPreset: PresetMessaging},
			[]string{"slack", "fs"},
			[]string{"Read", "mcp__fs__*", "mcp__slack__*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTools(tt.agent, tt.servers)
			if len(got) != len(tt.want) {
				t.Fatalf("ResolveTools = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ResolveTools = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("valid expr rejected: %v", err)
	}
	if err := ValidateCronExpr("not cron"); err == nil {
		t.Error("invalid expr accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Agents["dev"] = AgentConfig{Name: "Dev", ToolPreset: PresetCoding}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, ok := loaded.Agent("dev")
	if !ok || a.Name != "Dev" {
		t.Errorf("round trip lost agent: %+v", loaded.Agents)
	}

	entries, _ := os.ReadDir(dir)
	for _, ent := range entries {
		if strings.Contains(ent.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", ent.Name())
		}
	}
}
