package toolserver

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

func testSupervisor() *Supervisor {
	cfg := config.Default()
	cfg.MCP.Servers = map[string]config.ToolServerConfig{
		"memory": {Command: "clawfleet-memory", Args: []string{"--stdio"}, Env: map[string]string{"LOG_LEVEL": "debug"}},
		"github": {Command: "gh-mcp"},
	}
	return New(cfg, "/data/root", "/data/root/ipc-42.sock")
}

func TestWriteManifest(t *testing.T) {
	s := testSupervisor()
	dir := t.TempDir()

	path, err := s.WriteManifest("jarvis", []string{"memory", "ghost"}, dir)
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if path == "" {
		t.Fatal("no manifest written")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}

	if len(m.MCPServers) != 1 {
		t.Fatalf("servers = %v, want only memory (ghost unknown)", m.MCPServers)
	}
	srv := m.MCPServers["memory"]
	if srv.Command != "clawfleet-memory" || len(srv.Args) != 1 {
		t.Errorf("server = %+v", srv)
	}
	for k, want := range map[string]string{
		"CLAWFLEET_AGENT":      "jarvis",
		"CLAWFLEET_HOME":       "/data/root",
		"CLAWFLEET_IPC_SOCKET": "/data/root/ipc-42.sock",
		"LOG_LEVEL":            "debug",
	} {
		if srv.Env[k] != want {
			t.Errorf("env[%s] = %q, want %q", k, srv.Env[k], want)
		}
	}
}

func TestProbeUnknownServer(t *testing.T) {
	s := testSupervisor()
	_, err := s.Probe(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for unconfigured server")
	}
	if !strings.Contains(err.Error(), `unknown tool server "ghost"`) {
		t.Errorf("err = %v", err)
	}
}

func TestWriteManifestNoServers(t *testing.T) {
	s := testSupervisor()
	path, err := s.WriteManifest("jarvis", nil, t.TempDir())
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}
