// Package toolserver composes the per-invocation tool-server manifest the
// worker CLI consumes and optionally probes configured servers at startup.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

// Supervisor builds manifests for the tool servers declared in config.
type Supervisor struct {
	servers  map[string]config.ToolServerConfig
	root     string // data root, exported to servers
	sockPath string // IPC socket path, exported to servers
}

// New creates a Supervisor.
func New(cfg *config.Config, root, sockPath string) *Supervisor {
	return &Supervisor{
		servers:  cfg.MCP.Servers,
		root:     root,
		sockPath: sockPath,
	}
}

// manifest mirrors the CLI's --mcp-config file format.
type manifest struct {
	MCPServers map[string]manifestServer `json:"mcpServers"`
}

type manifestServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// WriteManifest writes a manifest for the agent's enabled servers into dir
// and returns its path. Every server's env carries the agent slug, the data
// root and the IPC socket so servers can call back into the orchestrator.
// Unknown server names are skipped with a warning. No enabled servers means
// no manifest (empty path).
func (s *Supervisor) WriteManifest(agentSlug string, enabled []string, dir string) (string, error) {
	m := manifest{MCPServers: map[string]manifestServer{}}
	for _, name := range enabled {
		srv, ok := s.servers[name]
		if !ok {
			slog.Warn("toolserver.unknown_server", "agent", agentSlug, "server", name)
			continue
		}
		env := map[string]string{
			"CLAWFLEET_AGENT":      agentSlug,
			"CLAWFLEET_HOME":       s.root,
			"CLAWFLEET_IPC_SOCKET": s.sockPath,
		}
		for k, v := range srv.Env {
			env[k] = v
		}
		m.MCPServers[name] = manifestServer{
			Command: srv.Command,
			Args:    srv.Args,
			Env:     env,
		}
	}
	if len(m.MCPServers) == 0 {
		return "", nil
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("mcp-%s.json", agentSlug))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// ProbeAll probes every configured server and logs the outcome. Failures are
// warnings only: a broken server must not keep the daemon from starting.
func (s *Supervisor) ProbeAll(ctx context.Context) {
	for name := range s.servers {
		tools, err := s.Probe(ctx, name)
		if err != nil {
			slog.Warn("toolserver.probe_failed", "server", name, "error", err)
			continue
		}
		slog.Info("toolserver.ready", "server", name, "tools", len(tools))
	}
}

// Probe launches a configured stdio server, initializes the MCP handshake
// and lists its tools. Diagnostics only; callers treat errors as a warning.
func (s *Supervisor) Probe(ctx context.Context, name string) ([]string, error) {
	srv, ok := s.servers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool server %q", name)
	}

	env := make([]string, 0, len(srv.Env)+3)
	env = append(env,
		"CLAWFLEET_HOME="+s.root,
		"CLAWFLEET_IPC_SOCKET="+s.sockPath,
	)
	for k, v := range srv.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(srv.Command, env, srv.Args...)
	if err != nil {
		return nil, fmt.Errorf("start tool server %q: %w", name, err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "clawfleet", Version: "dev"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("initialize tool server %q: %w", name, err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools of %q: %w", name, err)
	}
	names := make([]string, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}
