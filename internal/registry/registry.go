// Package registry owns the per-agent on-disk layout under
// <root>/agents/<slug>/ and seeds the identity files on first registration.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

// ErrAgentNotFound is returned when a slug has no registered agent.
var ErrAgentNotFound = errors.New("agent not found")

// Identity files seeded for every agent.
const (
	SoulFile      = "SOUL.md"
	MemoryFile    = "MEMORY.md"
	HeartbeatFile = "HEARTBEAT.md"
	ToolsFile     = "TOOLS.md"
	MemoryDir     = "memory"
	versionsDir   = ".versions"
)

// Agent is a registered agent with its on-disk location.
type Agent struct {
	Slug   string
	Dir    string
	Config config.AgentConfig
}

// Registry tracks registered agents and their directories.
type Registry struct {
	mu     sync.RWMutex
	root   string // data root
	agents map[string]*Agent
}

// New creates a Registry rooted at the data root. Call Ensure for each
// configured slug to register it.
func New(root string) *Registry {
	return &Registry{
		root:   root,
		agents: map[string]*Agent{},
	}
}

// AgentsDir returns the directory that holds all agent directories.
func (r *Registry) AgentsDir() string {
	return filepath.Join(r.root, "agents")
}

// Dir returns the directory for a slug without checking registration.
func (r *Registry) Dir(slug string) string {
	return filepath.Join(r.AgentsDir(), slug)
}

// Ensure registers slug, creating its directory and seeding SOUL.md,
// HEARTBEAT.md, MEMORY.md, TOOLS.md and memory/ with defaults when absent.
// Seeding is staged in a temp directory and published with a rename so a
// half-written agent dir is never observed.
func (r *Registry) Ensure(slug string, cfg config.AgentConfig) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.Dir(slug)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := r.seed(slug, dir, cfg); err != nil {
			return nil, fmt.Errorf("seed agent %s: %w", slug, err)
		}
		slog.Info("registry.agent_created", "agent", slug, "dir", dir)
	} else if err != nil {
		return nil, fmt.Errorf("stat agent dir: %w", err)
	} else {
		// Dir exists; fill any file a user may have deleted.
		if err := r.seedMissing(slug, dir, cfg); err != nil {
			return nil, fmt.Errorf("reseed agent %s: %w", slug, err)
		}
	}

	agent := &Agent{Slug: slug, Dir: dir, Config: cfg}
	r.agents[slug] = agent
	return agent, nil
}

// seed builds the whole agent dir in a staging dir and renames it into place.
func (r *Registry) seed(slug, dir string, cfg config.AgentConfig) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	stage, err := os.MkdirTemp(parent, "."+slug+".stage-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	for name, content := range defaultFiles(slug, cfg) {
		if err := os.WriteFile(filepath.Join(stage, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Join(stage, MemoryDir, "archive"), 0o755); err != nil {
		return err
	}
	return os.Rename(stage, dir)
}

func (r *Registry) seedMissing(slug, dir string, cfg config.AgentConfig) error {
	for name, content := range defaultFiles(slug, cfg) {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
		}
	}
	return os.MkdirAll(filepath.Join(dir, MemoryDir, "archive"), 0o755)
}

func defaultFiles(slug string, cfg config.AgentConfig) map[string]string {
	name := cfg.Name
	if name == "" {
		name = slug
	}
	return map[string]string{
		SoulFile: fmt.Sprintf("# %s\n\nYou are %s, a persistent agent. Describe your personality,\nvalues, and working style here.\n", name, name),
		MemoryFile: "# Long-Term Memory\n\nCurated notes that survive across sessions. Facts consolidated from\ndaily logs are appended below.\n",
		HeartbeatFile: "# Heartbeat Checklist\n\n- Review open conversations\n- Check for pending delegations\n",
		ToolsFile: "# Tools Scratchpad\n\nWorkspace notes about tools and their usage.\n",
	}
}

// Get looks up a registered agent. Unknown slugs return ErrAgentNotFound.
func (r *Registry) Get(slug string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, slug)
	}
	return agent, nil
}

// List returns all registered agents, order unspecified.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Slugs returns the registered slugs, order unspecified.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for s := range r.agents {
		out = append(out, s)
	}
	return out
}

// Remove unregisters an agent. On-disk artifacts are kept unless purge is
// set.
func (r *Registry) Remove(slug string, purge bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[slug]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, slug)
	}
	delete(r.agents, slug)
	if purge {
		if err := os.RemoveAll(r.Dir(slug)); err != nil {
			return fmt.Errorf("purge agent dir: %w", err)
		}
	}
	return nil
}

// SaveVersion snapshots the current content of an agent file under
// .versions/<file>/<timestamp>.md. Call before a registry-mediated rewrite.
// Missing files snapshot nothing.
func (r *Registry) SaveVersion(slug, file string) error {
	r.mu.RLock()
	agent, ok := r.agents[slug]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, slug)
	}

	src := filepath.Join(agent.Dir, file)
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	dir := filepath.Join(agent.Dir, versionsDir, file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create versions dir: %w", err)
	}
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000000000")
	dst := filepath.Join(dir, stamp+".md")
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}

// WriteFile rewrites an agent file through the registry, snapshotting the
// previous content first and writing atomically.
func (r *Registry) WriteFile(slug, file string, data []byte) error {
	agent, err := r.Get(slug)
	if err != nil {
		return err
	}
	if err := r.SaveVersion(slug, file); err != nil {
		return err
	}
	return config.WriteFileAtomic(filepath.Join(agent.Dir, file), data, 0o644)
}

// ReadFile reads an agent file; missing files return empty content.
func (r *Registry) ReadFile(slug, file string) ([]byte, error) {
	agent, err := r.Get(slug)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(agent.Dir, file))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}
