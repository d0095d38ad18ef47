// Package config loads and validates the orchestrator configuration from
// config.json at the data root. `${NAME}` tokens are expanded from the
// environment before parsing; validation reports every violation with a
// JSON-Pointer path.
package config

import (
	"os"
	"path/filepath"
)

// CurrentVersion is the config schema version this build understands.
const CurrentVersion = 5

// Config is the root configuration.
type Config struct {
	Version   int                    `json:"version"`
	Agents    map[string]AgentConfig `json:"agents,omitempty"`
	Channels  ChannelsConfig         `json:"channels,omitempty"`
	Gateway   GatewayConfig          `json:"gateway,omitempty"`
	Routing   RoutingConfig          `json:"routing,omitempty"`
	MCP       MCPConfig              `json:"mcp,omitempty"`
	Skills    []string               `json:"skills,omitempty"`
	Browser   BrowserConfig          `json:"browser,omitempty"`
	Backup    BackupConfig           `json:"backup,omitempty"`
	Worker    WorkerConfig           `json:"worker,omitempty"`
	Memory    MemoryConfig           `json:"memory,omitempty"`
	Telemetry TelemetryConfig        `json:"telemetry,omitempty"`
}

// AgentConfig is the declared configuration for one agent slug.
type AgentConfig struct {
	Name        string   `json:"name,omitempty"`        // display name
	Model       string   `json:"model,omitempty"`       // model label passed to the worker CLI
	ToolPreset  string   `json:"toolPreset,omitempty"`  // none|coding|messaging|full|custom
	Tools       []string `json:"tools,omitempty"`       // explicit list, used by preset "custom"
	ToolServers []string `json:"toolServers,omitempty"` // enabled tool-server names
	Skills      []string `json:"skills,omitempty"`

	Heartbeat          *HeartbeatConfig `json:"heartbeat,omitempty"`
	ReflectionInterval string           `json:"reflectionInterval,omitempty"` // e.g. "daily"
	MaxTurns           int              `json:"maxTurns,omitempty"`           // max autonomous turns per invocation

	Notify NotifyConfig `json:"notify,omitempty"`
	Admin  bool         `json:"admin,omitempty"` // may manage other agents via IPC
}

// HeartbeatConfig configures the periodic self-review cycle of one agent.
type HeartbeatConfig struct {
	Every       string       `json:"every,omitempty"` // "5m","15m","30m","1h","4h","daily","Nm","Nh"
	Mode        string       `json:"mode,omitempty"`  // "check" (default) or "work"
	ActiveHours *ActiveHours `json:"activeHours,omitempty"`
	DeliverTo   string       `json:"deliverTo,omitempty"` // "channel:target"
	SuppressOK  bool         `json:"suppressOk,omitempty"`
}

// ActiveHours restricts heartbeat ticks to a clock window. Start and End are
// "HH:MM" on a 24-hour 00-23 clock; windows that span midnight (start > end)
// are not supported and behave as always-active.
type ActiveHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"` // IANA name; default UTC
}

// NotifyConfig holds per-agent notification preferences.
type NotifyConfig struct {
	OnTaskComplete bool `json:"onTaskComplete,omitempty"`
	OnBlocked      bool `json:"onBlocked,omitempty"`
}

// ChannelsConfig enables and configures channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	WebChat  WebChatConfig  `json:"webchat,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
}

// SlackConfig configures the Slack Socket Mode adapter.
type SlackConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	BotToken string `json:"botToken,omitempty"`
	AppToken string `json:"appToken,omitempty"`
}

// WebChatConfig configures the local WebSocket chat adapter.
type WebChatConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Listen  string `json:"listen,omitempty"` // host:port, default 127.0.0.1:18791
}

// GatewayConfig is consumed by the out-of-scope admin surface; carried so a
// shared config file round-trips.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// RoutingConfig maps inbound messages to agents.
type RoutingConfig struct {
	DefaultAgent string      `json:"defaultAgent,omitempty"`
	Rules        []RouteRule `json:"rules,omitempty"`
}

// RouteRule matches on channel plus optional sender and chat. First match
// wins; order is the declared order.
type RouteRule struct {
	Channel       string `json:"channel"`
	ChannelUserID string `json:"channelUserId,omitempty"`
	ChatID        string `json:"chatId,omitempty"`
	AgentID       string `json:"agentId"`
}

// MCPConfig declares the plug-in tool servers available to agents.
type MCPConfig struct {
	Servers     map[string]ToolServerConfig `json:"servers,omitempty"`
	AutoApprove []string                    `json:"autoApprove,omitempty"`
}

// ToolServerConfig is one external tool-server binary.
type ToolServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// BrowserConfig is consumed by the out-of-scope browser tooling.
type BrowserConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// BackupConfig is consumed by the out-of-scope git backup tool.
type BackupConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Remote   string `json:"remote,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// WorkerConfig describes the external LLM CLI the session manager drives.
type WorkerConfig struct {
	Command    string `json:"command,omitempty"`    // default "claude"
	Model      string `json:"model,omitempty"`      // default model label
	TimeoutSec int    `json:"timeoutSec,omitempty"` // per-invocation wall clock, default 600
}

// MemoryConfig configures the memory engine.
type MemoryConfig struct {
	ChunkSize       int    `json:"chunkSize,omitempty"`       // default 1600
	ChunkOverlap    int    `json:"chunkOverlap,omitempty"`    // default 320
	ArchiveMaxBytes int    `json:"archiveMaxBytes,omitempty"` // MEMORY.md size threshold, default 40960
	EmbeddingModel  string `json:"embeddingModel,omitempty"`  // default "text-embedding-3-small"
	EmbeddingAPIKey string `json:"embeddingApiKey,omitempty"`
	EmbeddingBase   string `json:"embeddingBaseUrl,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// Default returns a Config with defaults applied.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Agents:  map[string]AgentConfig{},
		Worker: WorkerConfig{
			Command:    "claude",
			Model:      "claude-sonnet-4-5",
			TimeoutSec: 600,
		},
		Memory: MemoryConfig{
			ChunkSize:       1600,
			ChunkOverlap:    320,
			ArchiveMaxBytes: 40960,
			EmbeddingModel:  "text-embedding-3-small",
		},
		Channels: ChannelsConfig{
			WebChat: WebChatConfig{Listen: "127.0.0.1:18791"},
		},
	}
}

// DataRoot resolves the on-disk data root: $CLAWFLEET_HOME, or ~/.clawfleet.
func DataRoot() string {
	if v := os.Getenv("CLAWFLEET_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawfleet"
	}
	return filepath.Join(home, ".clawfleet")
}

// Agent returns the configuration for a slug, with ok reporting existence.
func (c *Config) Agent(slug string) (AgentConfig, bool) {
	a, ok := c.Agents[slug]
	return a, ok
}

// AgentSlugs returns all configured slugs.
func (c *Config) AgentSlugs() []string {
	slugs := make([]string, 0, len(c.Agents))
	for s := range c.Agents {
		slugs = append(slugs, s)
	}
	return slugs
}
