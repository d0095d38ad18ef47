package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

var slugRe = regexp.MustCompile(`^[a-z0-9_-]+$`)
var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ConfigError aggregates every violation found in one validation pass. Each
// violation carries the JSON-Pointer path of the offending field.
type ConfigError struct {
	Violations []Violation
}

// Violation is one invalid field.
type Violation struct {
	Path    string // JSON Pointer, e.g. /agents/dev/toolPreset
	Message string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid config (%d problems):", len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  %s: %s", v.Path, v.Message)
	}
	return b.String()
}

func (e *ConfigError) add(path, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the whole config and returns a *ConfigError listing every
// violation, or nil when the config is clean. It never stops at the first
// problem.
func (c *Config) Validate() error {
	e := &ConfigError{}

	if c.Version != CurrentVersion {
		e.add("/version", "unsupported version %d, expected %d", c.Version, CurrentVersion)
	}

	slugs := make([]string, 0, len(c.Agents))
	for slug := range c.Agents {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	for _, slug := range slugs {
		agent := c.Agents[slug]
		base := "/agents/" + slug
		if !slugRe.MatchString(slug) {
			e.add(base, "slug must match [a-z0-9_-]+")
		}
		if !ValidPreset(agent.ToolPreset) {
			e.add(base+"/toolPreset", "unknown preset %q", agent.ToolPreset)
		}
		if agent.ToolPreset == PresetCustom && len(agent.Tools) == 0 {
			e.add(base+"/tools", "preset \"custom\" requires an explicit tools list")
		}
		for i, srv := range agent.ToolServers {
			if _, ok := c.MCP.Servers[srv]; !ok {
				e.add(fmt.Sprintf("%s/toolServers/%d", base, i), "unknown tool server %q", srv)
			}
		}
		if hb := agent.Heartbeat; hb != nil {
			validateHeartbeat(e, base+"/heartbeat", hb)
		}
	}

	if d := c.Routing.DefaultAgent; d != "" {
		if _, ok := c.Agents[d]; !ok {
			e.add("/routing/defaultAgent", "unknown agent %q", d)
		}
	}
	for i, rule := range c.Routing.Rules {
		base := fmt.Sprintf("/routing/rules/%d", i)
		if rule.Channel == "" {
			e.add(base+"/channel", "channel is required")
		}
		if rule.AgentID == "" {
			e.add(base+"/agentId", "agentId is required")
		} else if _, ok := c.Agents[rule.AgentID]; !ok {
			e.add(base+"/agentId", "unknown agent %q", rule.AgentID)
		}
	}

	names := make([]string, 0, len(c.MCP.Servers))
	for name := range c.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		srv := c.MCP.Servers[name]
		if srv.Command == "" {
			e.add("/mcp/servers/"+name+"/command", "command is required")
		}
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "", "grpc", "http":
		default:
			e.add("/telemetry/protocol", "must be \"grpc\" or \"http\", got %q", c.Telemetry.Protocol)
		}
	}

	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

func validateHeartbeat(e *ConfigError, base string, hb *HeartbeatConfig) {
	switch hb.Mode {
	case "", "check", "work":
	default:
		e.add(base+"/mode", "must be \"check\" or \"work\", got %q", hb.Mode)
	}
	if hb.DeliverTo != "" && !strings.Contains(hb.DeliverTo, ":") {
		e.add(base+"/deliverTo", "must be \"channel:target\", got %q", hb.DeliverTo)
	}
	if ah := hb.ActiveHours; ah != nil {
		if !clockRe.MatchString(ah.Start) {
			e.add(base+"/activeHours/start", "must be HH:MM, got %q", ah.Start)
		}
		if !clockRe.MatchString(ah.End) {
			e.add(base+"/activeHours/end", "must be HH:MM, got %q", ah.End)
		}
		if ah.Timezone != "" {
			if _, err := time.LoadLocation(ah.Timezone); err != nil {
				e.add(base+"/activeHours/timezone", "unknown timezone %q", ah.Timezone)
			}
		}
	}
}

// ValidateCronExpr checks a 5-field cron expression via the scheduler's own
// parser, so config validation and runtime agree on the dialect.
func ValidateCronExpr(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}
