package config

import (
	"fmt"
	"sort"
)

// Tool presets. A preset expands to the worker CLI's --allowed-tools list;
// tool-server tools are granted with a `mcp__<server>__*` wildcard per
// enabled server.
const (
	PresetNone      = "none"
	PresetCoding    = "coding"
	PresetMessaging = "messaging"
	PresetFull      = "full"
	PresetCustom    = "custom"
)

var codingTools = []string{
	"Bash", "Edit", "Glob", "Grep", "Read", "Write",
}

var messagingTools = []string{
	"Read",
}

// ValidPreset reports whether name is a known preset.
func ValidPreset(name string) bool {
	switch name {
	case "", PresetNone, PresetCoding, PresetMessaging, PresetFull, PresetCustom:
		return true
	}
	return false
}

// ResolveTools expands an agent's preset into the concrete allowed-tool list.
// servers is the agent's enabled tool-server set; each contributes an
// `mcp__<name>__*` entry except under preset "none".
func ResolveTools(agent AgentConfig, servers []string) []string {
	preset := agent.ToolPreset
	if preset == "" {
		preset = PresetNone
	}

	var tools []string
	switch preset {
	case PresetNone:
		return nil
	case PresetCoding:
		tools = append(tools, codingTools...)
	case PresetMessaging:
		tools = append(tools, messagingTools...)
	case PresetFull:
		tools = append(tools, codingTools...)
		tools = append(tools, "WebFetch", "WebSearch")
	case PresetCustom:
		tools = append(tools, agent.Tools...)
	}

	for _, s := range servers {
		tools = append(tools, fmt.Sprintf("mcp__%s__*", s))
	}
	sort.Strings(tools)
	return dedupe(tools)
}

func dedupe(in []string) []string {
	out := in[:0]
	var prev string
	for i, s := range in {
		if i > 0 && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out
}
