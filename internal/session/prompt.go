package session

import (
	"fmt"
	"strings"
)

// memoryExcerptLimit bounds how much of MEMORY.md gets injected per send.
const memoryExcerptLimit = 8000

// composePrompt assembles the effective system prompt: the agent's identity,
// a bounded long-term memory excerpt, the global USER.md profile when one
// exists at the data root, and the channel/user context of the triggering
// message. All parts are read at invocation time.
func composePrompt(soul, memoryContent, userProfile, channelContext string) string {
	var b strings.Builder
	if soul = strings.TrimSpace(soul); soul != "" {
		b.WriteString(soul)
		b.WriteString("\n\n")
	}
	if mem := strings.TrimSpace(memoryContent); mem != "" {
		if len(mem) > memoryExcerptLimit {
			mem = mem[:memoryExcerptLimit] + "\n...(truncated)"
		}
		b.WriteString("# Your Long-Term Memory\n\n")
		b.WriteString(mem)
		b.WriteString("\n\n")
	}
	if profile := strings.TrimSpace(userProfile); profile != "" {
		b.WriteString("# About Your User\n\n")
		b.WriteString(profile)
		b.WriteString("\n\n")
	}
	if ctx := strings.TrimSpace(channelContext); ctx != "" {
		b.WriteString("# Current Context\n\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// channelContext renders the inbound origin for the system prompt.
func channelContext(channel, userID, chatID string) string {
	if channel == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", channel)
	if userID != "" {
		fmt.Fprintf(&b, "User: %s\n", userID)
	}
	if chatID != "" {
		fmt.Fprintf(&b, "Chat: %s\n", chatID)
	}
	return b.String()
}
