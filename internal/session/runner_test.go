package session

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseStream(t *testing.T) {
	input := `{"type":"system","subtype":"init","session_id":"sess-1"}
{"type":"assistant","message":{"content":[{"type":"text","text":"thinking..."}]}}
{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}
not json at all
{"type":"result","result":"final answer","session_id":"sess-1","num_turns":2}
`
	tr := parseStream(bufio.NewScanner(strings.NewReader(input)))

	if tr.SessionID != "sess-1" {
		t.Errorf("session id = %q", tr.SessionID)
	}
	if tr.Text != "final answer" {
		t.Errorf("text = %q", tr.Text)
	}
	if tr.Turns != 2 {
		t.Errorf("turns = %d", tr.Turns)
	}
	if len(tr.ToolCalls) != 1 || tr.ToolCalls[0].Name != "Bash" {
		t.Errorf("tool calls = %+v", tr.ToolCalls)
	}
}

func TestParseStreamWithoutResultFallsBack(t *testing.T) {
	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"best effort"}]}}
`
	tr := parseStream(bufio.NewScanner(strings.NewReader(input)))
	if tr.Text != "best effort" {
		t.Errorf("text = %q", tr.Text)
	}
}

func TestParseStreamEmpty(t *testing.T) {
	tr := parseStream(bufio.NewScanner(strings.NewReader("")))
	if tr.Text != "" || tr.SessionID != "" {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestResumeFailedHeuristics(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"Error: No conversation found with session ID abc", true},
		{"session expired, start a new one", true},
		{"invalid value for --resume", true},
		{"out of memory", false},
		{"", false},
	}
	for _, tt := range tests {
		se := &SpawnError{StderrTail: tt.stderr}
		if got := se.resumeFailed(); got != tt.want {
			t.Errorf("resumeFailed(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestComposePrompt(t *testing.T) {
	got := composePrompt("You are Jarvis.", "- likes go\n", "Prefers short answers.", channelContext("slack", "U1", "C9"))
	for _, want := range []string{"You are Jarvis.", "# Your Long-Term Memory", "- likes go", "# About Your User", "Prefers short answers.", "Channel: slack", "User: U1", "Chat: C9"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}

	if got := composePrompt("soul", "", "", ""); strings.Contains(got, "# About Your User") {
		t.Errorf("empty profile produced a section:\n%s", got)
	}
	if got := composePrompt("", "", "", ""); got != "" {
		t.Errorf("empty inputs produced %q", got)
	}
}

func TestComposePromptTruncatesMemory(t *testing.T) {
	big := strings.Repeat("m", memoryExcerptLimit+500)
	got := composePrompt("soul", big, "", "")
	if !strings.Contains(got, "...(truncated)") {
		t.Error("oversized memory not truncated")
	}
	if len(got) > memoryExcerptLimit+200 {
		t.Errorf("prompt length = %d", len(got))
	}
}
